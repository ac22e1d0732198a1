package api

import (
	"context"
	"errors"
	"net/http"

	"entropy-compare/internal/source"
	"entropy-compare/internal/validation"

	"github.com/gin-gonic/gin"
)

const requestIDKey = "request_id"

// Error kinds not covered by the validation and source taxonomies.
const (
	kindInvalidRequest = "invalid_request"
	kindRateLimited    = "rate_limited"
	kindUnavailable    = "unavailable"
	kindTimeout        = "timeout"
	kindInternal       = "internal"
)

// errorBody is the JSON shape of every failed response.
type errorBody struct {
	Error     string `json:"error"`
	Detail    string `json:"detail,omitempty"`
	Hint      string `json:"hint,omitempty"`
	Kind      string `json:"kind"`
	RequestID string `json:"request_id"`
}

func requestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// classify maps an error to a status code and error body. Structured source
// errors keep their message, detail and hint verbatim.
func classify(err error) (int, errorBody) {
	var srcErr *source.Error
	switch {
	case errors.As(err, &srcErr):
		return http.StatusBadGateway, errorBody{
			Error:  srcErr.Message,
			Detail: srcErr.Detail,
			Hint:   srcErr.Hint,
			Kind:   srcErr.Kind,
		}
	case errors.Is(err, validation.ErrInsufficientLength):
		return http.StatusUnprocessableEntity, errorBody{
			Error:  "insufficient length",
			Detail: err.Error(),
			Hint:   "provide at least 20 bits",
			Kind:   validation.ErrorKind(err),
		}
	case errors.Is(err, validation.ErrInvalidInput):
		return http.StatusBadRequest, errorBody{
			Error:  "invalid input",
			Detail: err.Error(),
			Hint:   "the bit string may only contain '0' and '1'",
			Kind:   validation.ErrorKind(err),
		}
	case errors.Is(err, source.ErrInvalidRequest):
		return http.StatusBadRequest, errorBody{
			Error:  "invalid request",
			Detail: err.Error(),
			Kind:   kindInvalidRequest,
		}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorBody{
			Error:  "generation timed out",
			Detail: err.Error(),
			Hint:   "request fewer bits or shots",
			Kind:   kindTimeout,
		}
	default:
		return http.StatusInternalServerError, errorBody{
			Error:  "internal error",
			Detail: err.Error(),
			Kind:   kindInternal,
		}
	}
}

// fail writes err as a JSON error response and aborts the chain.
func fail(c *gin.Context, err error) {
	status, body := classify(err)
	abortWith(c, status, body)
}

func abortWith(c *gin.Context, status int, body errorBody) {
	body.RequestID = requestID(c)
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, message, detail string) {
	abortWith(c, http.StatusBadRequest, errorBody{Error: message, Detail: detail, Kind: kindInvalidRequest})
}
