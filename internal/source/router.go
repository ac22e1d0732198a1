package source

import (
	"context"
	"fmt"
	"strings"
)

// Hardware backend names accepted by HARDWARE_BACKEND.
const (
	BackendNone    = "none"
	BackendGateway = "gateway"
	BackendTDC     = "tdc"
	BackendSerial  = "serial"
)

// ParseBackend validates a configured hardware backend name. Empty selects
// BackendNone.
func ParseBackend(name string) (string, error) {
	switch backend := strings.ToLower(strings.TrimSpace(name)); backend {
	case "":
		return BackendNone, nil
	case BackendNone, BackendGateway, BackendTDC, BackendSerial:
		return backend, nil
	default:
		return "", fmt.Errorf("unknown hardware backend %q (want none, gateway, tdc or serial)", name)
	}
}

// Router is the external Source. It dispatches each request to the simulator
// or the configured hardware backend according to the request mode.
type Router struct {
	simulator Source
	hardware  Source
	backend   string
}

// NewRouter builds a Router. hardware may be nil, in which case hardware
// mode requests fail with a configuration hint.
func NewRouter(simulator, hardware Source, backend string) *Router {
	if hardware == nil {
		backend = BackendNone
	}
	return &Router{simulator: simulator, hardware: hardware, backend: backend}
}

// Backend reports the configured hardware backend name.
func (r *Router) Backend() string {
	return r.backend
}

// Resolve returns the Source serving mode.
func (r *Router) Resolve(mode string) (Source, error) {
	switch normalized := NormalizeMode(mode); normalized {
	case ModeSimulator:
		if r.simulator == nil {
			return nil, &Error{Kind: KindExternalSourceFailure, Message: "simulator not configured"}
		}
		return r.simulator, nil
	case ModeHardware:
		if r.hardware == nil {
			return nil, &Error{
				Kind:    KindExternalSourceFailure,
				Message: "hardware backend not configured",
				Hint:    "set HARDWARE_BACKEND to gateway, tdc or serial",
			}
		}
		return r.hardware, nil
	default:
		return nil, &Error{
			Kind:    KindExternalSourceFailure,
			Message: "unsupported mode",
			Detail:  fmt.Sprintf("mode %q", mode),
			Hint:    "use simulator or hardware",
		}
	}
}

// Produce resolves req.Mode and delegates.
func (r *Router) Produce(ctx context.Context, req Request) (Record, error) {
	src, err := r.Resolve(req.Mode)
	if err != nil {
		return Record{}, err
	}
	return src.Produce(ctx, req)
}

// Health reports the hardware backend status when it tracks one.
func (r *Router) Health() (Status, bool) {
	if reporter, ok := r.hardware.(HealthReporter); ok {
		return reporter.Health(), true
	}
	return Status{}, false
}
