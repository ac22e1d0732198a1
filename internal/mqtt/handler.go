package mqtt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"entropy-compare/internal/metrics"

	"go.uber.org/zap"
)

var timeNowMicros = func() int64 {
	return time.Now().UnixMicro()
}

// errZeroTimestamp marks an event without a TDC timestamp.
var errZeroTimestamp = errors.New("zero tdc timestamp")

// Collector receives parsed TDC events for batching.
type Collector interface {
	Add(event TDCEvent)
	IncrementDropped(count uint32)
}

// RxHandler parses MQTT payloads into TDCEvent values and forwards them to
// Collector.
type RxHandler struct {
	Collector Collector
	Logger    *zap.SugaredLogger
}

// TDCEvent is one Time-to-Digital Converter timestamp annotated with the
// reception time.
type TDCEvent struct {
	RpiTimestampUs uint64  `json:"rpi_timestamp_us"`
	Channel        uint32  `json:"channel"`
	TdcTimestampPs uint64  `json:"tdc_timestamp_ps"`
	DeltaPs        *int64  `json:"delta_ps,omitempty"`
	Flags          *uint32 `json:"flags,omitempty"`
}

// OnMessage decodes payload and forwards the event. Payloads are either a
// bare decimal picosecond timestamp or a JSON TDCEvent object. Unparseable
// or zero-timestamp messages count as dropped.
func (handler *RxHandler) OnMessage(topic string, payload []byte) {
	startTime := time.Now()
	metrics.RecordMQTTMessage()

	// Acquisition status is published on ".../meta" and is not an event.
	if isMetaTopic(topic) {
		return
	}

	event, format, err := parsePayload(topic, payload)
	if err != nil {
		reason := "parse_error"
		if errors.Is(err, errZeroTimestamp) {
			reason = "invalid_timestamp"
		}
		metrics.RecordEventDropped(reason)
		handler.log().Debugw("dropping message", "topic", topic, "reason", reason, "error", err)
		if handler.Collector != nil {
			handler.Collector.IncrementDropped(1)
		}
		return
	}

	metrics.RecordEvent(event.Channel)
	metrics.RecordFormatType(format)
	metrics.RecordChannelEvent(event.Channel)

	if handler.Collector != nil {
		handler.Collector.Add(event)
	} else {
		handler.log().Debugw("rx", "topic", topic, "rpi_ts", event.RpiTimestampUs,
			"tdc_ts", event.TdcTimestampPs, "channel", event.Channel)
	}

	metrics.ProcessingLatency.Observe(time.Since(startTime).Seconds())
}

func (handler *RxHandler) log() *zap.SugaredLogger {
	if handler.Logger != nil {
		return handler.Logger
	}
	return zap.S().Named("mqtt")
}

// isMetaTopic reports whether the topic carries non-event metadata.
func isMetaTopic(topic string) bool {
	return strings.HasSuffix(strings.ToLower(strings.TrimSpace(topic)), "/meta")
}

// extractChannelFromTopic parses the trailing numeric topic segment as a
// channel number, or 0 when there is none.
func extractChannelFromTopic(topic string) uint32 {
	parts := strings.Split(topic, "/")
	if ch, err := strconv.ParseUint(parts[len(parts)-1], 10, 32); err == nil {
		return uint32(ch)
	}
	return 0
}

// parsePayload decodes one message and reports its format label.
func parsePayload(topic string, payload []byte) (TDCEvent, string, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		event, err := parseJSONEvent(topic, trimmed)
		return event, "json", err
	}
	event, err := parseRawTimestamp(topic, trimmed)
	return event, "raw_timestamp", err
}

// parseRawTimestamp decodes a single decimal uint64 picosecond timestamp.
func parseRawTimestamp(topic string, payload []byte) (TDCEvent, error) {
	timestamp, err := strconv.ParseUint(strings.TrimSpace(string(payload)), 10, 64)
	if err != nil {
		return TDCEvent{}, err
	}
	if timestamp == 0 {
		return TDCEvent{}, errZeroTimestamp
	}

	return TDCEvent{
		RpiTimestampUs: nowMicrosSafe(),
		Channel:        extractChannelFromTopic(topic),
		TdcTimestampPs: timestamp,
	}, nil
}

// parseJSONEvent decodes a TDCEvent object. Missing channel and reception
// time are filled from the topic and the local clock.
func parseJSONEvent(topic string, payload []byte) (TDCEvent, error) {
	var event TDCEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return TDCEvent{}, fmt.Errorf("decode json event: %w", err)
	}
	if event.TdcTimestampPs == 0 {
		return TDCEvent{}, errZeroTimestamp
	}
	if event.Channel == 0 {
		event.Channel = extractChannelFromTopic(topic)
	}
	if event.RpiTimestampUs == 0 {
		event.RpiTimestampUs = nowMicrosSafe()
	}
	return event, nil
}

// nowMicrosSafe returns the current time in microseconds, clamping negative
// values to zero.
func nowMicrosSafe() uint64 {
	ts := timeNowMicros()
	if ts <= 0 {
		return 0
	}
	return uint64(ts)
}
