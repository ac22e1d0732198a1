package source

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"entropy-compare/internal/clock"
	"entropy-compare/internal/validation"

	"github.com/tarm/serial"
)

const (
	probeSampleBytes   = 256
	minDistinctProbe   = 8
	defaultSerialBaud  = 115200
	serialWordBytes    = 4
	serialDeviceLabel  = "USB TRNG"
	serialStuckMessage = "serial RNG appears stuck"

	// maxEmptyReads is how many consecutive zero-byte reads are tolerated.
	// tarm/serial reports an expired read timeout as (0, nil).
	maxEmptyReads = 5
)

// SerialConfig describes the USB TRNG device.
type SerialConfig struct {
	Device      string
	Baud        int
	ReadTimeout time.Duration
}

// Status is a point-in-time health snapshot of a physical source.
type Status struct {
	OK        bool      `json:"ok"`
	Message   string    `json:"message,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// HealthReporter is implemented by sources that track device health.
type HealthReporter interface {
	Health() Status
}

// Serial reads raw bytes from a USB hardware random number generator. At
// most one device read is in flight and every block passes the continuous
// health tests before it is used.
type Serial struct {
	settings
	slot    chan struct{}
	reader  io.Reader
	closer  io.Closer
	device  string
	monitor *validation.HealthMonitor

	statusMu sync.RWMutex
	status   Status
}

// OpenSerial opens the configured device and probes it once.
func OpenSerial(cfg SerialConfig, opts ...Option) (*Serial, error) {
	if cfg.Device == "" {
		return nil, errors.New("source: serial device name is required")
	}
	if cfg.Baud <= 0 {
		cfg.Baud = defaultSerialBaud
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		Size:        8,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("source: open serial device %s: %w", cfg.Device, err)
	}

	s, err := NewSerialFromReader(port, cfg.Device, opts...)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	return s, nil
}

// NewSerialFromReader wraps an already opened device. The initial probe
// rejects disconnected or stuck devices.
func NewSerialFromReader(r io.Reader, device string, opts ...Option) (*Serial, error) {
	if r == nil {
		return nil, errors.New("source: serial reader is nil")
	}
	s := &Serial{
		settings: newSettings(opts),
		slot:     make(chan struct{}, 1),
		reader:   progressReader{r: r, limit: maxEmptyReads},
		device:   device,
		monitor:  validation.NewHealthMonitor(),
	}
	if closer, ok := r.(io.Closer); ok {
		s.closer = closer
	}

	buf := make([]byte, probeSampleBytes)
	if _, err := io.ReadFull(s.reader, buf); err != nil {
		err = fmt.Errorf("source: serial probe read failed: %w", err)
		s.setStatus(false, err.Error())
		return nil, err
	}
	if err := probeSample(buf); err != nil {
		s.setStatus(false, err.Error())
		return nil, fmt.Errorf("source: %w", err)
	}
	s.setStatus(true, "")
	s.logger.Infow("serial: device ready", "device", device)
	return s, nil
}

// Produce reads ceil(length/8) bytes. When ctx ends first the caller returns
// and the device read finishes in the background; later calls wait for it.
func (s *Serial) Produce(ctx context.Context, req Request) (Record, error) {
	if err := validateLength(req.Length); err != nil {
		return Record{}, err
	}

	sw := clock.Start(s.clock)
	data, err := s.read(ctx, byteCount(req.Length))
	if err != nil {
		s.setStatus(false, err.Error())
		return Record{}, Failure("serial TRNG read failed", err, "check the USB device and SERIAL_DEVICE_NAME")
	}
	if err := s.monitor.CheckBlock(data); err != nil {
		s.setStatus(false, err.Error())
		return Record{}, Failure("serial TRNG failed a continuous health test", err, "the device output is suspect; reconnect it and retry")
	}
	s.setStatus(true, "")

	bits := BitsFromBytes(data, req.Length)
	elapsed := sw.ElapsedMS()

	return Record{
		Method:                "Hardware RNG",
		Algorithm:             "USB TRNG raw output",
		Binary:                bits,
		Hex:                   HexOf(bits),
		Length:                req.Length,
		GenerationTimeMS:      elapsed,
		BitsPerMS:             bitsPerMS(req.Length, elapsed),
		Deterministic:         false,
		CryptographicStrength: StrengthStrong,
		Source:                serialDeviceLabel + " (" + s.device + ")",
		Backend:               BackendSerial,
	}, nil
}

// Health returns the latest device status.
func (s *Serial) Health() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

// Close releases the device when it implements io.Closer.
func (s *Serial) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

type readResult struct {
	data []byte
	err  error
}

func (s *Serial) read(ctx context.Context, n int) ([]byte, error) {
	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	done := make(chan readResult, 1)
	go func() {
		defer func() { <-s.slot }()
		buf := make([]byte, n)
		_, err := io.ReadFull(s.reader, buf)
		done <- readResult{data: buf, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		return res.data, res.err
	}
}

// progressReader fails with io.ErrNoProgress after limit consecutive
// zero-byte reads, which io.ReadFull would otherwise retry forever.
type progressReader struct {
	r     io.Reader
	limit int
}

func (p progressReader) Read(b []byte) (int, error) {
	for range p.limit {
		n, err := p.r.Read(b)
		if n > 0 || err != nil {
			return n, err
		}
	}
	return 0, io.ErrNoProgress
}

func (s *Serial) setStatus(ok bool, message string) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status = Status{OK: ok, Message: message, CheckedAt: s.clock.Now()}
}

// probeSample rejects samples that are constant, dominated by repeating
// 32-bit words, or drawn from fewer than eight byte values.
func probeSample(buf []byte) error {
	allSame := true
	for i := 1; i < len(buf); i++ {
		if buf[i] != buf[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return errors.New(serialStuckMessage + " (all sampled bytes identical)")
	}

	var prev uint32
	repeats, words := 0, 0
	for i := 0; i+serialWordBytes <= len(buf); i += serialWordBytes {
		w := binary.BigEndian.Uint32(buf[i : i+serialWordBytes])
		if words > 0 && w == prev {
			repeats++
		}
		prev = w
		words++
	}
	if words > 1 && repeats > (words-1)*3/4 {
		return errors.New(serialStuckMessage + " (32-bit words repeating excessively)")
	}

	var seen [256]bool
	distinct := 0
	for _, b := range buf {
		if !seen[b] {
			seen[b] = true
			distinct++
		}
	}
	if distinct < minDistinctProbe {
		return fmt.Errorf("serial RNG sample has too few distinct byte values (%d)", distinct)
	}
	return nil
}
