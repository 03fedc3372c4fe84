// Package serial opens the sensor byte stream: a UART, a tcp:// bridge or
// the built-in simulator.
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"time"
)

var (
	// ErrUnsupportedBaud is returned for baud rates the port cannot set.
	ErrUnsupportedBaud = errors.New("serial: unsupported baud rate")
	// ErrUnsupportedPlatform is returned where tty access is not implemented.
	ErrUnsupportedPlatform = errors.New("serial: tty not supported on this platform")
	// ErrNoDevice is returned when neither a device nor simulation is configured.
	ErrNoDevice = errors.New("serial: no device configured")
)

const tcpScheme = "tcp://"

// Config selects and configures the source.
type Config struct {
	Device   string
	Baud     int
	Simulate bool
	// SimulateFallback serves simulated lines when the device cannot be opened.
	SimulateFallback bool
	SimulateInterval time.Duration
	DialTimeout      time.Duration
	Logger           *log.Logger
}

// NewOpener returns a function that opens the configured source. It matches
// the reader's Opener type.
func NewOpener(cfg Config) func(ctx context.Context) (io.ReadCloser, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	return func(ctx context.Context) (io.ReadCloser, error) {
		if cfg.Simulate {
			return NewSimulator(cfg.SimulateInterval, nil), nil
		}

		stream, err := openDevice(ctx, cfg.Device, cfg.Baud, dialTimeout)
		if err == nil {
			logger.Printf("serial: connected: %s", cfg.Device)
			return stream, nil
		}
		if !cfg.SimulateFallback {
			return nil, err
		}
		logger.Printf("serial: %v; serving simulated telemetry", err)
		return NewSimulator(cfg.SimulateInterval, nil), nil
	}
}

func openDevice(ctx context.Context, device string, baud int, dialTimeout time.Duration) (io.ReadCloser, error) {
	device = strings.TrimSpace(device)
	if device == "" {
		return nil, ErrNoDevice
	}
	if addr, ok := strings.CutPrefix(device, tcpScheme); ok {
		dialer := net.Dialer{Timeout: dialTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("serial: dial %s: %w", addr, err)
		}
		return conn, nil
	}
	return OpenPort(device, baud)
}
