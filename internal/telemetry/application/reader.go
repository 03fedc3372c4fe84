package application

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log"
	"time"

	"vehicle-telemetry/internal/observability/metrics"
)

const (
	defaultRetryInterval = 2 * time.Second
	maxLineBytes         = 64 * 1024
)

// Opener opens the sensor byte stream.
type Opener func(ctx context.Context) (io.ReadCloser, error)

// LineHandler consumes one line without its terminator.
type LineHandler interface {
	HandleLine(line string) bool
}

// Reader keeps a sensor stream open and feeds its lines to a handler.
// Open and read failures are logged and retried after the retry interval;
// they never stop the reader.
type Reader struct {
	open    Opener
	handler LineHandler
	retry   time.Duration
	logger  *log.Logger
}

// ErrNilOpener is returned when the reader has no source.
var ErrNilOpener = errors.New("telemetry reader: nil opener")

// ErrNilHandler is returned when the reader has no line handler.
var ErrNilHandler = errors.New("telemetry reader: nil handler")

// NewReader constructs a reader.
func NewReader(open Opener, handler LineHandler, retry time.Duration, logger *log.Logger) (*Reader, error) {
	if open == nil {
		return nil, ErrNilOpener
	}
	if handler == nil {
		return nil, ErrNilHandler
	}
	if retry <= 0 {
		retry = defaultRetryInterval
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Reader{open: open, handler: handler, retry: retry, logger: logger}, nil
}

// Run reads until ctx is done.
func (r *Reader) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		stream, err := r.open(ctx)
		if err != nil {
			r.logger.Printf("telemetry reader: open error: %v", err)
			metrics.IncSourceError("open")
		} else {
			metrics.SetSourceOpen(true)
			if err := r.consume(ctx, stream); err != nil {
				r.logger.Printf("telemetry reader: read error: %v", err)
				metrics.IncSourceError("read")
			} else if ctx.Err() == nil {
				r.logger.Printf("telemetry reader: source closed, reconnecting")
				metrics.IncSourceError("eof")
			}
			metrics.SetSourceOpen(false)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(r.retry):
		}
	}
}

// consume scans lines until EOF, a read error or cancellation. The stream is
// closed on return; closing it also unblocks a pending read on cancel.
func (r *Reader) consume(ctx context.Context, stream io.ReadCloser) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		_ = stream.Close()
	}()

	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)
	for scanner.Scan() {
		r.handler.HandleLine(scanner.Text())
	}
	if ctx.Err() != nil {
		return nil
	}
	return scanner.Err()
}
