package application

import (
	"context"
	"errors"
	"log"
	"time"

	"vehicle-telemetry/internal/observability/metrics"
	telemetry "vehicle-telemetry/internal/telemetry/domain"
)

const defaultLogWriteTimeout = 5 * time.Second

// LogRecorder periodically writes the latest frame as a raw log row.
type LogRecorder struct {
	frame        *telemetry.LatestFrame
	repo         telemetry.LogRepository
	vehicleID    int64
	interval     time.Duration
	writeTimeout time.Duration
	clock        Clock
	logger       *log.Logger
}

// ErrNilLogRepository is returned when the recorder has no storage.
var ErrNilLogRepository = errors.New("telemetry log recorder: nil repository")

// NewLogRecorder constructs a recorder.
func NewLogRecorder(frame *telemetry.LatestFrame, repo telemetry.LogRepository, vehicleID int64, interval, writeTimeout time.Duration, clock Clock, logger *log.Logger) (*LogRecorder, error) {
	if frame == nil {
		return nil, telemetry.ErrNilFrame
	}
	if repo == nil {
		return nil, ErrNilLogRepository
	}
	if interval <= 0 {
		return nil, errors.New("telemetry log recorder: interval must be positive")
	}
	if writeTimeout <= 0 {
		writeTimeout = defaultLogWriteTimeout
	}
	if clock == nil {
		clock = systemClock{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &LogRecorder{
		frame:        frame,
		repo:         repo,
		vehicleID:    vehicleID,
		interval:     interval,
		writeTimeout: writeTimeout,
		clock:        clock,
		logger:       logger,
	}, nil
}

// Run records on every interval until ctx is done.
func (r *LogRecorder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = r.RecordOnce(ctx)
		}
	}
}

// RecordOnce writes one row if the frame has ever received data.
func (r *LogRecorder) RecordOnce(ctx context.Context) (bool, error) {
	frame := r.frame.Snapshot()
	if !frame.Connected {
		return false, nil
	}
	entry := telemetry.LogEntryFromFrame(r.vehicleID, frame, r.clock.Now())

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.writeTimeout)
	defer cancel()
	if err := r.repo.InsertLog(writeCtx, entry); err != nil {
		r.logger.Printf("telemetry log recorder: insert error: %v", err)
		metrics.IncLogbookWrite(metrics.ResultError)
		return false, err
	}
	metrics.IncLogbookWrite(metrics.ResultSuccess)
	return true, nil
}
