// Package logsync pulls raw log rows from a running device and appends them
// to a local JSON file, remembering where the last pull stopped.
package logsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultStateFile holds the last synced timestamp.
	DefaultStateFile = "sync_state.json"
	// DefaultLogsFile holds every pulled log row.
	DefaultLogsFile = "logs_sync.json"

	sincePath      = "/api/logs/since"
	maxResponse    = 64 << 20
	defaultTimeout = 5 * time.Second
)

// ErrBadStatus is returned when the device answers with a non-200 status.
var ErrBadStatus = errors.New("logsync: unexpected status")

// State is the persisted sync position.
type State struct {
	LastTimestamp float64 `json:"last_timestamp"`
	LastSync      string  `json:"last_sync,omitempty"`
}

// Result summarizes one sync.
type Result struct {
	Fetched   int
	Total     int
	Timestamp float64
}

type sinceResponse struct {
	Logs      []json.RawMessage `json:"logs"`
	Timestamp float64           `json:"timestamp"`
	Count     int               `json:"count"`
}

// Config configures a Syncer.
type Config struct {
	BaseURL   string
	Token     string
	StatePath string
	LogsPath  string
	Timeout   time.Duration
	Client    *http.Client
	Logger    *log.Logger
}

// Syncer performs pulls against one device.
type Syncer struct {
	baseURL   string
	token     string
	statePath string
	logsPath  string
	client    *http.Client
	now       func() time.Time
	logger    *log.Logger
}

// NewSyncer validates cfg and builds a Syncer.
func NewSyncer(cfg Config) (*Syncer, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("logsync: base url required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("logsync: base url: %w", err)
	}
	if cfg.StatePath == "" {
		cfg.StatePath = DefaultStateFile
	}
	if cfg.LogsPath == "" {
		cfg.LogsPath = DefaultLogsFile
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Syncer{
		baseURL:   base,
		token:     cfg.Token,
		statePath: cfg.StatePath,
		logsPath:  cfg.LogsPath,
		client:    client,
		now:       time.Now,
		logger:    logger,
	}, nil
}

// Sync pulls rows newer than the stored timestamp, appends them locally and
// advances the stored timestamp.
func (s *Syncer) Sync(ctx context.Context) (Result, error) {
	state, err := LoadState(s.statePath)
	if err != nil {
		return Result{}, err
	}

	resp, err := s.fetch(ctx, state.LastTimestamp)
	if err != nil {
		return Result{}, err
	}

	logs, err := LoadLogs(s.logsPath)
	if err != nil {
		return Result{}, err
	}
	if len(resp.Logs) > 0 {
		logs = append(logs, resp.Logs...)
		if err := writeJSON(s.logsPath, logs); err != nil {
			return Result{}, fmt.Errorf("logsync: save logs: %w", err)
		}
	}
	result := Result{Fetched: len(resp.Logs), Total: len(logs), Timestamp: resp.Timestamp}

	next := State{LastTimestamp: resp.Timestamp, LastSync: s.now().Format(time.RFC3339)}
	if next.LastTimestamp < state.LastTimestamp {
		next.LastTimestamp = state.LastTimestamp
	}
	if err := writeJSON(s.statePath, next); err != nil {
		return result, fmt.Errorf("logsync: save state: %w", err)
	}
	s.logger.Printf("logsync: %d new logs, %d total", result.Fetched, result.Total)
	return result, nil
}

func (s *Syncer) fetch(ctx context.Context, since float64) (sinceResponse, error) {
	query := url.Values{"timestamp": []string{strconv.FormatFloat(since, 'f', -1, 64)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+sincePath+"?"+query.Encode(), nil)
	if err != nil {
		return sinceResponse{}, err
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	httpResp, err := s.client.Do(req)
	if err != nil {
		return sinceResponse{}, fmt.Errorf("logsync: request: %w", err)
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return sinceResponse{}, fmt.Errorf("%w: %d %s", ErrBadStatus, httpResp.StatusCode, strings.TrimSpace(string(body)))
	}
	var resp sinceResponse
	if err := json.NewDecoder(io.LimitReader(httpResp.Body, maxResponse)).Decode(&resp); err != nil {
		return sinceResponse{}, fmt.Errorf("logsync: decode: %w", err)
	}
	return resp, nil
}

// LoadState reads the sync state. A missing file is the zero state.
func LoadState(path string) (State, error) {
	var state State
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return state, nil
	}
	if err != nil {
		return state, fmt.Errorf("logsync: read state: %w", err)
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return state, fmt.Errorf("logsync: parse state: %w", err)
	}
	return state, nil
}

// LoadLogs reads the local log file. A missing file is an empty list.
func LoadLogs(path string) ([]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("logsync: read logs: %w", err)
	}
	var logs []json.RawMessage
	if err := json.Unmarshal(data, &logs); err != nil {
		return nil, fmt.Errorf("logsync: parse logs: %w", err)
	}
	return logs, nil
}

// writeJSON replaces path atomically.
func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
