package httpingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log"
	"mime"
	"net/http"
	"strings"
)

const maxBodyBytes = 1 << 20

// LineHandler consumes one sensor line.
type LineHandler interface {
	HandleLine(line string) bool
}

// IngestHandler accepts sensor lines pushed over HTTP, for bridges that
// cannot hold a serial or TCP stream open.
type IngestHandler struct {
	lines  LineHandler
	logger *log.Logger
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(lines LineHandler, logger *log.Logger) (*IngestHandler, error) {
	if lines == nil {
		return nil, errors.New("telemetry ingest: nil line handler")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &IngestHandler{lines: lines, logger: logger}, nil
}

// ServeHTTP ingests a text/plain body of newline separated lines or a JSON
// body of the form {"lines": ["RPM:900,SPEED:0", ...]}.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Printf("telemetry ingest: read body error: %v", err)
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	lines, err := decodeLines(r.Header.Get("Content-Type"), body)
	if err != nil {
		h.logger.Printf("telemetry ingest: decode error: %v", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	samples := 0
	for _, line := range lines {
		if h.lines.HandleLine(line) {
			samples++
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"lines": len(lines), "samples": samples})
}

type ingestRequest struct {
	Lines []string `json:"lines"`
}

func decodeLines(contentType string, body []byte) ([]string, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "application/json" {
		var req ingestRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, err
		}
		if len(req.Lines) == 0 {
			return nil, errors.New("no lines")
		}
		return req.Lines, nil
	}

	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		if line := scanner.Text(); strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, errors.New("no lines")
	}
	return lines, nil
}
