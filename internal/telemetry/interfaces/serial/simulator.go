package serial

import (
	"fmt"
	"io"
	"math/rand/v2"
	"sync"
	"time"
)

const defaultSimulateInterval = 200 * time.Millisecond

// Simulator is an endless stream of plausible telemetry lines. Close ends it.
type Simulator struct {
	reader *io.PipeReader
	writer *io.PipeWriter
	stop   chan struct{}
	once   sync.Once
}

// NewSimulator starts emitting one line per interval. A nil rng uses a
// randomly seeded source.
func NewSimulator(interval time.Duration, rng *rand.Rand) *Simulator {
	if interval <= 0 {
		interval = defaultSimulateInterval
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	reader, writer := io.Pipe()
	s := &Simulator{reader: reader, writer: writer, stop: make(chan struct{})}
	go s.run(interval, rng)
	return s
}

func (s *Simulator) run(interval time.Duration, rng *rand.Rand) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := io.WriteString(s.writer, SimulatedLine(rng)+"\n"); err != nil {
			return
		}
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
	}
}

// Read implements io.Reader.
func (s *Simulator) Read(p []byte) (int, error) { return s.reader.Read(p) }

// Close stops the stream.
func (s *Simulator) Close() error {
	s.once.Do(func() {
		close(s.stop)
		_ = s.writer.Close()
		_ = s.reader.Close()
	})
	return nil
}

// SimulatedLine renders one random wire line.
func SimulatedLine(rng *rand.Rand) string {
	return fmt.Sprintf(
		"RPM:%d,SPEED:%d,COOLANT:%d°C,OIL_TEMP:%d,FUEL:%d,VOLTAGE:%.1f,BOOST:%.2f,OIL_PRESSURE:%.1f",
		500+rng.IntN(6501),
		rng.IntN(256),
		18+rng.IntN(73),
		60+rng.IntN(71),
		rng.IntN(101),
		12.0+rng.Float64()*2.6,
		rng.Float64()*1.5,
		1.0+rng.Float64()*4.0,
	)
}
