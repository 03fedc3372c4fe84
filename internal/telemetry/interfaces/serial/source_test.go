package serial

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log"
	"math/rand/v2"
	"net"
	"testing"
	"time"

	telemetry "vehicle-telemetry/internal/telemetry/domain"
)

func TestSimulatedLineParses(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 50; i++ {
		frame := telemetry.NewLatestFrame()
		sample, ok := frame.Merge(telemetry.ParseLine(SimulatedLine(rng)), time.Now())
		if !ok {
			t.Fatalf("simulated line did not parse")
		}
		for _, field := range telemetry.Fields {
			if !sample.Get(field).Present {
				t.Fatalf("simulated line lacks %s", field)
			}
		}
		if rpm := sample.RPM.Value; rpm < 500 || rpm > 7000 {
			t.Fatalf("rpm out of range: %v", rpm)
		}
		if coolant := sample.CoolantTemp.Value; coolant < 18 || coolant > 90 {
			t.Fatalf("coolant out of range: %v", coolant)
		}
	}
}

func TestSimulatorStreamsUntilClosed(t *testing.T) {
	sim := NewSimulator(time.Millisecond, rand.New(rand.NewPCG(3, 4)))
	scanner := bufio.NewScanner(sim)
	for i := 0; i < 3; i++ {
		if !scanner.Scan() {
			t.Fatalf("expected line %d: %v", i, scanner.Err())
		}
	}
	if err := sim.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	for scanner.Scan() {
	}
	_ = sim.Close()
}

func TestOpenerDialsTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		_, _ = io.WriteString(conn, "RPM:1200\n")
		_ = conn.Close()
	}()

	open := NewOpener(Config{Device: "tcp://" + ln.Addr().String(), Logger: log.New(io.Discard, "", 0)})
	stream, err := open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer stream.Close()

	line, err := bufio.NewReader(stream).ReadString('\n')
	if err != nil || line != "RPM:1200\n" {
		t.Fatalf("unexpected line %q err=%v", line, err)
	}
}

func TestOpenerFallsBackToSimulator(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	strict := NewOpener(Config{Logger: logger})
	if _, err := strict(context.Background()); !errors.Is(err, ErrNoDevice) {
		t.Fatalf("expected ErrNoDevice, got %v", err)
	}

	lenient := NewOpener(Config{SimulateFallback: true, SimulateInterval: time.Millisecond, Logger: logger})
	stream, err := lenient(context.Background())
	if err != nil {
		t.Fatalf("expected simulator fallback, got %v", err)
	}
	defer stream.Close()
	if _, ok := stream.(*Simulator); !ok {
		t.Fatalf("expected simulator, got %T", stream)
	}
}
