package main

import (
	"bufio"
	"log"
	"math/rand/v2"
	"net"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"vehicle-telemetry/internal/telemetry/interfaces/serial"
)

// fakeSensor serves simulated telemetry lines to every TCP client, the way a
// ser2net bridge exposes a UART.
type fakeSensor struct {
	interval    time.Duration
	garbageRate float64
	clients     int64
}

func main() {
	addr := getenvDefault("FAKE_SENSOR_ADDR", ":7000")
	intervalMs := getenvIntDefault("FAKE_SENSOR_INTERVAL_MS", 200)
	garbageRate := getenvFloatDefault("FAKE_SENSOR_GARBAGE_RATE", 0)

	srv := &fakeSensor{
		interval:    time.Duration(intervalMs) * time.Millisecond,
		garbageRate: garbageRate,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("fake sensor listening on %s (interval=%s)", addr, srv.interval)
	for {
		conn, err := listener.Accept()
		if err != nil {
			log.Printf("accept error: %v", err)
			continue
		}
		go srv.serve(conn)
	}
}

func (s *fakeSensor) serve(conn net.Conn) {
	defer conn.Close()
	count := atomic.AddInt64(&s.clients, 1)
	defer atomic.AddInt64(&s.clients, -1)
	log.Printf("client %s connected (%d active)", conn.RemoteAddr(), count)

	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	writer := bufio.NewWriter(conn)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for range ticker.C {
		line := serial.SimulatedLine(rng)
		if s.garbageRate > 0 && rng.Float64() < s.garbageRate {
			// a segment without a colon, dropped by the parser
			line += ",GARBAGE"
		}
		if _, err := writer.WriteString(line + "\r\n"); err != nil {
			break
		}
		if err := writer.Flush(); err != nil {
			break
		}
	}
	log.Printf("client %s disconnected", conn.RemoteAddr())
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
