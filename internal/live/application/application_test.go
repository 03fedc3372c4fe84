package application

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"vehicle-telemetry/internal/analytics/application/events"
	"vehicle-telemetry/internal/analytics/domain/rolling"
	telemetry "vehicle-telemetry/internal/telemetry/domain"
)

type recordingSubscriber struct {
	id string

	mu       sync.Mutex
	payloads [][]byte
	err      error
	closed   bool
}

func (s *recordingSubscriber) ID() string { return s.id }

func (s *recordingSubscriber) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.payloads = append(s.payloads, payload)
	return nil
}

func (s *recordingSubscriber) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *recordingSubscriber) received() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestHubBroadcastIsolatesFailingSubscriber(t *testing.T) {
	hub := NewHub("test", nil)
	a := &recordingSubscriber{id: "a"}
	broken := &recordingSubscriber{id: "broken", err: errors.New("connection reset")}
	c := &recordingSubscriber{id: "c"}
	hub.Register(a)
	hub.Register(broken)
	hub.Register(c)

	if got := hub.Broadcast([]byte(`{"RPM":"1"}`)); got != 2 {
		t.Fatalf("expected 2 deliveries, got %d", got)
	}
	if a.received() != 1 || c.received() != 1 {
		t.Fatalf("healthy subscribers missed the frame: a=%d c=%d", a.received(), c.received())
	}
	if !broken.closed {
		t.Fatalf("expected failing subscriber to be closed")
	}
	if hub.Len() != 2 {
		t.Fatalf("expected failing subscriber removed, len=%d", hub.Len())
	}

	hub.Broadcast([]byte(`{"RPM":"2"}`))
	if a.received() != 2 || c.received() != 2 {
		t.Fatalf("expected second frame delivered to remaining subscribers")
	}
}

func TestHubKeepsSubscriberOnDroppedFrame(t *testing.T) {
	hub := NewHub("test", nil)
	queue := NewQueue("slow", 1)
	hub.Register(queue)

	hub.Broadcast([]byte("one"))
	if got := hub.Broadcast([]byte("two")); got != 0 {
		t.Fatalf("expected full queue to drop, got %d deliveries", got)
	}
	if hub.Len() != 1 {
		t.Fatalf("slow subscriber must stay registered")
	}
	if got := string(<-queue.Frames()); got != "one" {
		t.Fatalf("expected first frame kept, got %q", got)
	}
}

func TestHubUnregisterClosesSubscriber(t *testing.T) {
	hub := NewHub("test", nil)
	sub := &recordingSubscriber{id: "x"}
	hub.Register(sub)
	hub.Unregister("x")
	hub.Unregister("x")
	if !sub.closed || hub.Len() != 0 {
		t.Fatalf("expected subscriber closed and removed")
	}
}

func TestQueueSendAfterClose(t *testing.T) {
	queue := NewQueue("q", 4)
	queue.Close()
	queue.Close()
	if err := queue.Send([]byte("x")); !errors.Is(err, ErrSubscriberClosed) {
		t.Fatalf("expected ErrSubscriberClosed, got %v", err)
	}
}

func TestRenderFrame(t *testing.T) {
	now := time.Date(2026, 3, 1, 14, 5, 9, 0, time.Local)
	frame := telemetry.Frame{
		Values:    map[string]string{"RPM": "3500", "COOLANT": "95°C"},
		Connected: true,
	}
	payload, err := RenderFrame(frame, now)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	var message map[string]any
	if err := json.Unmarshal(payload, &message); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if message["RPM"] != "3500" || message["COOLANT"] != "95°C" {
		t.Fatalf("unexpected values: %v", message)
	}
	if message["connected"] != true {
		t.Fatalf("expected connected true, got %v", message["connected"])
	}
	if message["time"] != "14:05:09" {
		t.Fatalf("unexpected time %v", message["time"])
	}
}

func TestBroadcasterTick(t *testing.T) {
	frame := telemetry.NewLatestFrame()
	hub := NewHub("live", nil)
	clock := fixedClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.Local)}
	b, err := NewBroadcaster(frame, hub, DefaultTick, clock, nil)
	if err != nil {
		t.Fatalf("new broadcaster: %v", err)
	}

	if got := b.Tick(); got != 0 {
		t.Fatalf("expected no work without subscribers")
	}

	sub := &recordingSubscriber{id: "s"}
	hub.Register(sub)
	if got := b.Tick(); got != 1 {
		t.Fatalf("expected one delivery, got %d", got)
	}
	var message map[string]any
	if err := json.Unmarshal(sub.payloads[0], &message); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if message["connected"] != false {
		t.Fatalf("expected disconnected before any data")
	}

	frame.Merge([]telemetry.Pair{{Key: "SPEED", Value: "88"}}, clock.now)
	b.Tick()
	message = nil
	if err := json.Unmarshal(sub.payloads[1], &message); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if message["SPEED"] != "88" || message["connected"] != true {
		t.Fatalf("unexpected message %v", message)
	}
}

func TestNewBroadcasterRejectsTick(t *testing.T) {
	hub := NewHub("live", nil)
	for _, tick := range []time.Duration{0, 10 * time.Millisecond, 60 * time.Millisecond} {
		if _, err := NewBroadcaster(telemetry.NewLatestFrame(), hub, tick, nil, nil); !errors.Is(err, ErrInvalidTick) {
			t.Fatalf("tick %s: expected ErrInvalidTick, got %v", tick, err)
		}
	}
}

func TestBroadcasterRunStopsOnCancel(t *testing.T) {
	hub := NewHub("live", nil)
	b, err := NewBroadcaster(telemetry.NewLatestFrame(), hub, MinTick, nil, nil)
	if err != nil {
		t.Fatalf("new broadcaster: %v", err)
	}
	queue := NewQueue("q", 64)
	hub.Register(queue)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	select {
	case <-queue.Frames():
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a frame from the run loop")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop")
	}
}

func TestAggregateRelay(t *testing.T) {
	hub := NewHub("aggregates", nil)
	sub := &recordingSubscriber{id: "s"}
	hub.Register(sub)
	relay := NewAggregateRelay(hub)

	err := relay.Handle(context.Background(), events.AggregateCommitted{
		VehicleID:  1,
		Window:     rolling.WindowFast,
		RecordedAt: time.Date(2026, 3, 1, 12, 0, 1, 0, time.UTC),
		Values:     rolling.Result{telemetry.FieldRPM: 4000},
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	var message aggregateMessage
	if err := json.Unmarshal(sub.payloads[0], &message); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if message.Status != "committed" || message.Window != "fast" || message.Values["rpm"] != 4000 {
		t.Fatalf("unexpected message %+v", message)
	}

	err = relay.Handle(context.Background(), events.AggregateFailed{
		VehicleID: 1,
		Window:    rolling.WindowSlow,
		AttemptAt: time.Date(2026, 3, 1, 12, 0, 10, 0, time.UTC),
		Reason:    "db down",
	})
	if err != nil {
		t.Fatalf("handle failed event: %v", err)
	}
	var failed aggregateMessage
	if err := json.Unmarshal(sub.payloads[1], &failed); err != nil {
		t.Fatalf("decode failed event: %v", err)
	}
	if failed.Status != "failed" || failed.Window != "slow" || failed.Error != "db down" || len(failed.Values) != 0 {
		t.Fatalf("unexpected failed message %+v", failed)
	}

	if err := relay.Handle(context.Background(), "nope"); err == nil {
		t.Fatalf("expected error for foreign event")
	}
}

func TestFrameSnapshotIsConsistentWhileMerging(t *testing.T) {
	frame := telemetry.NewLatestFrame()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 2000; i++ {
			v := strconv.Itoa(i)
			frame.Merge(telemetry.ParseLine("RPM:"+v+",SPEED:"+v), base.Add(time.Duration(i)*time.Millisecond))
		}
	}()

	mismatches := make(chan string, 1)
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				snapshot := frame.Snapshot()
				if snapshot.Values["RPM"] != snapshot.Values["SPEED"] {
					select {
					case mismatches <- snapshot.Values["RPM"] + "/" + snapshot.Values["SPEED"]:
					default:
					}
					return
				}
				if _, err := RenderFrame(snapshot, base); err != nil {
					select {
					case mismatches <- err.Error():
					default:
					}
					return
				}
			}
		}()
	}
	wg.Wait()
	close(mismatches)
	if got, ok := <-mismatches; ok {
		t.Fatalf("torn frame snapshot: %s", got)
	}
	if got := frame.Snapshot().Values["RPM"]; got != "2000" {
		t.Fatalf("expected final rpm 2000, got %q", got)
	}
}
