package rolling

import (
	"testing"
	"time"

	telemetry "vehicle-telemetry/internal/telemetry/domain"
)

func newTestEngine(t *testing.T) (*Engine, *Buffer) {
	t.Helper()
	buf, err := NewBuffer(10 * time.Second)
	if err != nil {
		t.Fatalf("new buffer: %v", err)
	}
	engine, err := NewEngine(buf, DefaultSpecs()...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine, buf
}

func TestEngineFastMeanOmitsAbsentFields(t *testing.T) {
	engine, buf := newTestEngine(t)
	for i, sample := range []telemetry.Sample{
		{RPM: telemetry.Present(1000)},
		{RPM: telemetry.Present(2000)},
		{Speed: telemetry.Absent},
	} {
		sample.At = base.Add(time.Duration(i+1) * 100 * time.Millisecond)
		buf.Append(sample, sample.At)
	}

	result, err := engine.Compute(WindowFast, base.Add(time.Second))
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if got, ok := result.Get(telemetry.FieldRPM); !ok || got != 1500 {
		t.Fatalf("expected mean rpm 1500, got %v (ok=%v)", got, ok)
	}
	if _, ok := result.Get(telemetry.FieldSpeed); ok {
		t.Fatalf("expected speed omitted, got %+v", result)
	}
}

func TestEngineEmptyBufferYieldsEmptyResult(t *testing.T) {
	engine, _ := newTestEngine(t)
	result, err := engine.Compute(WindowSlow, base)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !result.Empty() {
		t.Fatalf("expected empty result, got %+v", result)
	}
}

func TestEngineWindowGroupAllAbsent(t *testing.T) {
	engine, buf := newTestEngine(t)
	buf.Append(telemetry.Sample{At: base, RPM: telemetry.Present(900)}, base)

	result, err := engine.Compute(WindowSlow, base.Add(time.Second))
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !result.Empty() {
		t.Fatalf("expected empty slow result when no slow field present, got %+v", result)
	}
}

func TestEngineSecondFiringWithoutNewSamplesIsEmpty(t *testing.T) {
	engine, buf := newTestEngine(t)
	buf.Append(telemetry.Sample{At: base, RPM: telemetry.Present(4000)}, base)

	now := base.Add(500 * time.Millisecond)
	first, err := engine.Compute(WindowFast, now)
	if err != nil || first.Empty() {
		t.Fatalf("expected first result, got %+v err=%v", first, err)
	}
	second, err := engine.Compute(WindowFast, now)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !second.Empty() {
		t.Fatalf("expected empty second result, got %+v", second)
	}

	// the slow window has its own cursor
	slowBuf := telemetry.Sample{At: base.Add(time.Second), CoolantTemp: telemetry.Present(90)}
	buf.Append(slowBuf, base.Add(time.Second))
	slow, err := engine.Compute(WindowSlow, base.Add(2*time.Second))
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if got, ok := slow.Get(telemetry.FieldCoolantTemp); !ok || got != 90 {
		t.Fatalf("expected slow coolant 90, got %+v", slow)
	}
}

func TestEngineWindowsUseOwnDuration(t *testing.T) {
	engine, buf := newTestEngine(t)
	buf.Append(telemetry.Sample{At: base, RPM: telemetry.Present(1000), OilTemp: telemetry.Present(80)}, base)
	buf.Append(telemetry.Sample{At: base.Add(5 * time.Second), RPM: telemetry.Present(3000), OilTemp: telemetry.Present(100)}, base.Add(5*time.Second))

	now := base.Add(5500 * time.Millisecond)
	fast, _ := engine.Compute(WindowFast, now)
	if got := fast[telemetry.FieldRPM]; got != 3000 {
		t.Fatalf("expected fast rpm from last second only, got %v", got)
	}
	slow, _ := engine.Compute(WindowSlow, now)
	if got := slow[telemetry.FieldOilTemp]; got != 90 {
		t.Fatalf("expected slow oil temp mean 90, got %v", got)
	}
}

func TestEngineUnknownWindow(t *testing.T) {
	engine, _ := newTestEngine(t)
	if _, err := engine.Compute(Window("hourly"), base); err != ErrUnknownWindow {
		t.Fatalf("expected ErrUnknownWindow, got %v", err)
	}
}

func TestNewEngineValidatesSpecs(t *testing.T) {
	buf, _ := NewBuffer(time.Second)
	if _, err := NewEngine(nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	bad := Spec{Window: WindowFast, Interval: 0, Duration: time.Second, Fields: FastFields}
	if _, err := NewEngine(buf, bad); err != ErrInvalidDuration {
		t.Fatalf("expected ErrInvalidDuration, got %v", err)
	}
	empty := Spec{Window: WindowFast, Interval: time.Second, Duration: time.Second}
	if _, err := NewEngine(buf, empty); err != ErrEmptyFieldGroup {
		t.Fatalf("expected ErrEmptyFieldGroup, got %v", err)
	}
}

func TestTimerDueAndReset(t *testing.T) {
	timer, err := NewTimer(time.Second, base)
	if err != nil {
		t.Fatalf("new timer: %v", err)
	}
	if timer.Due(base.Add(999 * time.Millisecond)) {
		t.Fatalf("timer fired early")
	}
	late := base.Add(1700 * time.Millisecond)
	if !timer.Due(late) {
		t.Fatalf("expected timer due")
	}
	timer.Reset(late)
	if timer.Due(base.Add(2 * time.Second)) {
		t.Fatalf("expected next interval to count from the reset")
	}
	if !timer.Due(late.Add(time.Second)) {
		t.Fatalf("expected timer due one interval after reset")
	}
	if _, err := NewTimer(0, base); err != ErrInvalidDuration {
		t.Fatalf("expected ErrInvalidDuration, got %v", err)
	}
}

func TestHorizon(t *testing.T) {
	if got := Horizon(DefaultSpecs()); got != 10*time.Second {
		t.Fatalf("expected 10s horizon, got %s", got)
	}
}

func TestEngineRecoversAfterClockStepsBack(t *testing.T) {
	engine, buf := newTestEngine(t)
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * 100 * time.Millisecond)
		buf.Append(rpmSample(at, 1000), at)
	}
	if result, _ := engine.Compute(WindowFast, base.Add(time.Second)); result.Empty() {
		t.Fatalf("expected first pass to average samples")
	}

	stepped := base.Add(-time.Hour)
	for i := 0; i < 50; i++ {
		at := stepped.Add(time.Duration(i) * 200 * time.Millisecond)
		buf.Append(rpmSample(at, 3000), at)
	}
	now := stepped.Add(10 * time.Second)
	if buf.Len() > 50 {
		t.Fatalf("expected pre-step samples dropped, got %d retained", buf.Len())
	}
	for _, sample := range buf.SnapshotSince(now, time.Hour) {
		if sample.At.After(now) {
			t.Fatalf("sample at %s is newer than now %s", sample.At, now)
		}
	}

	result, err := engine.Compute(WindowFast, now)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if got, ok := result.Get(telemetry.FieldRPM); !ok || got != 3000 {
		t.Fatalf("expected rpm 3000 after clock step, got %v (ok=%v)", got, ok)
	}
}

func TestTimerDueWhenClockStepsBack(t *testing.T) {
	timer, err := NewTimer(time.Second, base)
	if err != nil {
		t.Fatalf("new timer: %v", err)
	}
	stepped := base.Add(-time.Hour)
	if !timer.Due(stepped) {
		t.Fatalf("expected timer due after clock stepped back")
	}
	timer.Reset(stepped)
	if timer.Due(stepped.Add(500 * time.Millisecond)) {
		t.Fatalf("expected timer idle within interval after reset")
	}
}
