package motor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/train-motor/internal/pwm"
)

const (
	chA = DefaultChannelA
	chB = DefaultChannelB
)

// newTestController returns a controller that has completed Setup, with the
// fake driver and clock cleared so tests only see their own writes.
func newTestController(t *testing.T, cfg Config) (*Controller, *pwm.FakeDriver, *FakeClock) {
	t.Helper()
	drv := pwm.NewFakeDriver()
	clk := NewFakeClock()
	c := New(cfg, drv, clk)
	if err := c.Setup(); err != nil {
		t.Fatalf("setup: %v", err)
	}
	drv.Reset()
	clk.Reset()
	return c, drv, clk
}

// visited converts the recorded (A, B) write pairs into signed speeds.
func visited(t *testing.T, writes []pwm.Write) []Speed {
	t.Helper()
	if len(writes)%2 != 0 {
		t.Fatalf("expected writes in A/B pairs, got %d writes", len(writes))
	}
	var speeds []Speed
	for i := 0; i < len(writes); i += 2 {
		a, b := writes[i], writes[i+1]
		if a.Channel != chA || b.Channel != chB {
			t.Fatalf("pair %d: expected channels (%d, %d), got (%d, %d)", i/2, chA, chB, a.Channel, b.Channel)
		}
		if a.Duty != 0 && b.Duty != 0 {
			t.Fatalf("pair %d: both channels driven (%d, %d)", i/2, a.Duty, b.Duty)
		}
		speeds = append(speeds, Speed(a.Duty)-Speed(b.Duty))
	}
	return speeds
}

func TestNewAppliesDefaults(t *testing.T) {
	c := New(Config{}, pwm.NewFakeDriver(), nil)
	cfg := c.Config()

	if cfg.MaxSpeed != 255 {
		t.Errorf("MaxSpeed: got %d, want 255", cfg.MaxSpeed)
	}
	if cfg.StepDelay != 40*time.Millisecond {
		t.Errorf("StepDelay: got %v, want 40ms", cfg.StepDelay)
	}
	if cfg.BrakeDelay != time.Second {
		t.Errorf("BrakeDelay: got %v, want 1s", cfg.BrakeDelay)
	}
	if cfg.ChannelA != 12 || cfg.ChannelB != 13 {
		t.Errorf("channels: got (%d, %d), want (12, 13)", cfg.ChannelA, cfg.ChannelB)
	}
	if cfg.FrequencyHz != 2000 || cfg.ResolutionBits != 8 {
		t.Errorf("pwm: got %dHz/%d bits, want 2000Hz/8 bits", cfg.FrequencyHz, cfg.ResolutionBits)
	}
	if c.CurrentSpeed() != 0 {
		t.Errorf("new controller speed: got %d, want 0", c.CurrentSpeed())
	}
	if c.CurrentDirection() != DirectionStopped {
		t.Errorf("new controller direction: got %s, want STOPPED", c.CurrentDirection())
	}
}

func TestSetupAttachesAndStops(t *testing.T) {
	drv := pwm.NewFakeDriver()
	clk := NewFakeClock()
	c := New(Config{}, drv, clk)

	if err := c.Setup(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(drv.Attached) != 2 {
		t.Fatalf("expected 2 attached channels, got %d", len(drv.Attached))
	}
	if drv.Attached[chA] != 255 || drv.Attached[chB] != 255 {
		t.Errorf("expected 8-bit channels, got %v", drv.Attached)
	}

	want := []pwm.Write{{Channel: chA, Duty: 0}, {Channel: chB, Duty: 0}}
	got := drv.History()
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("setup writes: got %+v, want %+v", got, want)
	}
	if len(clk.Sleeps) != 1 || clk.Sleeps[0] != DefaultBrakeDelay {
		t.Errorf("setup sleeps: got %v, want [1s]", clk.Sleeps)
	}
}

func TestSetupAttachError(t *testing.T) {
	drv := pwm.NewFakeDriver()
	drv.AttachError = errors.New("no such pin")
	c := New(Config{}, drv, NewFakeClock())

	err := c.Setup()
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, drv.AttachError) {
		t.Errorf("expected wrapped attach error, got %v", err)
	}
	if len(drv.Writes) != 0 {
		t.Errorf("no writes expected after attach failure, got %d", len(drv.Writes))
	}
}

func TestRampFromRest(t *testing.T) {
	c, drv, clk := newTestController(t, Config{})

	if err := c.SetTarget(context.Background(), 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	speeds := visited(t, drv.History())
	if len(speeds) != 101 {
		t.Fatalf("expected 100 steps plus final write, got %d writes pairs", len(speeds))
	}
	for i := 0; i < 100; i++ {
		if speeds[i] != i+1 {
			t.Fatalf("step %d: got speed %d, want %d", i, speeds[i], i+1)
		}
	}
	if speeds[100] != 100 {
		t.Errorf("final write: got %d, want 100", speeds[100])
	}

	if n := clk.Count(DefaultStepDelay); n != 100 {
		t.Errorf("step sleeps: got %d, want 100", n)
	}
	if n := clk.Count(DefaultBrakeDelay); n != 0 {
		t.Errorf("brake sleeps: got %d, want 0", n)
	}
	if c.CurrentSpeed() != 100 {
		t.Errorf("speed: got %d, want 100", c.CurrentSpeed())
	}
	if c.CurrentDirection() != DirectionForward {
		t.Errorf("direction: got %s, want FORWARD", c.CurrentDirection())
	}
}

func TestReverseBrakesAtZero(t *testing.T) {
	c, drv, clk := newTestController(t, Config{})
	if err := c.SetTarget(context.Background(), 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	drv.Reset()
	clk.Reset()

	type brakeObs struct {
		speed  Speed
		dutyA  uint32
		dutyB  uint32
		writes int
	}
	var brakes []brakeObs
	clk.OnSleep = func(d time.Duration) {
		if d == DefaultBrakeDelay {
			brakes = append(brakes, brakeObs{c.CurrentSpeed(), drv.Duty(chA), drv.Duty(chB), len(drv.History())})
		}
	}

	if err := c.SetTarget(context.Background(), -50); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(brakes) != 1 {
		t.Fatalf("expected exactly 1 brake pause, got %d", len(brakes))
	}
	b := brakes[0]
	if b.speed != 0 || b.dutyA != 0 || b.dutyB != 0 {
		t.Errorf("during brake: speed=%d A=%d B=%d, want all 0", b.speed, b.dutyA, b.dutyB)
	}
	// 100 ramp-down pairs plus the stop pair precede the brake.
	if b.writes != 2*100+2 {
		t.Errorf("writes before brake: got %d, want %d", b.writes, 2*100+2)
	}

	speeds := visited(t, drv.History())
	// 100 down, stop pair, 50 reversed steps, final write.
	if len(speeds) != 100+1+50+1 {
		t.Fatalf("expected %d write pairs, got %d", 100+1+50+1, len(speeds))
	}
	for i := 0; i < 100; i++ {
		if speeds[i] != 99-i {
			t.Fatalf("ramp-down step %d: got %d, want %d", i, speeds[i], 99-i)
		}
	}
	if speeds[100] != 0 {
		t.Errorf("stop pair: got %d, want 0", speeds[100])
	}
	for i := 0; i < 50; i++ {
		if speeds[101+i] != -(i + 1) {
			t.Fatalf("reverse step %d: got %d, want %d", i, speeds[101+i], -(i + 1))
		}
	}

	for _, w := range drv.History()[2*101:] {
		if w.Channel == chA && w.Duty != 0 {
			t.Fatalf("channel A driven during reverse ramp: %+v", w)
		}
	}

	if n := clk.Count(DefaultStepDelay); n != 150 {
		t.Errorf("step sleeps: got %d, want 150", n)
	}
	if c.CurrentSpeed() != -50 {
		t.Errorf("speed: got %d, want -50", c.CurrentSpeed())
	}
	if c.CurrentDirection() != DirectionReverse {
		t.Errorf("direction: got %s, want REVERSE", c.CurrentDirection())
	}
}

func TestReverseFromNegative(t *testing.T) {
	c, drv, clk := newTestController(t, Config{})
	c.SetTarget(context.Background(), -3)
	drv.Reset()
	clk.Reset()

	if err := c.SetTarget(context.Background(), 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []Speed{-2, -1, 0, 0, 1, 2, 2}
	got := visited(t, drv.History())
	if len(got) != len(want) {
		t.Fatalf("speeds: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("speeds: got %v, want %v", got, want)
		}
	}
	if clk.Count(DefaultBrakeDelay) != 1 {
		t.Errorf("expected 1 brake pause, got %d", clk.Count(DefaultBrakeDelay))
	}
}

func TestNoBrakeWhenTargetIsZero(t *testing.T) {
	c, _, clk := newTestController(t, Config{})
	c.SetTarget(context.Background(), 5)
	clk.Reset()

	if err := c.SetTarget(context.Background(), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clk.Count(DefaultBrakeDelay) != 0 {
		t.Error("ramping down to zero is not a reversal and must not brake")
	}
	if clk.Count(DefaultStepDelay) != 5 {
		t.Errorf("step sleeps: got %d, want 5", clk.Count(DefaultStepDelay))
	}
}

func TestSameDirectionDecelerates(t *testing.T) {
	c, drv, clk := newTestController(t, Config{})
	c.SetTarget(context.Background(), 10)
	drv.Reset()
	clk.Reset()

	if err := c.SetTarget(context.Background(), 7); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Speed{9, 8, 7, 7}
	got := visited(t, drv.History())
	if len(got) != len(want) {
		t.Fatalf("speeds: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("speeds: got %v, want %v", got, want)
		}
	}
	if clk.Count(DefaultBrakeDelay) != 0 {
		t.Error("unexpected brake pause")
	}
}

func TestClamping(t *testing.T) {
	tests := []struct {
		requested Speed
		want      Speed
	}{
		{9999, 255},
		{256, 255},
		{255, 255},
		{0, 0},
		{-255, -255},
		{-9999, -255},
	}

	for _, tt := range tests {
		c, drv, _ := newTestController(t, Config{})
		if err := c.SetTarget(context.Background(), tt.requested); err != nil {
			t.Fatalf("SetTarget(%d): unexpected error: %v", tt.requested, err)
		}
		if c.CurrentSpeed() != tt.want {
			t.Errorf("SetTarget(%d): speed %d, want %d", tt.requested, c.CurrentSpeed(), tt.want)
		}
		if c.Target() != tt.want {
			t.Errorf("SetTarget(%d): target %d, want %d", tt.requested, c.Target(), tt.want)
		}
		for _, w := range drv.History() {
			if w.Duty > 255 {
				t.Fatalf("SetTarget(%d): wrote duty %d beyond MaxSpeed", tt.requested, w.Duty)
			}
		}
	}
}

func TestClampingCustomMax(t *testing.T) {
	c, _, clk := newTestController(t, Config{MaxSpeed: 20})

	if err := c.SetTarget(context.Background(), 9999); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.CurrentSpeed() != 20 {
		t.Errorf("speed: got %d, want 20", c.CurrentSpeed())
	}
	if clk.Count(DefaultStepDelay) != 20 {
		t.Errorf("expected 20 steps, got %d", clk.Count(DefaultStepDelay))
	}
}

func TestSetTargetAlreadyReachedWritesOnce(t *testing.T) {
	c, drv, clk := newTestController(t, Config{})
	c.SetTarget(context.Background(), 3)
	drv.Reset()
	clk.Reset()

	if err := c.SetTarget(context.Background(), 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := drv.History()
	want := []pwm.Write{{Channel: chA, Duty: 3}, {Channel: chB, Duty: 0}}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("writes: got %+v, want %+v", got, want)
	}
	if len(clk.Sleeps) != 0 {
		t.Errorf("no-op ramp should not sleep, got %v", clk.Sleeps)
	}
}

func TestStopFromSpeed(t *testing.T) {
	c, drv, clk := newTestController(t, Config{})
	c.SetTarget(context.Background(), 200)
	drv.Reset()
	clk.Reset()

	if err := c.Stop(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := drv.History()
	want := []pwm.Write{{Channel: chA, Duty: 0}, {Channel: chB, Duty: 0}}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("stop writes: got %+v, want %+v (no stepped ramp)", got, want)
	}
	if len(clk.Sleeps) != 1 || clk.Sleeps[0] != DefaultBrakeDelay {
		t.Errorf("stop sleeps: got %v, want [1s]", clk.Sleeps)
	}
	if c.CurrentSpeed() != 0 {
		t.Errorf("speed: got %d, want 0", c.CurrentSpeed())
	}
	if c.Target() != 0 {
		t.Errorf("target: got %d, want 0", c.Target())
	}
}

func TestStopTwiceRepeatsSequence(t *testing.T) {
	c, drv, clk := newTestController(t, Config{})

	for i := 0; i < 2; i++ {
		if err := c.Stop(); err != nil {
			t.Fatalf("stop %d: unexpected error: %v", i, err)
		}
		if c.CurrentSpeed() != 0 {
			t.Errorf("stop %d: speed %d, want 0", i, c.CurrentSpeed())
		}
	}

	if len(drv.History()) != 4 {
		t.Errorf("expected 4 zero writes, got %d", len(drv.History()))
	}
	for _, w := range drv.History() {
		if w.Duty != 0 {
			t.Errorf("unexpected non-zero write %+v", w)
		}
	}
	if clk.Count(DefaultBrakeDelay) != 2 {
		t.Errorf("expected 2 brake pauses, got %d", clk.Count(DefaultBrakeDelay))
	}
}

func TestCustomDelays(t *testing.T) {
	cfg := Config{StepDelay: 5 * time.Millisecond, BrakeDelay: 2 * time.Second}
	c, _, clk := newTestController(t, cfg)
	c.SetTarget(context.Background(), 4)
	c.SetTarget(context.Background(), -4)

	if clk.Count(5*time.Millisecond) != 12 {
		t.Errorf("step sleeps: got %d, want 12", clk.Count(5*time.Millisecond))
	}
	if clk.Count(2*time.Second) != 1 {
		t.Errorf("brake sleeps: got %d, want 1", clk.Count(2*time.Second))
	}
	if clk.Total() != 12*5*time.Millisecond+2*time.Second {
		t.Errorf("total: got %v", clk.Total())
	}
}

func TestCancelMidRamp(t *testing.T) {
	c, drv, clk := newTestController(t, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	steps := 0
	clk.OnSleep = func(d time.Duration) {
		steps++
		if steps == 10 {
			cancel()
		}
	}

	var events []Event
	c.OnEvent(func(e Event) { events = append(events, e) })

	err := c.SetTarget(ctx, 100)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if c.CurrentSpeed() != 10 {
		t.Errorf("speed: got %d, want 10", c.CurrentSpeed())
	}
	if drv.Duty(chA) != 10 || drv.Duty(chB) != 0 {
		t.Errorf("outputs: A=%d B=%d, want 10/0", drv.Duty(chA), drv.Duty(chB))
	}
	if c.Ramping() {
		t.Error("Ramping should be false after return")
	}
	if len(events) != 1 || !events[0].Cancelled || events[0].To != 10 || events[0].Target != 100 {
		t.Errorf("expected one cancelled event at 10, got %+v", events)
	}
}

func TestCancelledReversalStillBrakes(t *testing.T) {
	c, _, clk := newTestController(t, Config{})
	c.SetTarget(context.Background(), 50)
	clk.Reset()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clk.OnSleep = func(d time.Duration) {
		if clk.Count(DefaultStepDelay) == 10 {
			cancel()
		}
	}

	if err := c.SetTarget(ctx, -50); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if c.CurrentSpeed() != 40 {
		t.Fatalf("speed after cancel: got %d, want 40", c.CurrentSpeed())
	}
	if clk.Count(DefaultBrakeDelay) != 0 {
		t.Fatal("cancelled before zero: no brake expected yet")
	}

	clk.OnSleep = nil
	if err := c.SetTarget(context.Background(), -5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clk.Count(DefaultBrakeDelay) != 1 {
		t.Errorf("reversal after cancel must brake once, got %d", clk.Count(DefaultBrakeDelay))
	}
	if c.CurrentSpeed() != -5 {
		t.Errorf("speed: got %d, want -5", c.CurrentSpeed())
	}
}

func TestWriteErrorAbortsRamp(t *testing.T) {
	c, drv, _ := newTestController(t, Config{})
	simErr := errors.New("simulated error")
	drv.WriteError = simErr
	drv.FailAfter = 6

	var events []Event
	c.OnEvent(func(e Event) { events = append(events, e) })

	err := c.SetTarget(context.Background(), 100)
	if !errors.Is(err, simErr) {
		t.Fatalf("expected wrapped simulated error, got %v", err)
	}
	if c.CurrentSpeed() != 4 {
		t.Errorf("speed: got %d, want 4 (failed on the fourth step)", c.CurrentSpeed())
	}
	if len(events) != 0 {
		t.Errorf("hardware failure should not emit an event, got %+v", events)
	}
}

func TestStopWriteError(t *testing.T) {
	c, drv, clk := newTestController(t, Config{})
	drv.WriteError = errors.New("simulated error")

	if err := c.Stop(); err == nil {
		t.Fatal("expected error")
	}
	if len(clk.Sleeps) != 0 {
		t.Error("failed stop should not brake")
	}
}

func TestEventsAndCounts(t *testing.T) {
	c, _, _ := newTestController(t, Config{})
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	var events []Event
	c.OnEvent(func(e Event) { events = append(events, e) })

	c.SetTarget(context.Background(), 5)
	c.SetTarget(context.Background(), -5)
	c.Stop()

	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	want := []Event{
		{Timestamp: fixed, Type: EventSpeedSet, From: 0, To: 5, Target: 5},
		{Timestamp: fixed, Type: EventReverse, From: 5, To: -5, Target: -5},
		{Timestamp: fixed, Type: EventStop, From: -5, To: 0, Target: 0},
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d: got %+v, want %+v", i, events[i], want[i])
		}
	}
	if events[1].Direction() != DirectionReverse {
		t.Errorf("event direction: got %s, want REVERSE", events[1].Direction())
	}

	// Setup contributed one stop.
	counts := c.Counts()
	if counts.SpeedSet != 1 || counts.Reverse != 1 || counts.Stop != 2 {
		t.Errorf("counts: got %+v, want {SpeedSet:1 Stop:2 Reverse:1}", counts)
	}
}

func TestAccessorsDuringRamp(t *testing.T) {
	c, _, clk := newTestController(t, Config{})

	var seen []Speed
	clk.OnSleep = func(d time.Duration) {
		if !c.Ramping() {
			t.Error("Ramping should be true during SetTarget")
		}
		if c.Target() != 3 {
			t.Errorf("target during ramp: got %d, want 3", c.Target())
		}
		seen = append(seen, c.CurrentSpeed())
	}

	c.SetTarget(context.Background(), 3)
	if len(seen) != 3 || seen[0] != 1 || seen[1] != 2 || seen[2] != 3 {
		t.Errorf("speeds seen during ramp: got %v, want [1 2 3]", seen)
	}
}

func TestConcurrentCallersAreSerialised(t *testing.T) {
	c, drv, clk := newTestController(t, Config{})

	var wg sync.WaitGroup
	for _, target := range []Speed{60, -60, 30, -10} {
		wg.Add(1)
		go func(s Speed) {
			defer wg.Done()
			if err := c.SetTarget(context.Background(), s); err != nil {
				t.Errorf("SetTarget(%d): %v", s, err)
			}
		}(target)
	}
	wg.Wait()

	speeds := visited(t, drv.History())
	prev := 0
	for i, s := range speeds {
		d := s - prev
		if d > 1 || d < -1 {
			t.Fatalf("pair %d: jumped from %d to %d", i, prev, s)
		}
		prev = s
	}

	// Every sign change must be separated by a stop pair and a brake.
	sign := func(s Speed) int {
		switch {
		case s > 0:
			return 1
		case s < 0:
			return -1
		}
		return 0
	}
	crossings := 0
	last := 0
	for _, s := range speeds {
		if sg := sign(s); sg != 0 {
			if last != 0 && sg != last {
				crossings++
			}
			last = sg
		}
	}
	if got := clk.Count(DefaultBrakeDelay); got != crossings {
		t.Errorf("brakes: got %d, want one per direction change (%d)", got, crossings)
	}
}

func TestDuties(t *testing.T) {
	for v := -300; v <= 300; v++ {
		a, b := Duties(v)
		wantA, wantB := uint32(0), uint32(0)
		if v > 0 {
			wantA = uint32(v)
		}
		if v < 0 {
			wantB = uint32(-v)
		}
		if a != wantA || b != wantB {
			t.Fatalf("Duties(%d): got (%d, %d), want (%d, %d)", v, a, b, wantA, wantB)
		}
	}
}

func TestDirectionOf(t *testing.T) {
	tests := []struct {
		speed Speed
		want  Direction
	}{
		{1, DirectionForward},
		{255, DirectionForward},
		{0, DirectionStopped},
		{-1, DirectionReverse},
	}
	for _, tt := range tests {
		if got := DirectionOf(tt.speed); got != tt.want {
			t.Errorf("DirectionOf(%d): got %s, want %s", tt.speed, got, tt.want)
		}
	}
}
