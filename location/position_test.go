package location

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestDistanceMeters(t *testing.T) {
	// Identity.
	p := Position{Latitude: 51.5007, Longitude: -0.1246}
	if d := distanceMeters(p, p); d != 0 {
		t.Errorf("distance to self = %f", d)
	}

	// Westminster Bridge to the London Eye, roughly 320m.
	a := Position{Latitude: 51.5007, Longitude: -0.1246}
	b := Position{Latitude: 51.5033, Longitude: -0.1196}
	d := distanceMeters(a, b)
	if math.Abs(d-450) > 150 {
		t.Errorf("distance = %f m, expected a few hundred meters", d)
	}

	// One degree of latitude is about 111km.
	c := Position{Latitude: 52.5007, Longitude: -0.1246}
	d = distanceMeters(a, c)
	if math.Abs(d-111000) > 2000 {
		t.Errorf("one degree latitude = %f m, want ~111km", d)
	}
}

type scriptedReader struct {
	mu    sync.Mutex
	fixes []Position
	next  int
	err   error
}

func (r *scriptedReader) read() (Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return Position{}, r.err
	}
	fix := r.fixes[r.next]
	if r.next < len(r.fixes)-1 {
		r.next++
	}
	return fix, nil
}

func TestPolledSourceRequestPermission(t *testing.T) {
	reader := &scriptedReader{fixes: []Position{{Latitude: 1, Longitude: 1}}}
	source := NewPolledSource(reader.read, time.Millisecond, zap.NewNop())

	granted, err := source.RequestPermission(context.Background())
	if err != nil || !granted {
		t.Fatalf("permission = %v, %v; want granted", granted, err)
	}

	reader.err = errors.New("no device")
	denied := NewPolledSource(reader.read, time.Millisecond, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	granted, err = denied.RequestPermission(ctx)
	if err != nil {
		t.Fatalf("a failing reader is a denial, not an error: %v", err)
	}
	if granted {
		t.Fatal("a reader with no device must be treated as denied")
	}
}

// A cold reader has no fix on its first call; the probe must keep sampling
// instead of treating the initial miss as a denial.
func TestRequestPermissionWaitsForFirstFix(t *testing.T) {
	var mu sync.Mutex
	ready := false
	read := func() (Position, error) {
		mu.Lock()
		defer mu.Unlock()
		if !ready {
			return Position{}, errors.New("no position fix yet")
		}
		return Position{Latitude: 51.5, Longitude: 0}, nil
	}
	source := NewPolledSource(read, time.Millisecond, zap.NewNop())

	go func() {
		time.Sleep(30 * time.Millisecond)
		mu.Lock()
		ready = true
		mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	granted, err := source.RequestPermission(ctx)
	if err != nil {
		t.Fatalf("permission probe failed: %v", err)
	}
	if !granted {
		t.Fatal("a fix arriving within the budget must grant permission")
	}
}

func TestPolledSourceDeliversOnDisplacement(t *testing.T) {
	// The device jumps ~111m per fix; with a 10m threshold and an hour-long
	// interval, every sample after the first should be displacement-driven.
	reader := &scriptedReader{fixes: []Position{
		{Latitude: 51.5000, Longitude: 0},
		{Latitude: 51.5010, Longitude: 0},
		{Latitude: 51.5020, Longitude: 0},
	}}
	source := NewPolledSource(reader.read, 5*time.Millisecond, zap.NewNop())

	var mu sync.Mutex
	var delivered []Position
	sub, err := source.Watch(time.Hour, 10, func(p Position) {
		mu.Lock()
		delivered = append(delivered, p)
		mu.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Cancel()

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(delivered)
		mu.Unlock()
		if n >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("delivered %d fixes, want 3", n)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestPolledSourceHoldsStationaryFixes(t *testing.T) {
	// Stationary device, long interval: only the initial fix is delivered.
	reader := &scriptedReader{fixes: []Position{{Latitude: 51.5, Longitude: 0}}}
	source := NewPolledSource(reader.read, 2*time.Millisecond, zap.NewNop())

	var mu sync.Mutex
	count := 0
	sub, err := source.Watch(time.Hour, 10, func(Position) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Cancel()

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	got := count
	mu.Unlock()
	if got != 1 {
		t.Errorf("stationary device delivered %d fixes, want exactly the first", got)
	}
}

func TestPolledSourceDeliversOnInterval(t *testing.T) {
	// Stationary device, short interval: time alone must trigger deliveries.
	reader := &scriptedReader{fixes: []Position{{Latitude: 51.5, Longitude: 0}}}
	source := NewPolledSource(reader.read, 2*time.Millisecond, zap.NewNop())

	var mu sync.Mutex
	count := 0
	sub, err := source.Watch(10*time.Millisecond, 1e9, func(Position) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Cancel()

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	got := count
	mu.Unlock()
	if got < 3 {
		t.Errorf("interval reporting delivered %d fixes, want several", got)
	}
}

func TestSubscriptionCancelStopsDelivery(t *testing.T) {
	reader := &scriptedReader{fixes: []Position{{Latitude: 51.5, Longitude: 0}}}
	source := NewPolledSource(reader.read, time.Millisecond, zap.NewNop())

	var mu sync.Mutex
	count := 0
	sub, err := source.Watch(time.Millisecond, 1e9, func(Position) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(20 * time.Millisecond)
	sub.Cancel()
	sub.Cancel() // idempotent
	time.Sleep(5 * time.Millisecond)

	mu.Lock()
	before := count
	mu.Unlock()
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	after := count
	mu.Unlock()

	if after != before {
		t.Errorf("deliveries continued after cancel: %d -> %d", before, after)
	}
}
