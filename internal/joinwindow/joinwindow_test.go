package joinwindow

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestControllerStartsClosed(t *testing.T) {
	c := New()

	if c.IsOpen() {
		t.Error("IsOpen() = true for a fresh controller")
	}
	if c.Remaining() != 0 {
		t.Errorf("Remaining() = %v, want 0", c.Remaining())
	}
	if c.Allows("0xab01") {
		t.Error("Allows() = true while closed")
	}
}

func TestControllerOpenAndAutoClose(t *testing.T) {
	c := New()

	if err := c.Open(50*time.Millisecond, nil); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !c.IsOpen() {
		t.Fatal("IsOpen() = false after Open()")
	}
	if !c.Allows("0xab01") {
		t.Error("Allows() = false with empty allowlist")
	}
	if c.Remaining() <= 0 {
		t.Error("Remaining() <= 0 while open")
	}

	deadline := time.Now().Add(2 * time.Second)
	for c.IsOpen() {
		if time.Now().After(deadline) {
			t.Fatal("window did not auto-close")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if c.Allows("0xab01") {
		t.Error("Allows() = true after auto-close")
	}
}

func TestControllerAllowlist(t *testing.T) {
	c := New()

	if err := c.Open(time.Minute, []string{"0xab01", "0xab02"}); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer c.Close()

	if !c.Allows("0xab01") {
		t.Error("Allows() = false for allowlisted address")
	}
	if c.Allows("0xcc03") {
		t.Error("Allows() = true for address not on the allowlist")
	}
}

func TestControllerLastCallWins(t *testing.T) {
	c := New()
	defer c.Close()

	if err := c.Open(time.Minute, []string{"0xab01"}); err != nil {
		t.Fatalf("first Open() error = %v", err)
	}
	// The replacement drops the allowlist and shortens the deadline.
	if err := c.Open(10*time.Second, nil); err != nil {
		t.Fatalf("second Open() error = %v", err)
	}

	if !c.Allows("0xcc03") {
		t.Error("replacement window kept the old allowlist")
	}
	if remaining := c.Remaining(); remaining > 10*time.Second {
		t.Errorf("Remaining() = %v, want at most the replacement duration", remaining)
	}
}

func TestControllerStaleTimerDoesNotCloseReplacement(t *testing.T) {
	c := New()
	defer c.Close()

	if err := c.Open(20*time.Millisecond, nil); err != nil {
		t.Fatalf("first Open() error = %v", err)
	}
	if err := c.Open(time.Minute, nil); err != nil {
		t.Fatalf("second Open() error = %v", err)
	}

	// Wait past the first window's deadline; the replacement must survive.
	time.Sleep(100 * time.Millisecond)
	if !c.IsOpen() {
		t.Error("stale timer from the replaced window closed the new one")
	}
}

func TestControllerCloseIsIdempotent(t *testing.T) {
	c := New()

	var mu sync.Mutex
	var transitions []bool
	c.SetObserver(func(status Status) {
		mu.Lock()
		transitions = append(transitions, status.Open)
		mu.Unlock()
	})

	if err := c.Open(time.Minute, nil); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	c.Close()
	c.Close()
	c.Close()

	mu.Lock()
	defer mu.Unlock()
	want := []bool{true, false}
	if len(transitions) != len(want) {
		t.Fatalf("observer saw %d transitions (%v), want %d", len(transitions), transitions, len(want))
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition[%d] = %v, want %v", i, transitions[i], want[i])
		}
	}
}

func TestControllerObserverSeesReplacement(t *testing.T) {
	c := New()
	defer c.Close()

	var mu sync.Mutex
	var opens int
	c.SetObserver(func(status Status) {
		if status.Open {
			mu.Lock()
			opens++
			mu.Unlock()
		}
	})

	if err := c.Open(time.Minute, nil); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := c.Open(time.Minute, nil); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if opens != 2 {
		t.Errorf("observer saw %d opens, want one per Open() call", opens)
	}
}

func TestControllerOpenRejectsBadDuration(t *testing.T) {
	c := New()

	if err := c.Open(0, nil); !errors.Is(err, ErrInvalidDuration) {
		t.Errorf("Open(0) error = %v, want ErrInvalidDuration", err)
	}
	if err := c.Open(-time.Second, nil); !errors.Is(err, ErrInvalidDuration) {
		t.Errorf("Open(-1s) error = %v, want ErrInvalidDuration", err)
	}
	if c.IsOpen() {
		t.Error("rejected Open() still opened the window")
	}
}

func TestControllerClampsDuration(t *testing.T) {
	c := New()
	defer c.Close()

	if err := c.Open(time.Hour, nil); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if remaining := c.Remaining(); remaining > maxDuration {
		t.Errorf("Remaining() = %v, want clamped to %v", remaining, maxDuration)
	}
}
