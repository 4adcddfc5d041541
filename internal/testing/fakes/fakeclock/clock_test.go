package fakeclock

import (
	"testing"
	"time"
)

func TestClock_Now(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c := New(start)

	if !c.Now().Equal(start) {
		t.Errorf("Now() = %v, want %v", c.Now(), start)
	}

	c.Advance(1500 * time.Millisecond)
	if got := c.Now().Sub(start); got != 1500*time.Millisecond {
		t.Errorf("elapsed = %v, want 1.5s", got)
	}

	later := start.Add(time.Hour)
	c.Set(later)
	if !c.Now().Equal(later) {
		t.Errorf("Now() after Set = %v, want %v", c.Now(), later)
	}
}

func TestClock_After(t *testing.T) {
	c := New(time.Unix(0, 0))
	ch := c.After(time.Second)

	select {
	case <-ch:
		t.Fatal("After() fired before Advance")
	default:
	}

	c.Advance(500 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("After() fired before deadline")
	default:
	}

	c.Advance(500 * time.Millisecond)
	select {
	case <-ch:
	default:
		t.Fatal("After() did not fire at deadline")
	}
}

func TestClock_AfterZero(t *testing.T) {
	c := New(time.Unix(0, 0))

	select {
	case <-c.After(0):
	default:
		t.Fatal("After(0) should fire immediately")
	}
}
