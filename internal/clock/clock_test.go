package clock

import (
	"testing"
	"time"
)

func TestFakeAdvanceFiresInOrder(t *testing.T) {
	c := NewFake(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	var got []int

	c.AfterFunc(3*time.Second, func() { got = append(got, 3) })
	c.AfterFunc(time.Second, func() { got = append(got, 1) })
	c.AfterFunc(2*time.Second, func() { got = append(got, 2) })

	c.Advance(2 * time.Second)
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("Expected [1 2], got %v", got)
	}

	c.Advance(time.Second)
	if len(got) != 3 || got[2] != 3 {
		t.Fatalf("Expected third timer to fire, got %v", got)
	}
	if c.Pending() != 0 {
		t.Errorf("Expected no pending timers, got %d", c.Pending())
	}
}

func TestFakeStop(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	if !timer.Stop() {
		t.Fatal("Expected first Stop to report true")
	}
	if timer.Stop() {
		t.Error("Expected second Stop to report false")
	}
	c.Advance(time.Minute)
	if fired {
		t.Error("Stopped timer fired")
	}
}

func TestFakeRearmInsideCallback(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	ticks := 0
	var tick func()
	tick = func() {
		ticks++
		c.AfterFunc(time.Second, tick)
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(10 * time.Second)
	if ticks != 10 {
		t.Errorf("Expected 10 ticks, got %d", ticks)
	}
	if want := time.Unix(10, 0); !c.Now().Equal(want) {
		t.Errorf("Expected now %v, got %v", want, c.Now())
	}
}
