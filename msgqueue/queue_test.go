package msgqueue_test

import (
	"testing"
	"time"

	"github.com/momentics/pcxd/fake"
	"github.com/momentics/pcxd/msgqueue"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestQuotaScenario(t *testing.T) {
	clk := fake.NewClock(epoch)
	q := msgqueue.New[int](msgqueue.WithClock(clk.Now))

	for i := 0; i < 20; i++ {
		q.Enqueue(42, i)
	}

	for i := 0; i < 18; i++ {
		msg, ok, wait := q.Dequeue()
		if !ok {
			t.Fatalf("dequeue %d: not ready, wait %+v", i, wait)
		}
		if msg.Dest != 42 || msg.Payload != i {
			t.Fatalf("dequeue %d = %+v", i, msg)
		}
	}

	_, ok, wait := q.Dequeue()
	if ok {
		t.Fatal("19th message released inside the window")
	}
	if !wait.Pending || wait.Delay <= 0 {
		t.Fatalf("wait = %+v, want positive pending delay", wait)
	}
	if wait.Delay != msgqueue.DefaultWindow {
		t.Fatalf("delay = %v, want %v", wait.Delay, msgqueue.DefaultWindow)
	}

	clk.Advance(wait.Delay)
	for i := 18; i < 20; i++ {
		msg, ok, _ := q.Dequeue()
		if !ok || msg.Payload != i {
			t.Fatalf("after window: got %+v ok=%v, want payload %d", msg, ok, i)
		}
	}
	if _, ok, wait := q.Dequeue(); ok || wait.Pending {
		t.Fatalf("empty queue returned ok=%v wait=%+v", ok, wait)
	}
}

func TestUnderQuotaNeverWaits(t *testing.T) {
	clk := fake.NewClock(epoch)
	q := msgqueue.New[string](msgqueue.WithClock(clk.Now), msgqueue.WithLimit(5))

	for round := 0; round < 3; round++ {
		for i := 0; i < 5; i++ {
			q.Enqueue(1, "x")
			if _, ok, wait := q.Dequeue(); !ok {
				t.Fatalf("round %d msg %d waited %+v", round, i, wait)
			}
			clk.Advance(time.Second)
		}
		clk.Advance(msgqueue.DefaultWindow)
	}
}

func TestWaitHintYieldsReadiness(t *testing.T) {
	clk := fake.NewClock(epoch)
	q := msgqueue.New[int](msgqueue.WithClock(clk.Now), msgqueue.WithLimit(2), msgqueue.WithWindow(10*time.Second))

	for i := 0; i < 6; i++ {
		q.Enqueue(7, i)
	}
	got := 0
	for steps := 0; got < 6 && steps < 20; steps++ {
		_, ok, wait := q.Dequeue()
		if ok {
			got++
			clk.Advance(1500 * time.Microsecond)
			continue
		}
		if !wait.Pending {
			t.Fatal("queue reported nothing pending with payloads left")
		}
		if wait.Delay%time.Millisecond != 0 {
			t.Fatalf("delay %v not whole milliseconds", wait.Delay)
		}
		clk.Advance(wait.Delay)
		if _, ok, _ := q.Dequeue(); !ok {
			t.Fatal("not ready after sleeping the wait hint")
		}
		got++
	}
	if got != 6 {
		t.Fatalf("released %d payloads, want 6", got)
	}
}

func TestOtherDestinationsNotBlocked(t *testing.T) {
	clk := fake.NewClock(epoch)
	q := msgqueue.New[int](msgqueue.WithClock(clk.Now), msgqueue.WithLimit(1))

	q.Enqueue(1, 10)
	q.Enqueue(1, 11)
	q.Enqueue(2, 20)

	want := []int64{1, 2}
	for _, dest := range want {
		msg, ok, _ := q.Dequeue()
		if !ok || msg.Dest != dest {
			t.Fatalf("got %+v ok=%v, want dest %d", msg, ok, dest)
		}
	}
	if _, ok, wait := q.Dequeue(); ok || !wait.Pending {
		t.Fatalf("ok=%v wait=%+v, want pending", ok, wait)
	}
}

func TestDeadDestinationsCollected(t *testing.T) {
	clk := fake.NewClock(epoch)
	q := msgqueue.New[int](msgqueue.WithClock(clk.Now))

	q.Enqueue(1, 1)
	q.Enqueue(2, 2)
	q.Dequeue()
	q.Dequeue()
	if n := q.Destinations(); n != 2 {
		t.Fatalf("destinations = %d, want 2", n)
	}

	// Window state still matters, so nothing is collected yet.
	q.Enqueue(3, 3)
	if n := q.Destinations(); n != 3 {
		t.Fatalf("destinations inside window = %d, want 3", n)
	}

	clk.Advance(msgqueue.DefaultWindow)
	q.Enqueue(3, 4)
	if n := q.Destinations(); n != 1 {
		t.Fatalf("destinations after window = %d, want 1", n)
	}
	if n := q.Len(); n != 2 {
		t.Fatalf("Len = %d, want 2", n)
	}
}
