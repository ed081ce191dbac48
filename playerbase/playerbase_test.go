package playerbase_test

import (
	"testing"
	"time"

	"github.com/momentics/pcxd/fake"
	"github.com/momentics/pcxd/playerbase"
	"github.com/momentics/pcxd/reactor"
)

type testSeat struct {
	names   []string
	removed []int
	refs    int
}

func (s *testSeat) AddPlayer(name string) int {
	s.names = append(s.names, name)
	return len(s.names) - 1
}
func (s *testSeat) RemovePlayer(num int) { s.removed = append(s.removed, num) }
func (s *testSeat) Ref()                 { s.refs++ }
func (s *testSeat) Unref()               { s.refs-- }

func newReactor(t *testing.T) (*reactor.MainContext, *fake.Clock) {
	t.Helper()
	clk := fake.NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	mc, err := reactor.New(
		reactor.WithClock(clk),
		reactor.WithPoller(fake.NewPoller(clk)),
		reactor.WithSignalNotifier(fake.NewNotifier()),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { mc.Close() })
	return mc, clk
}

func TestAddLookupRoundTrip(t *testing.T) {
	mc, _ := newReactor(t)
	pb := playerbase.New(mc)
	defer pb.Close()
	seat := &testSeat{}

	p := pb.Add(seat, "alice", 1234)
	got, ok := pb.Lookup(1234)
	if !ok || got != p {
		t.Fatalf("Lookup(1234) = %v, %v", got, ok)
	}
	if p.Num != 0 || p.Name != "alice" || seat.refs != 1 {
		t.Fatalf("player %+v seat %+v", p, seat)
	}
	if _, ok := pb.Lookup(99); ok {
		t.Fatal("Lookup of unknown id succeeded")
	}
	if st := mc.Stats(); st.Timers != 1 {
		t.Fatalf("sweep timer not armed: %+v", st)
	}
}

func TestGrowthKeepsEveryPlayer(t *testing.T) {
	mc, _ := newReactor(t)
	pb := playerbase.New(mc)
	defer pb.Close()
	seat := &testSeat{}

	const n = 100
	for i := uint64(1); i <= n; i++ {
		// Multiples of 8 collide in the initial table.
		pb.Add(seat, "p", i*8)
		for j := uint64(1); j <= i; j++ {
			if _, ok := pb.Lookup(j * 8); !ok {
				t.Fatalf("after %d adds, id %d not found", i, j*8)
			}
		}
	}
	if pb.Len() != n {
		t.Fatalf("Len = %d, want %d", pb.Len(), n)
	}
	players := pb.Players()
	for i, p := range players {
		if p.ID != uint64(i+1)*8 {
			t.Fatalf("Players()[%d].ID = %d, insertion order lost", i, p.ID)
		}
	}
}

func TestSweepEvictsIdleUnreferenced(t *testing.T) {
	mc, _ := newReactor(t)
	pb := playerbase.New(mc)
	seat := &testSeat{}

	idle := pb.Add(seat, "idle", 1)
	held := pb.Add(seat, "held", 2)
	held.Ref()

	mc.RunOnce()

	if _, ok := pb.Lookup(1); ok {
		t.Fatal("idle unreferenced player survived the sweep")
	}
	if _, ok := pb.Lookup(2); !ok {
		t.Fatal("referenced player was evicted")
	}
	if len(seat.removed) != 1 || seat.removed[0] != idle.Num {
		t.Fatalf("seat removals = %v, want [%d]", seat.removed, idle.Num)
	}
	if seat.refs != 1 {
		t.Fatalf("seat refs = %d, want 1", seat.refs)
	}

	held.Unref()
	mc.RunOnce()
	if pb.Len() != 0 {
		t.Fatalf("Len = %d after second sweep", pb.Len())
	}
	if st := mc.Stats(); st.Timers != 0 {
		t.Fatalf("sweep timer still armed on empty playerbase: %+v", st)
	}

	// The next Add re-arms it.
	pb.Add(seat, "again", 3)
	if st := mc.Stats(); st.Timers != 1 {
		t.Fatalf("sweep timer not re-armed: %+v", st)
	}
	pb.Close()
	if st := mc.Stats(); st.Timers != 0 {
		t.Fatalf("Close left the sweep timer: %+v", st)
	}
}

func TestTouchDefersEviction(t *testing.T) {
	mc, clk := newReactor(t)
	pb := playerbase.New(mc)
	defer pb.Close()
	seat := &testSeat{}

	p := pb.Add(seat, "bob", 5)
	p.Touch(clk.Now().Add(time.Minute))

	mc.RunOnce()
	if _, ok := pb.Lookup(5); !ok {
		t.Fatal("recently active player evicted")
	}
	mc.RunOnce()
	if _, ok := pb.Lookup(5); ok {
		t.Fatal("stale player survived")
	}
}

func TestLeftPlayerNotRemovedTwice(t *testing.T) {
	mc, _ := newReactor(t)
	pb := playerbase.New(mc)
	seat := &testSeat{}

	p := pb.Add(seat, "carol", 7)
	p.Leave()
	p.Leave()
	if len(seat.removed) != 1 {
		t.Fatalf("Leave notified seat %d times", len(seat.removed))
	}

	mc.RunOnce()
	if pb.Len() != 0 {
		t.Fatal("left player not collected")
	}
	if len(seat.removed) != 1 {
		t.Fatalf("eviction notified a seat that was already vacated")
	}
	if seat.refs != 0 {
		t.Fatalf("seat refs = %d, want 0", seat.refs)
	}
}

func TestGenerateID(t *testing.T) {
	mc, _ := newReactor(t)
	pb := playerbase.New(mc)
	defer pb.Close()
	seat := &testSeat{}

	seen := make(map[uint64]bool)
	for i := 0; i < 50; i++ {
		id := pb.GenerateID([]byte{127, 0, 0, 1, 0x1f, 0x90})
		if id == 0 || seen[id] {
			t.Fatalf("GenerateID returned %d (seen=%v)", id, seen[id])
		}
		seen[id] = true
		pb.Add(seat, "x", id)
	}
}

func TestUnrefPanicsWhenUnbalanced(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("unbalanced Unref did not panic")
		}
	}()
	var p playerbase.Player
	p.Unref()
}
