package kernos

import (
	"testing"

	"github.com/sourcegraph/log/logtest"
	"github.com/stretchr/testify/require"

	"github.com/kernos/kernos/internal/palloc"
)

// TestCreatePreemptsCreator: a freshly created higher-priority thread
// runs before Create returns to the creator.
func TestCreatePreemptsCreator(t *testing.T) {
	k := boot(t, Options{})

	ran := false
	_, err := k.Create("hi", PriDefault+9, func() { ran = true })
	require.NoError(t, err)
	require.True(t, ran, "creator kept the CPU from a higher-priority thread")

	ran = false
	low, err := k.Create("lo", PriDefault-9, func() { ran = true })
	require.NoError(t, err)
	require.False(t, ran, "lower-priority thread must wait")
	require.Equal(t, StatusReady, low.Status())

	// It runs once we drop below it.
	k.SetPriority(PriDefault - 10)
	require.True(t, ran)
	k.SetPriority(PriDefault)
}

// TestFIFOWithinPriority: equal-priority threads are dispatched in the
// order they became READY.
func TestFIFOWithinPriority(t *testing.T) {
	k := boot(t, Options{})

	var order []int
	for i := 0; i < 4; i++ {
		i := i
		_, err := k.Create("peer", PriDefault, func() {
			order = append(order, i)
		})
		require.NoError(t, err)
	}
	require.Empty(t, order, "peers must not preempt an equal-priority creator")

	k.Yield()
	require.Equal(t, []int{0, 1, 2, 3}, order)
}

// TestYieldRoundRobin: two equal-priority threads alternate on
// voluntary yields.
func TestYieldRoundRobin(t *testing.T) {
	k := boot(t, Options{})

	var trace []string
	done := k.NewSema(0)
	for _, name := range []string{"a", "b"} {
		name := name
		_, err := k.Create(name, PriDefault, func() {
			for i := 0; i < 3; i++ {
				trace = append(trace, name)
				k.Yield()
			}
			done.Up()
		})
		require.NoError(t, err)
	}
	done.Down()
	done.Down()
	require.Equal(t, []string{"a", "b", "a", "b", "a", "b"}, trace)
}

// TestTimeSlicePreemption: the fourth tick of a slice forces a yield at
// the next delivery point, earlier ticks do not.
func TestTimeSlicePreemption(t *testing.T) {
	k := boot(t, Options{})

	ran := false
	_, err := k.Create("peer", PriDefault, func() { ran = true })
	require.NoError(t, err)

	for i := 0; i < DefaultTimeSlice-1; i++ {
		k.Tick()
	}
	k.Preempt()
	require.False(t, ran, "slice must survive %d ticks", DefaultTimeSlice-1)

	k.Tick()
	k.Preempt()
	require.True(t, ran, "slice expiry must round-robin to the peer")
}

// TestSleepUntil: injected ticks wake sleepers at, never before, their
// deadline, and lower-priority work proceeds while they sleep.
func TestSleepUntil(t *testing.T) {
	k := boot(t, Options{})

	const d = 10
	type result struct {
		start, woke int64
	}
	results := make([]result, 3)
	for i := range results {
		i := i
		_, err := k.Create("sleeper", PriDefault+1+i, func() {
			start := k.Ticks()
			k.SleepUntil(start + d)
			results[i] = result{start: start, woke: k.Ticks()}
		})
		require.NoError(t, err)
	}

	progress := 0
	for n := 0; n < 100; n++ {
		k.Tick()
		progress++
		// Ticks is a delivery point; sleepers preempt us here the
		// moment they are due.
		if k.Ticks() > d+1 {
			break
		}
	}

	for i, r := range results {
		require.NotZero(t, r.woke, "sleeper %d never woke", i)
		require.GreaterOrEqual(t, r.woke-r.start, int64(d), "sleeper %d woke early", i)
	}
	require.Greater(t, progress, 1, "the driver thread should have run during the sleep")
}

// TestSleepInPast returns immediately.
func TestSleepInPast(t *testing.T) {
	k := boot(t, Options{})
	k.SleepUntil(0)
	k.SleepUntil(k.Ticks())
}

// TestSpuriousUnblockLeavesSleepList: unblocking a sleeper by hand must
// take it off the sleep list, or a later tick would unblock it twice.
func TestSpuriousUnblockLeavesSleepList(t *testing.T) {
	k := boot(t, Options{})

	wakes := 0
	sl, err := k.Create("sleeper", PriDefault+1, func() {
		k.SleepUntil(k.Ticks() + 5)
		wakes++
	})
	require.NoError(t, err)
	require.Equal(t, StatusBlocked, sl.Status())

	k.Unblock(sl)
	require.Equal(t, 1, wakes)

	for i := 0; i < 10; i++ {
		k.Tick()
	}
	k.Preempt()
	require.Equal(t, 1, wakes)
}

func TestUnblockAsserts(t *testing.T) {
	k := boot(t, Options{})

	ready, err := k.Create("ready", PriDefault-1, func() {})
	require.NoError(t, err)
	require.Panics(t, func() { k.Unblock(ready) }, "unblocking a READY thread")

	k.SetPriority(PriMin)
	k.SetPriority(PriDefault)
}

func TestBlockRequiresInterruptsOff(t *testing.T) {
	k := boot(t, Options{})
	require.Panics(t, func() { k.Block() })
}

func TestPriorityRange(t *testing.T) {
	k := boot(t, Options{})
	require.Panics(t, func() { k.SetPriority(PriMax + 1) })
	require.Panics(t, func() { k.SetPriority(PriMin - 1) })
	require.Panics(t, func() {
		_, _ = k.Create("bad", PriMax+1, func() {})
	})
}

// TestCreateExhaustion: the stack page pool bounds thread creation, and
// reaping returns pages.
func TestCreateExhaustion(t *testing.T) {
	// Two pages: one for idle, one spare. The initial thread lives on
	// the boot stack and owns no page.
	k := boot(t, Options{MaxThreads: 2, Logger: logtest.Scoped(t)})

	ran := false
	_, err := k.Create("only", PriDefault-1, func() { ran = true })
	require.NoError(t, err)

	_, err = k.Create("overflow", PriDefault-1, func() {})
	require.Error(t, err)
	require.ErrorIs(t, err, palloc.ErrNoPage)

	// Drain the runnable thread; its page is reclaimed at the next
	// scheduling decision after it dies.
	k.SetPriority(PriMin)
	k.SetPriority(PriDefault)
	require.True(t, ran)
	k.Yield()

	_, err = k.Create("again", PriDefault-1, func() {})
	require.NoError(t, err)
	k.SetPriority(PriMin)
	k.SetPriority(PriDefault)
}

func TestStats(t *testing.T) {
	k := boot(t, Options{})

	before := k.Stats()
	_, err := k.Create("hi", PriDefault+1, func() {})
	require.NoError(t, err)

	after := k.Stats()
	require.Greater(t, after.ContextSwitches, before.ContextSwitches)

	for i := 0; i < 3; i++ {
		k.Tick()
	}
	k.Preempt()
	require.Equal(t, before.Ticks+3, k.Stats().Ticks)
	require.Equal(t, int64(2), k.Stats().Live, "main and idle")
}

func TestRenderThreads(t *testing.T) {
	k := boot(t, Options{})
	out := k.RenderThreads()
	require.Contains(t, out, "main")
	require.Contains(t, out, "idle")
	require.Contains(t, out, "RUNNING")
}

func TestTIDsAreUnique(t *testing.T) {
	k := boot(t, Options{})

	seen := map[TID]bool{k.Current().TID(): true}
	for i := 0; i < 5; i++ {
		th, err := k.Create("t", PriDefault-1, func() {})
		require.NoError(t, err)
		require.False(t, seen[th.TID()], "tid %d reused", th.TID())
		seen[th.TID()] = true
	}
	k.SetPriority(PriMin)
	k.SetPriority(PriDefault)
}
