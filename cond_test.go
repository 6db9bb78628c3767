package kernos

import (
	"fmt"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// TestCondSignalPriorityOrder parks ten waiters with scrambled
// priorities and signals from PriMin: wakeups must come out in strictly
// descending priority order.
func TestCondSignalPriorityOrder(t *testing.T) {
	k := boot(t, Options{})

	lock := k.NewLock()
	cond := k.NewCond()

	var woke []int
	var pris []int
	for i := 0; i < 10; i++ {
		pri := PriDefault - (i+7)%10 - 1
		pris = append(pris, pri)
		priCopy := pri
		_, err := k.Create(fmt.Sprintf("waiter-%d", priCopy), priCopy, func() {
			lock.Acquire()
			cond.Wait(lock)
			woke = append(woke, priCopy)
			lock.Release()
		})
		require.NoError(t, err)
	}

	// Dropping to PriMin lets every waiter run and park itself, then
	// signal one at a time from the bottom of the priority range.
	k.SetPriority(PriMin)
	for i := 0; i < 10; i++ {
		lock.Acquire()
		cond.Signal(lock)
		lock.Release()
	}
	k.SetPriority(PriDefault)

	want := append([]int(nil), pris...)
	sort.Sort(sort.Reverse(sort.IntSlice(want)))
	if d := cmp.Diff(want, woke); d != "" {
		t.Errorf("wake order mismatch (-want +got):\n%s", d)
	}
}

func TestCondBroadcast(t *testing.T) {
	k := boot(t, Options{})

	lock := k.NewLock()
	cond := k.NewCond()

	woken := 0
	for i := 0; i < 3; i++ {
		_, err := k.Create("waiter", PriDefault+1, func() {
			lock.Acquire()
			cond.Wait(lock)
			woken++
			lock.Release()
		})
		require.NoError(t, err)
	}
	require.Equal(t, 0, woken)

	lock.Acquire()
	cond.Broadcast(lock)
	lock.Release()
	require.Equal(t, 3, woken)
}

func TestCondSignalNoWaiters(t *testing.T) {
	k := boot(t, Options{})

	lock := k.NewLock()
	cond := k.NewCond()
	lock.Acquire()
	cond.Signal(lock) // no-op
	lock.Release()
}

func TestCondAsserts(t *testing.T) {
	k := boot(t, Options{})

	lock := k.NewLock()
	cond := k.NewCond()
	require.Panics(t, func() { cond.Wait(lock) }, "Wait without the lock held")
	require.Panics(t, func() { cond.Signal(lock) }, "Signal without the lock held")
}
