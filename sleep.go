package kernos

import "math"

// noWakeup is the earliest-wakeup sentinel while the sleep list is
// empty.
const noWakeup = math.MaxInt64

// SleepUntil blocks the current thread until the tick counter reaches
// wake. Interrupts must be on: waking depends on the tick handler
// running. Returns immediately if the deadline already passed.
func (k *Kernel) SleepUntil(wake int64) {
	if k.intrContext() {
		panic("kernos: sleep from interrupt context")
	}
	if k.level != intrOn {
		panic("kernos: sleep with interrupts disabled")
	}
	cur := k.cur
	cur.check()

	old := k.intrDisable()
	if wake <= k.ticks.Load() {
		k.intrSetLevel(old)
		return
	}
	cur.wakeupTick = wake
	k.sleepers = append(k.sleepers, cur)
	k.sleepCount.Inc()
	metricSleepingThreads.Set(float64(len(k.sleepers)))
	if wake < k.earliestWakeup {
		k.earliestWakeup = wake
	}
	k.Block()
	k.intrSetLevel(old)
}

// wakeSleepers readies every sleeper whose deadline has passed. Called
// from the tick handler; the list is unsorted, but the walk is skipped
// entirely until the earliest pending deadline is due.
func (k *Kernel) wakeSleepers() {
	now := k.ticks.Load()
	if now < k.earliestWakeup {
		return
	}

	earliest := int64(noWakeup)
	dst := k.sleepers[:0]
	for _, t := range k.sleepers {
		if t.wakeupTick <= now {
			t.wakeupTick = 0
			k.sleepCount.Dec()
			k.readyPush(t)
			t.status = StatusReady
		} else {
			dst = append(dst, t)
			if t.wakeupTick < earliest {
				earliest = t.wakeupTick
			}
		}
	}
	k.sleepers = dst
	k.earliestWakeup = earliest
	metricSleepingThreads.Set(float64(len(k.sleepers)))

	if k.shouldPreempt() {
		k.yieldOnReturn = true
	}
}

// removeSleeper drops a thread from the sleep list if it is on it.
// Interrupts must be off.
func (k *Kernel) removeSleeper(t *Thread) {
	for i, o := range k.sleepers {
		if o != t {
			continue
		}
		k.sleepers = append(k.sleepers[:i], k.sleepers[i+1:]...)
		t.wakeupTick = 0
		k.sleepCount.Dec()
		metricSleepingThreads.Set(float64(len(k.sleepers)))

		earliest := int64(noWakeup)
		for _, o := range k.sleepers {
			if o.wakeupTick < earliest {
				earliest = o.wakeupTick
			}
		}
		k.earliestWakeup = earliest
		return
	}
}
