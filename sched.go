package kernos

import sglog "github.com/sourcegraph/log"

// schedule dispatches the next thread. Interrupts must be off and the
// current thread must already have left RUNNING. For a DYING thread
// schedule wakes the successor and returns at once so the caller can
// unwind the goroutine; for everyone else it returns when the thread is
// next dispatched.
func (k *Kernel) schedule() {
	if k.level != intrOff {
		panic("kernos: schedule with interrupts enabled")
	}
	if k.intrContext() {
		panic("kernos: schedule from interrupt context")
	}
	prev := k.cur
	if prev.status == StatusRunning {
		panic("kernos: schedule from a RUNNING thread")
	}

	k.reap()

	next := k.nextThreadToRun()
	next.check()
	next.status = StatusRunning
	k.cur = next
	k.sliceTicks = 0

	if next == prev {
		return
	}

	k.switches.Inc()
	metricContextSwitches.Inc()

	if prev.status == StatusDying {
		if prev != k.initial {
			k.dying = append(k.dying, prev)
		}
		// Wake the successor and fall off the dying thread's stack.
		next.park <- struct{}{}
		return
	}

	next.park <- struct{}{}
	<-prev.park
	// Dispatched again. k.cur was re-pointed at us by whoever sent the
	// token, and interrupts are off, exactly as we left them.
}

// nextThreadToRun returns the highest-priority READY thread, or the
// idle thread when the ready queue is empty.
func (k *Kernel) nextThreadToRun() *Thread {
	if t := k.readyPop(); t != nil {
		return t
	}
	return k.idle
}

// reap frees threads that died since the last scheduling decision.
func (k *Kernel) reap() {
	if len(k.dying) == 0 {
		return
	}
	for _, t := range k.dying {
		k.logger.Debug("reaping thread", sglog.Int("tid", int(t.tid)), sglog.String("name", t.name))
		if t.page != nil {
			k.pages.Put(t.page)
			t.page = nil
		}
		t.magic = 0
		k.forget(t)
	}
	k.dying = k.dying[:0]
}

func (k *Kernel) forget(t *Thread) {
	for i, o := range k.all {
		if o == t {
			k.all = append(k.all[:i], k.all[i+1:]...)
			return
		}
	}
}

// handleTick is the timer interrupt handler body. It runs with
// interrupts off and inHandler set, on the borrowed stack of the
// running thread.
func (k *Kernel) handleTick() {
	cur := k.cur
	k.ticks.Inc()
	metricTicks.Inc()
	if cur == k.idle {
		k.idleTicks.Inc()
	} else {
		k.kernelTicks.Inc()
	}

	k.wakeSleepers()

	k.sliceTicks++
	if k.sliceTicks >= k.opts.TimeSlice {
		k.yieldOnReturn = true
		metricPreemptions.WithLabelValues("slice").Inc()
	}
}

// idleMain is the idle thread. It blocks itself on every pass; the
// scheduler hands it the CPU only when the ready queue is empty, and it
// then halts until the timer device posts an interrupt.
func (k *Kernel) idleMain() {
	k.idle = k.cur
	k.idleStarted.Up()
	for {
		k.intrDisable()
		k.Block()
		k.halt()
	}
}
