package kernos

// Cond is a Mesa-style condition variable. Each waiter parks on its own
// private binary semaphore, so a signaler can wake one specific thread:
// the one whose sleeping thread has the highest effective priority at
// signal time.
//
// As with every Mesa condition variable, a woken waiter must re-test
// its predicate: between the signal and the return from Wait the lock
// was free and the state may have moved.
type Cond struct {
	k       *Kernel
	waiters []*condWaiter
	seq     int64
}

// condWaiter is one parked Wait call: a private semaphore the waiter
// sleeps on, and the sleeping thread for priority inspection.
type condWaiter struct {
	sem *Sema
	t   *Thread
	seq int64
}

// NewCond returns a condition variable with no waiters.
func (k *Kernel) NewCond() *Cond {
	return &Cond{k: k}
}

// Wait atomically releases lock and blocks until signaled, then
// re-acquires lock before returning. The lock must be held by the
// current thread; Wait must not be called from interrupt context.
func (c *Cond) Wait(lock *Lock) {
	k := c.k
	if k.intrContext() {
		panic("kernos: condition Wait from interrupt context")
	}
	cur := k.cur
	cur.check()
	if !lock.HeldByCurrent() {
		panic("kernos: condition Wait without holding the lock")
	}

	w := &condWaiter{sem: k.NewSema(0), t: cur}
	old := k.intrDisable()
	c.seq++
	w.seq = c.seq
	c.waiters = append(c.waiters, w)
	k.intrSetLevel(old)

	lock.Release()
	w.sem.Down()
	lock.Acquire()
}

// Signal wakes the waiter whose thread has the highest current
// effective priority, ties broken by arrival order. A no-op without
// waiters. The lock must be held by the current thread.
func (c *Cond) Signal(lock *Lock) {
	k := c.k
	if k.intrContext() {
		panic("kernos: condition Signal from interrupt context")
	}
	k.cur.check()
	if !lock.HeldByCurrent() {
		panic("kernos: condition Signal without holding the lock")
	}

	old := k.intrDisable()
	w := c.takeHighestWaiter()
	k.intrSetLevel(old)
	if w != nil {
		w.sem.Up()
	}
}

// Broadcast signals until no waiter is left.
func (c *Cond) Broadcast(lock *Lock) {
	for len(c.waiters) > 0 {
		c.Signal(lock)
	}
}

// takeHighestWaiter removes and returns the best waiter, re-ranking by
// the current effective priority of each sleeping thread. Interrupts
// must be off.
func (c *Cond) takeHighestWaiter() *condWaiter {
	if len(c.waiters) == 0 {
		return nil
	}
	best := 0
	for i := 1; i < len(c.waiters); i++ {
		w, b := c.waiters[i], c.waiters[best]
		if w.t.effPri > b.t.effPri || (w.t.effPri == b.t.effPri && w.seq < b.seq) {
			best = i
		}
	}
	w := c.waiters[best]
	c.waiters = append(c.waiters[:best], c.waiters[best+1:]...)
	return w
}
