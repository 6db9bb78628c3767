package kernos

// Sema is a counting semaphore. The waiter released by Up is the one
// with the highest effective priority at wake time, not the one that
// blocked first; priorities move while threads wait (donation), and
// honoring the current value is what keeps donation meaningful across a
// lock's embedded semaphore.
type Sema struct {
	k       *Kernel
	value   int
	waiters []*Thread
	waitSeq int64
}

// NewSema returns a semaphore with the given initial value.
func (k *Kernel) NewSema(value int) *Sema {
	if value < 0 {
		panic("kernos: negative semaphore value")
	}
	return &Sema{k: k, value: value}
}

// Down waits until the value is positive and takes one. It may block
// and must not be called from interrupt context.
func (s *Sema) Down() {
	k := s.k
	if k.intrContext() {
		panic("kernos: Down from interrupt context")
	}
	cur := k.cur
	cur.check()

	old := k.intrDisable()
	for s.value == 0 {
		s.waitSeq++
		cur.waitSeq = s.waitSeq
		s.waiters = append(s.waiters, cur)
		metricSemaWaits.Inc()
		k.Block()
	}
	s.value--
	k.intrSetLevel(old)
}

// TryDown takes the semaphore only if that needs no waiting. Safe from
// interrupt context.
func (s *Sema) TryDown() bool {
	k := s.k
	old := k.intrDisable()
	ok := s.value > 0
	if ok {
		s.value--
	}
	k.intrSetLevel(old)
	return ok
}

// Up increments the value and wakes the best waiter, if any. Safe from
// interrupt context. If the woken thread outranks the running one, the
// running one yields at the next safe point: immediately in thread
// context, on return from the handler otherwise.
func (s *Sema) Up() {
	k := s.k
	old := k.intrDisable()
	if t := s.takeHighestWaiter(); t != nil {
		k.unblockLocked(t)
	}
	s.value++
	preempt := k.shouldPreempt()
	k.intrSetLevel(old)
	k.finishPreempt(preempt)
}

// Value returns the current value. Kernel context only; useful for
// asserts and the debug thread table, not for synchronization.
func (s *Sema) Value() int { return s.value }

// takeHighestWaiter removes and returns the waiter with the highest
// effective priority, ties broken by blocking order. Interrupts must be
// off. The scan re-evaluates priorities at wake time, which is the
// re-sort the wakeup path needs.
func (s *Sema) takeHighestWaiter() *Thread {
	if len(s.waiters) == 0 {
		return nil
	}
	best := 0
	for i := 1; i < len(s.waiters); i++ {
		t, b := s.waiters[i], s.waiters[best]
		if t.effPri > b.effPri || (t.effPri == b.effPri && t.waitSeq < b.waitSeq) {
			best = i
		}
	}
	t := s.waiters[best]
	s.waiters = append(s.waiters[:best], s.waiters[best+1:]...)
	return t
}
