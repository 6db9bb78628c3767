package kernos

// Lock is a mutual exclusion lock: a binary semaphore plus an owner.
// Locks participate in priority donation: while a thread waits for a
// lock, its effective priority is lent to the holder, and transitively
// along the chain of locks the holder itself waits on, so a
// high-priority waiter is never stalled behind a preempted low-priority
// holder.
//
// In MLFQS mode donation is disabled and a Lock degrades to a plain
// binary semaphore with an owner assert.
type Lock struct {
	k      *Kernel
	holder *Thread
	sem    *Sema
}

// NewLock returns an unheld lock.
func (k *Kernel) NewLock() *Lock {
	return &Lock{k: k, sem: k.NewSema(1)}
}

// Acquire takes the lock, blocking until the holder releases it. It
// must not be called from interrupt context, and the caller must not
// already hold the lock.
func (l *Lock) Acquire() {
	k := l.k
	if k.intrContext() {
		panic("kernos: Acquire from interrupt context")
	}
	cur := k.cur
	cur.check()
	if l.holder == cur {
		panic("kernos: lock already held by current thread")
	}

	old := k.intrDisable()
	if !k.opts.MLFQS && l.holder != nil {
		cur.waitingOn = l
		l.holder.donors = append(l.holder.donors, cur)
		k.donate(cur)
	}
	l.sem.Down()
	cur.waitingOn = nil
	l.takeOwnership(cur)
	k.intrSetLevel(old)
}

// TryAcquire takes the lock only if it is free. Never blocks.
func (l *Lock) TryAcquire() bool {
	k := l.k
	if k.intrContext() {
		panic("kernos: TryAcquire from interrupt context")
	}
	cur := k.cur
	cur.check()
	if l.holder == cur {
		panic("kernos: lock already held by current thread")
	}

	old := k.intrDisable()
	ok := l.sem.TryDown()
	if ok {
		l.takeOwnership(cur)
	}
	k.intrSetLevel(old)
	return ok
}

// takeOwnership records cur as holder and adopts the threads still
// waiting on the lock as donors: the previous holder shed them on
// release. Interrupts must be off.
func (l *Lock) takeOwnership(cur *Thread) {
	k := l.k
	l.holder = cur
	if k.opts.MLFQS {
		return
	}
	for _, w := range l.sem.waiters {
		cur.donors = append(cur.donors, w)
		if w.effPri > cur.effPri {
			k.setEffective(cur, w.effPri)
		}
	}
}

// Release gives up the lock, which the current thread must hold. Donors
// tied to this lock stop counting: the releaser's effective priority
// falls back to the maximum of its base priority and the remaining
// donations, and the CPU is handed over if that drops it below a READY
// thread.
func (l *Lock) Release() {
	k := l.k
	cur := k.cur
	cur.check()
	if l.holder != cur {
		panic("kernos: releasing a lock not held by current thread")
	}

	old := k.intrDisable()
	l.holder = nil
	if !k.opts.MLFQS {
		dst := cur.donors[:0]
		for _, d := range cur.donors {
			if d.waitingOn != l {
				dst = append(dst, d)
			}
		}
		cur.donors = dst
		k.refreshPriority(cur)
	}
	k.intrSetLevel(old)

	l.sem.Up()
}

// HeldByCurrent reports whether the current thread holds the lock.
func (l *Lock) HeldByCurrent() bool {
	return l.holder == l.k.cur
}

// Holder returns the holding thread, or nil. Kernel context only.
func (l *Lock) Holder() *Thread { return l.holder }

// donate walks the waits-for chain starting at a thread that just
// blocked (or re-ranked) and raises each holder to at least the
// walker's effective priority. The walk stops at donationDepth;
// pathologically deep chains keep stale priorities beyond the cap, by
// the documented contract.
func (k *Kernel) donate(from *Thread) {
	t := from
	for depth := 0; depth < donationDepth; depth++ {
		l := t.waitingOn
		if l == nil || l.holder == nil {
			return
		}
		h := l.holder
		if h.effPri >= t.effPri {
			return
		}
		k.setEffective(h, t.effPri)
		metricDonations.Inc()
		t = h
	}
}
