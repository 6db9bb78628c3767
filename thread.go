package kernos

import (
	"fmt"
	"runtime"

	sglog "github.com/sourcegraph/log"

	"github.com/kernos/kernos/internal/palloc"
)

// TID identifies a thread. TIDs are allocated monotonically and never
// reused.
type TID int32

// TIDError is returned by Thread.TID on a reaped thread and is never a
// valid identity.
const TIDError TID = -1

// threadMagic is stamped into every live TCB and cleared on reap.
// Kernel entry points assert it to catch use of a destroyed thread.
const threadMagic uint32 = 0xcd6abf4b

// Status is a thread's scheduling state.
type Status int32

const (
	// StatusRunning is the unique thread executing on the CPU.
	StatusRunning Status = iota
	// StatusReady means runnable and on the ready queue.
	StatusReady
	// StatusBlocked means waiting on a semaphore or a wakeup tick.
	StatusBlocked
	// StatusDying means exited and awaiting reap by the scheduler.
	StatusDying
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "RUNNING"
	case StatusReady:
		return "READY"
	case StatusBlocked:
		return "BLOCKED"
	case StatusDying:
		return "DYING"
	}
	return fmt.Sprintf("Status(%d)", int32(s))
}

// Thread is a thread control block. All fields are kernel state: they
// are mutated only with interrupts off, by the running context.
//
// A thread is a member of at most one of the ready queue, one
// semaphore's waiter list, or the sleep list, which is implied by its
// status: READY means ready queue, BLOCKED means exactly one of the
// other two.
type Thread struct {
	tid  TID
	name string

	status Status

	// basePri is the intrinsic priority; effPri is what the scheduler
	// observes: max of basePri and every active donor's effPri.
	basePri int
	effPri  int

	// wakeupTick is the sleep deadline while on the sleep list.
	wakeupTick int64

	// waitingOn is the lock this thread is blocked acquiring, and
	// induces the waits-for chain the donation walk follows.
	waitingOn *Lock

	// donors are the threads currently donating to this thread, one
	// entry per thread blocked on a lock this thread holds. Mutated
	// only by operations on those locks.
	donors []*Thread

	// park is the machine context of the simulation: a one-slot
	// channel the thread's goroutine blocks on whenever the thread is
	// off CPU. Sending the token is the context switch.
	park chan struct{}

	// Ready queue bookkeeping; readyIdx is -1 while off the queue.
	readyIdx int
	readySeq int64

	// waitSeq orders waiters of equal priority on a semaphore.
	waitSeq int64

	// draining marks a thread mid interrupt drain; see intr.go.
	draining bool

	entry func()
	page  *palloc.Page

	magic uint32
}

// check panics if t is not a live thread. Equivalent to the stack
// sentinel assertion of the original: a cleared or wrong magic means a
// reaped or corrupted TCB.
func (t *Thread) check() {
	if t == nil || t.magic != threadMagic {
		panic("kernos: not a live thread")
	}
}

// TID returns the thread's identity, or TIDError if it was reaped.
func (t *Thread) TID() TID {
	if t == nil || t.magic != threadMagic {
		return TIDError
	}
	return t.tid
}

// Name returns the name the thread was created with.
func (t *Thread) Name() string { return t.name }

// Status returns the thread's scheduling state. Kernel context only.
func (t *Thread) Status() Status { return t.status }

// Priority returns the thread's effective priority. Kernel context
// only.
func (t *Thread) Priority() int { return t.effPri }

// BasePriority returns the thread's intrinsic priority. Kernel context
// only.
func (t *Thread) BasePriority() int { return t.basePri }

func (k *Kernel) allocateTID() TID {
	k.tidSeq++
	return k.tidSeq
}

// Current returns the running thread.
func (k *Kernel) Current() *Thread {
	t := k.cur
	t.check()
	return t
}

// Create spawns a new kernel thread at the given priority and makes it
// READY. If the new thread has higher effective priority than the
// caller, the caller yields before Create returns. Create fails only
// when the stack page pool is exhausted.
func (k *Kernel) Create(name string, priority int, fn func()) (*Thread, error) {
	if k.intrContext() {
		panic("kernos: Create from interrupt context")
	}
	if priority < PriMin || priority > PriMax {
		panic(fmt.Sprintf("kernos: priority %d out of range", priority))
	}
	if fn == nil {
		panic("kernos: Create with nil function")
	}
	k.cur.check()

	page, err := k.pages.Get()
	if err != nil {
		return nil, fmt.Errorf("creating thread %q: %w", name, err)
	}

	t := &Thread{
		name:     name,
		status:   StatusBlocked,
		basePri:  priority,
		effPri:   priority,
		park:     make(chan struct{}, 1),
		readyIdx: -1,
		entry:    fn,
		page:     page,
		magic:    threadMagic,
	}

	old := k.intrDisable()
	t.tid = k.allocateTID()
	k.all = append(k.all, t)
	k.liveCount.Inc()
	metricLiveThreads.Inc()
	go k.threadMain(t)
	k.unblockLocked(t)
	preempt := k.shouldPreempt()
	k.intrSetLevel(old)

	k.logger.Debug("thread created",
		sglog.Int("tid", int(t.tid)),
		sglog.String("name", name),
		sglog.Int("priority", priority))

	k.finishPreempt(preempt)
	return t, nil
}

// threadMain is the goroutine body backing a kernel thread. The first
// dispatch arrives as a token on the park channel; the thread then runs
// its function with interrupts enabled and exits if it returns.
func (k *Kernel) threadMain(t *Thread) {
	<-t.park
	k.intrEnable()
	t.entry()
	k.Exit()
}

// Exit terminates the current thread. It never returns; the thread is
// reaped at a later scheduling decision, except for the initial thread,
// which is exempt.
func (k *Kernel) Exit() {
	if k.intrContext() {
		panic("kernos: Exit from interrupt context")
	}
	cur := k.cur
	cur.check()

	k.logger.Debug("thread exiting", sglog.Int("tid", int(cur.tid)), sglog.String("name", cur.name))

	k.intrDisable()
	cur.status = StatusDying
	k.liveCount.Dec()
	metricLiveThreads.Dec()
	k.schedule()
	runtime.Goexit()
}

// Yield moves the current thread to the back of its priority class and
// schedules. It may return immediately if no thread of equal or higher
// priority is ready.
func (k *Kernel) Yield() {
	if k.intrContext() {
		panic("kernos: Yield from interrupt context")
	}
	cur := k.cur
	cur.check()

	old := k.intrDisable()
	if cur != k.idle {
		k.readyPush(cur)
	}
	cur.status = StatusReady
	k.schedule()
	k.intrSetLevel(old)
}

// Block transitions the current thread to BLOCKED and schedules another
// thread. Interrupts must already be off, and the caller must have
// arranged for a later Unblock; blocking is otherwise forever.
func (k *Kernel) Block() {
	if k.intrContext() {
		panic("kernos: Block from interrupt context")
	}
	if k.level != intrOff {
		panic("kernos: Block with interrupts enabled")
	}
	cur := k.cur
	cur.check()
	cur.status = StatusBlocked
	k.schedule()
}

// Unblock makes a BLOCKED thread READY. Unlike Yield this is safe from
// the tick handler. If the woken thread outranks the running one the
// running one yields, immediately in thread context or on return from
// the handler.
func (k *Kernel) Unblock(t *Thread) {
	t.check()
	old := k.intrDisable()
	k.unblockLocked(t)
	preempt := k.shouldPreempt()
	k.intrSetLevel(old)
	k.finishPreempt(preempt)
}

// unblockLocked is Unblock without the preemption check. Interrupts
// must be off.
func (k *Kernel) unblockLocked(t *Thread) {
	t.check()
	if t.status != StatusBlocked {
		panic("kernos: unblocking a thread that is not blocked")
	}
	// A spurious unblock of a sleeper abandons its deadline.
	k.removeSleeper(t)
	k.readyPush(t)
	t.status = StatusReady
}

// shouldPreempt reports whether a READY thread outranks the running
// one. Interrupts must be off.
func (k *Kernel) shouldPreempt() bool {
	head := k.readyPeek()
	return head != nil && head.effPri > k.cur.effPri
}

// finishPreempt yields the CPU if a preemption check fired: directly in
// thread context, on handler return in interrupt context.
func (k *Kernel) finishPreempt(preempt bool) {
	if !preempt {
		return
	}
	metricPreemptions.WithLabelValues("priority").Inc()
	if k.intrContext() {
		k.yieldOnReturn = true
	} else {
		k.Yield()
	}
}

// SetPriority changes the current thread's base priority. Donations
// stay in effect: the effective priority never drops below an active
// donor's. If the change surrenders the CPU's rank the thread yields.
// Ignored in MLFQS mode, where priorities are computed, not set.
func (k *Kernel) SetPriority(priority int) {
	if priority < PriMin || priority > PriMax {
		panic(fmt.Sprintf("kernos: priority %d out of range", priority))
	}
	if k.opts.MLFQS {
		return
	}
	cur := k.cur
	cur.check()

	old := k.intrDisable()
	cur.basePri = priority
	k.refreshPriority(cur)
	preempt := k.shouldPreempt()
	k.intrSetLevel(old)
	k.finishPreempt(preempt)
}

// Priority returns the current thread's effective priority.
func (k *Kernel) Priority() int {
	return k.Current().effPri
}

// setEffective updates a thread's effective priority, keeping the
// ready queue ordered if the thread is on it.
func (k *Kernel) setEffective(t *Thread, priority int) {
	if t.effPri == priority {
		return
	}
	t.effPri = priority
	if t.status == StatusReady {
		k.readyFix(t)
	}
}

// refreshPriority recomputes a thread's effective priority from its
// base and remaining donors. Interrupts must be off.
func (k *Kernel) refreshPriority(t *Thread) {
	eff := t.basePri
	for _, d := range t.donors {
		if d.effPri > eff {
			eff = d.effPri
		}
	}
	k.setEffective(t, eff)
}
