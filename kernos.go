// Package kernos implements the thread scheduler and synchronization core
// of a small teaching operating system: a preemptive strict-priority
// round-robin scheduler, tick-driven sleep, counting semaphores, locks
// with priority donation, and Mesa-style condition variables.
//
// The kernel is uniprocessor. Every kernel thread is backed by a
// goroutine, but at most one of those goroutines is runnable at a time:
// the rest are parked on their thread's resume channel. All scheduler
// state is therefore owned by the single running context and is guarded
// by interrupt masking, not by locks. The only state shared with other
// goroutines is the timer device's tick latch, which is atomic.
//
// A consequence of the goroutine model is that external interrupts are
// delivered when the running thread crosses an interrupt-enable boundary
// (every kernel entry point does) or when the idle thread waits for the
// device, not at arbitrary instructions. Compute-bound threads that
// never enter the kernel should call Preempt from their loops, the same
// way long kernel loops in a real kernel re-enable interrupts.
package kernos

import (
	"fmt"

	sglog "github.com/sourcegraph/log"
	"go.uber.org/atomic"

	"github.com/kernos/kernos/internal/palloc"
)

// Version of kernos. Set by the release process.
var Version = "0.0.0-dev"

// Priority limits. Higher values are higher priority.
const (
	PriMin     = 0
	PriDefault = 31
	PriMax     = 63
)

// DefaultTimeSlice is how many ticks a thread may run before the tick
// handler requests a yield.
const DefaultTimeSlice = 4

// donationDepth bounds the donate walk along the waits-for chain. Deeper
// chains keep their stale priorities; tests rely on the cap being 8.
const donationDepth = 8

// Options configures a Kernel.
type Options struct {
	// TimeSlice is the scheduling quantum in ticks. Defaults to
	// DefaultTimeSlice.
	TimeSlice int

	// MaxThreads is the size of the stack page pool. Each created
	// thread, idle included, pins one page until it is reaped; the
	// initial thread runs on the boot stack and pins none. Create fails
	// once the pool is empty. Defaults to palloc.DefaultPoolSize.
	MaxThreads int

	// MLFQS selects the multi-level feedback queue scheduler. The MLFQS
	// policy itself is not implemented: the flag disables priority
	// donation, so locks degrade to plain semaphores, and the
	// Nice/LoadAvg/RecentCPU stubs are its only other surface.
	MLFQS bool

	// Logger receives boot and thread lifecycle events. Defaults to a
	// scoped logger from the global log instance.
	Logger sglog.Logger
}

// Kernel is one simulated CPU plus its scheduler state. All methods
// except Tick and Stats must be called from a kernel thread, that is
// from the goroutine that booted the kernel or from a thread entry
// function.
type Kernel struct {
	opts   Options
	logger sglog.Logger

	// Interrupt state. Owned by the running context; see intr.go.
	level         intrLevel
	inHandler     bool
	yieldOnReturn bool

	// Device-facing tick latch. The only cross-goroutine state.
	pending *atomic.Int64
	devWake chan struct{}

	cur     *Thread
	initial *Thread
	idle    *Thread

	ready    readyQueue
	readySeq int64

	sleepers       []*Thread
	earliestWakeup int64

	all    []*Thread
	dying  []*Thread
	tidSeq TID

	// Tick accounting. Atomics so Stats is readable from any goroutine.
	ticks       *atomic.Int64
	idleTicks   *atomic.Int64
	kernelTicks *atomic.Int64
	switches    *atomic.Int64
	liveCount   *atomic.Int64
	sleepCount  *atomic.Int64

	sliceTicks int

	pages *palloc.Pool

	started     bool
	idleStarted *Sema
}

// New initializes a kernel and turns the calling goroutine into its
// initial thread, named "main", at PriDefault. Interrupts are off until
// Start.
func New(opts Options) (*Kernel, error) {
	if opts.TimeSlice == 0 {
		opts.TimeSlice = DefaultTimeSlice
	}
	if opts.TimeSlice < 1 {
		return nil, fmt.Errorf("kernos: time slice %d out of range", opts.TimeSlice)
	}
	if opts.MaxThreads == 0 {
		opts.MaxThreads = palloc.DefaultPoolSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = sglog.Scoped("kernos", "kernel thread scheduler")
	}

	k := &Kernel{
		opts:   opts,
		logger: logger,

		level:   intrOff,
		pending: atomic.NewInt64(0),
		devWake: make(chan struct{}, 1),

		earliestWakeup: noWakeup,

		ticks:       atomic.NewInt64(0),
		idleTicks:   atomic.NewInt64(0),
		kernelTicks: atomic.NewInt64(0),
		switches:    atomic.NewInt64(0),
		liveCount:   atomic.NewInt64(0),
		sleepCount:  atomic.NewInt64(0),

		pages: palloc.NewPool(opts.MaxThreads),
	}

	main := &Thread{
		tid:      k.allocateTID(),
		name:     "main",
		status:   StatusRunning,
		basePri:  PriDefault,
		effPri:   PriDefault,
		park:     make(chan struct{}, 1),
		readyIdx: -1,
		magic:    threadMagic,
	}
	k.cur = main
	k.initial = main
	k.all = append(k.all, main)
	k.liveCount.Inc()
	metricLiveThreads.Inc()

	return k, nil
}

// Start finishes booting: it creates the idle thread and enables
// interrupts. It must be called exactly once, from the initial thread.
func (k *Kernel) Start() {
	k.cur.check()
	if k.started {
		panic("kernos: Start called twice")
	}
	k.started = true

	// The idle semaphore lets us wait until the idle thread has run
	// once and recorded itself, so nextThreadToRun always has a
	// fallback before Start returns.
	k.idleStarted = k.NewSema(0)
	if _, err := k.Create("idle", PriMin, k.idleMain); err != nil {
		panic("kernos: creating idle thread: " + err.Error())
	}

	k.intrEnable()
	k.idleStarted.Down()

	k.logger.Info("kernel started",
		sglog.Int("timeSlice", k.opts.TimeSlice),
		sglog.Bool("mlfqs", k.opts.MLFQS))
}

// MLFQS reports whether the kernel was booted with the MLFQS flag.
func (k *Kernel) MLFQS() bool { return k.opts.MLFQS }

// Nice returns the current thread's nice value.
//
// The MLFQS policy is declared but not implemented; this and the
// accessors below exist so MLFQS-mode callers link against a stable
// surface.
func (k *Kernel) Nice() int { return 0 }

// SetNice sets the current thread's nice value. Not implemented.
func (k *Kernel) SetNice(nice int) {}

// LoadAvg returns 100 times the system load average. Not implemented.
func (k *Kernel) LoadAvg() int { return 0 }

// RecentCPU returns 100 times the current thread's recent_cpu value.
// Not implemented.
func (k *Kernel) RecentCPU() int { return 0 }
