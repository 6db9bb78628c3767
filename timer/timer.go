// Package timer is the periodic tick device and the timed-sleep front
// end of the kernel. The device posts one interrupt per tick into the
// kernel's latch; sleeping converts durations to ticks and parks the
// caller on the kernel's sleep list. Sub-tick delays busy-wait against
// a loop count calibrated once at boot.
package timer

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	sglog "github.com/sourcegraph/log"

	"github.com/kernos/kernos"
)

// DefaultFreq is the tick rate in Hz when none is configured.
const DefaultFreq = 100

// Freq bounds, inherited from the 8254 the original drove: below 19 Hz
// the divisor does not fit, above 1000 Hz ticks outrun the scheduler.
const (
	MinFreq = 19
	MaxFreq = 1000
)

// Options configures a Device.
type Options struct {
	// Freq is the tick rate in Hz, in [MinFreq, MaxFreq]. Defaults to
	// DefaultFreq.
	Freq int

	// Clock drives Start's tick loop. Defaults to the wall clock;
	// tests inject a mock.
	Clock clock.Clock

	// Logger receives the calibration result and statistics.
	Logger sglog.Logger
}

// Device is the periodic timer. One per kernel.
type Device struct {
	k      *kernos.Kernel
	freq   int
	clk    clock.Clock
	logger sglog.Logger

	// loopsPerTick is the calibrated busy-wait cost of one tick. Zero
	// until Calibrate runs.
	loopsPerTick int64
}

// New returns a timer device for the kernel.
func New(k *kernos.Kernel, opts Options) (*Device, error) {
	if opts.Freq == 0 {
		opts.Freq = DefaultFreq
	}
	if opts.Freq < MinFreq || opts.Freq > MaxFreq {
		return nil, fmt.Errorf("timer: frequency %d outside [%d, %d]", opts.Freq, MinFreq, MaxFreq)
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = sglog.Scoped("timer", "periodic tick device")
	}
	return &Device{
		k:      k,
		freq:   opts.Freq,
		clk:    opts.Clock,
		logger: logger,
	}, nil
}

// Freq returns the tick rate in Hz.
func (d *Device) Freq() int { return d.freq }

// Period returns the wall-clock duration of one tick.
func (d *Device) Period() time.Duration {
	return time.Second / time.Duration(d.freq)
}

// Start runs the tick loop on its own goroutine until ctx is done. It
// returns immediately.
func (d *Device) Start(ctx context.Context) {
	ticker := d.clk.Ticker(d.Period())
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.k.Tick()
			}
		}
	}()
}

// Interrupt posts a single tick, as the hardware line would. Drivers
// and tests that want full control call this instead of Start.
func (d *Device) Interrupt() {
	d.k.Tick()
}

// Ticks returns the number of ticks since boot. Kernel context only.
func (d *Device) Ticks() int64 {
	return d.k.Ticks()
}

// Elapsed returns the ticks passed since then, a value previously
// returned by Ticks.
func (d *Device) Elapsed(then int64) int64 {
	return d.k.Elapsed(then)
}

// Sleep suspends the current thread for approximately ticks timer
// ticks: it wakes no earlier than now+ticks, and as soon after as the
// scheduler allows. Interrupts must be on.
func (d *Device) Sleep(ticks int64) {
	start := d.Ticks()
	if ticks <= 0 {
		return
	}
	d.k.SleepUntil(start + ticks)
}

// SleepMS suspends the current thread for approximately ms
// milliseconds.
func (d *Device) SleepMS(ms int64) {
	d.realTimeSleep(ms, 1000)
}

// SleepUS suspends the current thread for approximately us
// microseconds.
func (d *Device) SleepUS(us int64) {
	d.realTimeSleep(us, 1000*1000)
}

// SleepNS suspends the current thread for approximately ns
// nanoseconds.
func (d *Device) SleepNS(ns int64) {
	d.realTimeSleep(ns, 1000*1000*1000)
}

// realTimeSleep sleeps for num/denom seconds: as a tick sleep when that
// rounds to at least one tick, as a calibrated busy-wait otherwise.
func (d *Device) realTimeSleep(num int64, denom int64) {
	// num/denom seconds is num*freq/denom ticks, truncated.
	ticks := num * int64(d.freq) / denom
	if ticks > 0 {
		// At least one full tick: hand the CPU to someone else.
		d.Sleep(ticks)
		return
	}
	// The ordering below keeps num*freq from overflowing for the
	// denominators the sleep entry points use.
	busyWait(d.loopsPerTick * num / 1000 * int64(d.freq) / (denom / 1000))
}

// PrintStats logs the timer statistics. Kernel context only.
func (d *Device) PrintStats() {
	d.logger.Info("timer statistics", sglog.Int64("ticks", d.Ticks()))
}
