package timer

import (
	"github.com/dustin/go-humanize"
	sglog "github.com/sourcegraph/log"
)

// Calibrate measures loopsPerTick, the busy-wait loop count that fits
// in one tick, for the sub-tick sleep path. It approximates the count
// as the largest power of two under one tick, then refines the next 8
// bits. Call once at boot, from a kernel thread, with the device
// started and interrupts on: the measurement needs live ticks.
func (d *Device) Calibrate() {
	loopsPerTick := int64(1) << 10
	for !d.tooManyLoops(loopsPerTick << 1) {
		loopsPerTick <<= 1
		if loopsPerTick <= 0 {
			panic("timer: calibration overflow")
		}
	}

	highBit := loopsPerTick
	for testBit := highBit >> 1; testBit != highBit>>9; testBit >>= 1 {
		if !d.tooManyLoops(highBit | testBit) {
			loopsPerTick |= testBit
		}
	}

	d.loopsPerTick = loopsPerTick
	d.logger.Info("timer calibrated",
		sglog.String("loopsPerSecond", humanize.Comma(loopsPerTick*int64(d.freq))))
}

// LoopsPerTick returns the calibration result, zero before Calibrate.
func (d *Device) LoopsPerTick() int64 { return d.loopsPerTick }

// tooManyLoops reports whether a busy-wait of the given count outlasts
// one tick.
func (d *Device) tooManyLoops(loops int64) bool {
	// Wait for a tick boundary so the measurement starts fresh. Ticks
	// doubles as the interrupt delivery point while we spin.
	start := d.Ticks()
	for start == d.Ticks() {
	}

	start = d.Ticks()
	busyWait(loops)

	return d.Ticks() != start
}

// busySink defeats elimination of the wait loop. Only the running
// thread busy-waits, so the unsynchronized write is single-writer.
var busySink int64

// busyWait spins for the given loop count. The loop body must cost the
// same here as in tooManyLoops, which is why both go through this one
// function.
func busyWait(loops int64) {
	for ; loops > 0; loops-- {
		busySink++
	}
}
