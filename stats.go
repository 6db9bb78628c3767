package kernos

import (
	"fmt"
	"strings"
	"text/tabwriter"
)

// Stats is a point-in-time snapshot of the kernel's counters. All
// fields are kept in atomics, so Stats is safe to call from any
// goroutine, including HTTP handlers outside the kernel.
type Stats struct {
	Ticks           int64
	IdleTicks       int64
	KernelTicks     int64
	ContextSwitches int64
	Live            int64
	Sleeping        int64
}

// Stats returns the current counters.
func (k *Kernel) Stats() Stats {
	return Stats{
		Ticks:           k.ticks.Load(),
		IdleTicks:       k.idleTicks.Load(),
		KernelTicks:     k.kernelTicks.Load(),
		ContextSwitches: k.switches.Load(),
		Live:            k.liveCount.Load(),
		Sleeping:        k.sleepCount.Load(),
	}
}

// Ticks returns the tick count, delivering any latched interrupts
// first. Kernel context only; outside the kernel use Stats.
func (k *Kernel) Ticks() int64 {
	k.cur.check()
	if !k.intrContext() && k.level == intrOn {
		k.drainInterrupts()
	}
	return k.ticks.Load()
}

// Elapsed returns the ticks passed since then, a value previously
// returned by Ticks.
func (k *Kernel) Elapsed(then int64) int64 {
	return k.Ticks() - then
}

// RenderThreads formats the thread table for debugging. Kernel context
// only: it reads TCBs, so a monitor thread renders it and hands the
// string to whatever serves it.
func (k *Kernel) RenderThreads() string {
	k.cur.check()
	old := k.intrDisable()

	var sb strings.Builder
	tw := tabwriter.NewWriter(&sb, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "tid\tname\tstatus\tpri\tbase\tdonors\twakeup\n")
	for _, t := range k.all {
		wake := "-"
		if t.wakeupTick != 0 {
			wake = fmt.Sprintf("%d", t.wakeupTick)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\t%s\n",
			t.tid, t.name, t.status, t.effPri, t.basePri, len(t.donors), wake)
	}
	tw.Flush()
	fmt.Fprintf(&sb, "\nticks=%d idle=%d kernel=%d switches=%d\n",
		k.ticks.Load(), k.idleTicks.Load(), k.kernelTicks.Load(), k.switches.Load())

	k.intrSetLevel(old)
	return sb.String()
}
