// Command kernos boots the kernel with a demo workload so the
// scheduler can be watched: a few worker threads at mixed priorities
// contend on a lock, sleep, and get preempted, while a monitor thread
// publishes the thread table to the debug server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
	sglog "github.com/sourcegraph/log"
	"go.uber.org/atomic"

	"github.com/kernos/kernos"
	"github.com/kernos/kernos/debugserver"
	"github.com/kernos/kernos/timer"
)

func main() {
	liblog := sglog.Init(sglog.Resource{
		Name:    "kernos",
		Version: kernos.Version,
	})
	defer liblog.Sync()

	root := &ffcli.Command{
		Name:       "kernos",
		ShortUsage: "kernos <subcommand>",
		Subcommands: []*ffcli.Command{
			runCmd(),
			calibrateCmd(),
		},
		Exec: func(ctx context.Context, args []string) error {
			return flag.ErrHelp
		},
	}

	if err := root.ParseAndRun(context.Background(), os.Args[1:]); err != nil && err != flag.ErrHelp {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *ffcli.Command {
	fs := flag.NewFlagSet("kernos run", flag.ExitOnError)
	freq := fs.Int("timer_freq", timer.DefaultFreq, "timer interrupts per second, in [19, 1000]")
	slice := fs.Int("time_slice", kernos.DefaultTimeSlice, "scheduling quantum in ticks")
	mlfqs := fs.Bool("mlfqs", false, "boot in MLFQS mode: disables priority donation (the MLFQS policy itself is not implemented)")
	workers := fs.Int("workers", 4, "demo worker threads")
	seconds := fs.Int("duration", 10, "seconds to run before shutting down, 0 for forever")
	listen := fs.String("listen", ":6070", "address for the debug server, empty to disable")

	return &ffcli.Command{
		Name:       "run",
		ShortUsage: "kernos run [flags]",
		ShortHelp:  "boot the kernel and run the demo workload",
		FlagSet:    fs,
		Options:    []ff.Option{ff.WithEnvVarPrefix("KERNOS")},
		Exec: func(ctx context.Context, args []string) error {
			return run(ctx, *freq, *slice, *mlfqs, *workers, *seconds, *listen)
		},
	}
}

func run(ctx context.Context, freq, slice int, mlfqs bool, workers, seconds int, listen string) error {
	logger := sglog.Scoped("run", "demo workload")

	k, err := kernos.New(kernos.Options{TimeSlice: slice, MLFQS: mlfqs})
	if err != nil {
		return err
	}
	d, err := timer.New(k, timer.Options{Freq: freq})
	if err != nil {
		return err
	}

	k.Start()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.Start(ctx)
	d.Calibrate()

	// The handlers run outside the kernel, so the monitor thread
	// renders the table and the handlers serve the last snapshot.
	var table atomic.String
	if listen != "" {
		mux := http.NewServeMux()
		debugserver.AddHandlers(mux, debugserver.Options{
			Kernel:      k,
			ThreadTable: table.Load,
			EnablePprof: true,
		})
		go func() {
			logger.Info("debug server listening", sglog.String("addr", listen))
			if err := http.ListenAndServe(listen, mux); err != nil {
				logger.Error("debug server failed", sglog.Error(err))
			}
		}()
	}

	if _, err := k.Create("monitor", kernos.PriDefault+10, func() {
		for {
			table.Store(k.RenderThreads())
			d.Sleep(int64(d.Freq()))
		}
	}); err != nil {
		return err
	}

	lock := k.NewLock()
	shared := 0
	for i := 0; i < workers; i++ {
		i := i
		pri := kernos.PriDefault - 5 + i*3
		if pri > kernos.PriMax {
			pri = kernos.PriMax
		}
		name := fmt.Sprintf("worker-%d", i)
		if _, err := k.Create(name, pri, func() {
			for {
				lock.Acquire()
				shared++
				lock.Release()
				// Stagger the workers so every priority gets air time
				// in the table.
				d.Sleep(int64(1 + i))
				k.Preempt()
			}
		}); err != nil {
			return err
		}
	}

	if seconds == 0 {
		for {
			d.Sleep(int64(d.Freq()))
		}
	}
	d.Sleep(int64(seconds * d.Freq()))

	s := k.Stats()
	logger.Info("shutting down",
		sglog.Int64("ticks", s.Ticks),
		sglog.Int64("idleTicks", s.IdleTicks),
		sglog.Int64("contextSwitches", s.ContextSwitches),
		sglog.Int("sharedCount", shared))
	d.PrintStats()
	return nil
}

func calibrateCmd() *ffcli.Command {
	fs := flag.NewFlagSet("kernos calibrate", flag.ExitOnError)
	freq := fs.Int("timer_freq", timer.DefaultFreq, "timer interrupts per second, in [19, 1000]")

	return &ffcli.Command{
		Name:       "calibrate",
		ShortUsage: "kernos calibrate [flags]",
		ShortHelp:  "boot, calibrate the busy-wait loop, and report loops per second",
		FlagSet:    fs,
		Options:    []ff.Option{ff.WithEnvVarPrefix("KERNOS")},
		Exec: func(ctx context.Context, args []string) error {
			k, err := kernos.New(kernos.Options{})
			if err != nil {
				return err
			}
			d, err := timer.New(k, timer.Options{Freq: *freq})
			if err != nil {
				return err
			}
			k.Start()
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			d.Start(ctx)
			d.Calibrate()
			fmt.Printf("%d loops per tick at %d Hz\n", d.LoopsPerTick(), d.Freq())
			return nil
		},
	}
}
