// Package debugserver wires the kernel's observability onto an HTTP
// mux: the thread table, prometheus metrics, expvar, pprof and net
// traces.
package debugserver

import (
	"expvar"
	"fmt"
	"net/http"
	"net/http/pprof"
	"runtime"
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/trace"

	"github.com/kernos/kernos"
)

// Options configures the handlers.
type Options struct {
	// Kernel serves /stats. Required.
	Kernel *kernos.Kernel

	// ThreadTable returns the latest rendered thread table. The table
	// reads TCBs so it must be produced inside the kernel; a monitor
	// thread renders it periodically and this just serves the string.
	// Optional.
	ThreadTable func() string

	// EnablePprof adds the pprof handlers.
	EnablePprof bool
}

// AddHandlers registers the debug pages on mux.
func AddHandlers(mux *http.ServeMux, opts Options) {
	trace.AuthRequest = func(req *http.Request) (any, sensitive bool) {
		return true, true
	}

	index := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`
				<a href="threads">Threads</a><br>
				<a href="stats">Stats</a><br>
				<a href="vars">Vars</a><br>
				<a href="debug/pprof/">PProf</a><br>
				<a href="metrics">Metrics</a><br>
				<a href="debug/requests">Requests</a><br>
				<a href="debug/events">Events</a><br>
			`))
		_, _ = w.Write([]byte(`
				<br>
				<form method="post" action="gc" style="display: inline;"><input type="submit" value="GC"></form>
				<form method="post" action="freeosmemory" style="display: inline;"><input type="submit" value="Free OS Memory"></form>
			`))
	})
	mux.Handle("/debug", index)
	mux.Handle("/threads", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if opts.ThreadTable == nil {
			http.Error(w, "no thread table source configured", http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(opts.ThreadTable()))
	}))
	mux.Handle("/stats", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := opts.Kernel.Stats()
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "ticks %d\nidle_ticks %d\nkernel_ticks %d\ncontext_switches %d\nlive_threads %d\nsleeping_threads %d\n",
			s.Ticks, s.IdleTicks, s.KernelTicks, s.ContextSwitches, s.Live, s.Sleeping)
	}))
	mux.Handle("/vars", http.HandlerFunc(expvarHandler))
	mux.Handle("/gc", http.HandlerFunc(gcHandler))
	mux.Handle("/freeosmemory", http.HandlerFunc(freeOSMemoryHandler))
	if opts.EnablePprof {
		mux.Handle("/debug/pprof/", http.HandlerFunc(pprof.Index))
		mux.Handle("/debug/pprof/cmdline", http.HandlerFunc(pprof.Cmdline))
		mux.Handle("/debug/pprof/profile", http.HandlerFunc(pprof.Profile))
		mux.Handle("/debug/pprof/symbol", http.HandlerFunc(pprof.Symbol))
		mux.Handle("/debug/pprof/trace", http.HandlerFunc(pprof.Trace))
	}
	mux.Handle("/debug/requests", http.HandlerFunc(trace.Traces))
	mux.Handle("/debug/events", http.HandlerFunc(trace.Events))
	mux.Handle("/metrics", promhttp.Handler())
}

func expvarHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	fmt.Fprintf(w, "{\n")
	first := true
	expvar.Do(func(kv expvar.KeyValue) {
		if !first {
			fmt.Fprintf(w, ",\n")
		}
		first = false
		fmt.Fprintf(w, "%q: %s", kv.Key, kv.Value)
	})
	fmt.Fprintf(w, "\n}\n")
}

func gcHandler(w http.ResponseWriter, r *http.Request) {
	runtime.GC()
	w.WriteHeader(http.StatusOK)
}

func freeOSMemoryHandler(w http.ResponseWriter, r *http.Request) {
	debug.FreeOSMemory()
	w.WriteHeader(http.StatusOK)
}
