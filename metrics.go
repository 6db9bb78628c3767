package kernos

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kernos_timer_ticks_total",
		Help: "Timer interrupts delivered to the kernel.",
	})
	metricContextSwitches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kernos_sched_context_switches_total",
		Help: "Context switches performed by the scheduler.",
	})
	metricPreemptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kernos_sched_preemptions_total",
		Help: "Yields forced on the running thread, by cause.",
	}, []string{"cause"})
	metricReadyThreads = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kernos_sched_ready_threads",
		Help: "The current length of the ready queue.",
	})
	metricSleepingThreads = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kernos_sched_sleeping_threads",
		Help: "Threads blocked on a wakeup tick.",
	})
	metricLiveThreads = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kernos_threads_live",
		Help: "Live kernel threads, including idle and the initial thread.",
	})
	metricSemaWaits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kernos_sema_waits_total",
		Help: "Times a thread blocked on a semaphore.",
	})
	metricDonations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kernos_lock_donations_total",
		Help: "Priority donations applied along waits-for chains.",
	})
)
