package metrics

import (
	"github.com/ValentinKolb/dCall/lib/pool"
	"github.com/prometheus/client_golang/prometheus"
)

// SnapshotSource provides the pool statistics exported by PoolCollector
type SnapshotSource func() []pool.Snapshot

// PoolCollector exports pool snapshots on every scrape, so the pools themselves
// stay free of metric bookkeeping
type PoolCollector struct {
	source SnapshotSource

	size      *prometheus.Desc
	maxSize   *prometheus.Desc
	largest   *prometheus.Desc
	active    *prometheus.Desc
	queued    *prometheus.Desc
	capacity  *prometheus.Desc
	completed *prometheus.Desc
	rejected  *prometheus.Desc
}

// NewPoolCollector creates a collector over the snapshots returned by source
func NewPoolCollector(source SnapshotSource) *PoolCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "pool", name), help, []string{"pool"}, nil)
	}
	return &PoolCollector{
		source:    source,
		size:      desc("workers", "Current number of workers"),
		maxSize:   desc("max_workers", "Configured maximum number of workers"),
		largest:   desc("largest_workers", "Largest number of workers seen"),
		active:    desc("active_tasks", "Tasks currently running"),
		queued:    desc("queued_tasks", "Tasks waiting for a worker"),
		capacity:  desc("queue_capacity", "Configured queue capacity"),
		completed: desc("completed_tasks_total", "Tasks that finished"),
		rejected:  desc("rejected_tasks_total", "Submissions rejected because the pool was saturated"),
	}
}

// Sources combines several snapshot sources
func Sources(sources ...SnapshotSource) SnapshotSource {
	return func() []pool.Snapshot {
		var out []pool.Snapshot
		for _, s := range sources {
			out = append(out, s()...)
		}
		return out
	}
}

// PoolSource adapts single pools to a snapshot source
func PoolSource(pools ...*pool.Pool) SnapshotSource {
	return func() []pool.Snapshot {
		out := make([]pool.Snapshot, len(pools))
		for i, p := range pools {
			out[i] = p.Snapshot()
		}
		return out
	}
}

func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{c.size, c.maxSize, c.largest, c.active, c.queued, c.capacity, c.completed, c.rejected} {
		ch <- d
	}
}

func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.source() {
		gauge := func(d *prometheus.Desc, v float64) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, s.Name)
		}
		counter := func(d *prometheus.Desc, v float64) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, s.Name)
		}
		gauge(c.size, float64(s.PoolSize))
		gauge(c.maxSize, float64(s.MaxSize))
		gauge(c.largest, float64(s.LargestPoolSize))
		gauge(c.active, float64(s.Active))
		gauge(c.queued, float64(s.Queued))
		gauge(c.capacity, float64(s.QueueCapacity))
		counter(c.completed, float64(s.Completed))
		counter(c.rejected, float64(s.Rejected))
	}
}
