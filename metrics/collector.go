package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "codepool"

// Collector records pool events
type Collector struct {
	registry *prometheus.Registry

	cacheLookups      *prometheus.CounterVec
	containersCreated *prometheus.CounterVec
	containersRemoved *prometheus.CounterVec
	executions        *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	monitorKills      *prometheus.CounterVec
	poolSize          *prometheus.GaugeVec
}

// New creates a collector on a fresh registry, including Go runtime and process metrics
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Result cache lookups by result (hit or miss)",
		}, []string{"result"}),
		containersCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "containers_created_total",
			Help:      "Containers created per language",
		}, []string{"language"}),
		containersRemoved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "containers_destroyed_total",
			Help:      "Containers removed per language and reason",
		}, []string{"language", "reason"}),
		executions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Compile requests per language and outcome",
		}, []string{"language", "outcome"}),
		executionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Compile request latency",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"language"}),
		monitorKills: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_kills_total",
			Help:      "Containers killed for exceeding the memory limit",
		}, []string{"language"}),
		poolSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_containers",
			Help:      "Tracked containers per language",
		}, []string{"language"}),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry returns the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}

func (c *Collector) ContainerCreated(language string) {
	c.containersCreated.WithLabelValues(language).Inc()
}

func (c *Collector) ContainerDestroyed(language, reason string) {
	c.containersRemoved.WithLabelValues(language, reason).Inc()
}

func (c *Collector) ExecutionFinished(language, outcome string, elapsed time.Duration) {
	c.executions.WithLabelValues(language, outcome).Inc()
	c.executionDuration.WithLabelValues(language).Observe(elapsed.Seconds())
}

func (c *Collector) MonitorKill(language string) {
	c.monitorKills.WithLabelValues(language).Inc()
}

func (c *Collector) PoolSize(language string, size int) {
	c.poolSize.WithLabelValues(language).Set(float64(size))
}
