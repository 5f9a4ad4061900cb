// Package metrics wires the core's observability surface to
// prometheus/client_golang, the same metrics stack the teacher's own
// go.mod carries (github.com/prometheus/client_golang,
// github.com/prometheus/common) and that dantte-lp-gobfd's
// internal/metrics/collector.go mirrors for a comparable daemon.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Registry holds the gauges and counters shared by the rpc and storage
// packages. A nil *Registry is safe to use: every method no-ops on it, so
// embedding this module in a caller that doesn't care about metrics costs
// nothing. A Registry from NewRegistry records values from the start, but
// they are only exposed once Register attaches a prometheus.Registerer.
// The zero value Registry{} has no collectors and is not usable.
type Registry struct {
	liveClusterNodes  prometheus.Gauge
	reconnectAttempts prometheus.Counter
	lostNodes         prometheus.Counter

	storedRecords prometheus.Gauge
	garbageBytes  prometheus.Gauge
	garbageItems  prometheus.Gauge

	registered bool
}

// NewRegistry constructs the metric collectors but does not register them
// with any prometheus.Registerer; call Register to expose them.
func NewRegistry(namespace string) *Registry {
	return &Registry{
		liveClusterNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "live_cluster_nodes",
			Help: "Number of cluster peer sessions currently believed connected.",
		}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconnect_attempts_total",
			Help: "Total reconnect attempts issued by the cluster transport loss handler.",
		}),
		lostNodes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "lost_nodes_total",
			Help: "Total lost_node events emitted after exhausting the retry budget.",
		}),
		storedRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "storage_records",
			Help: "Approximate live record count reported by the storage backend.",
		}),
		garbageBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "storage_garbage_bytes",
			Help: "Bytes buffered in the deferred-deletion garbage queue.",
		}),
		garbageItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "storage_garbage_items",
			Help: "Entries buffered in the deferred-deletion garbage queue.",
		}),
	}
}

// Register attaches every collector to reg. Calling Register more than
// once, or with a nil Registry, is a no-op.
func (r *Registry) Register(reg prometheus.Registerer) {
	if r == nil || reg == nil || r.registered {
		return
	}
	reg.MustRegister(
		r.liveClusterNodes,
		r.reconnectAttempts,
		r.lostNodes,
		r.storedRecords,
		r.garbageBytes,
		r.garbageItems,
	)
	r.registered = true
}

func (r *Registry) SetLiveClusterNodes(n int) {
	if r == nil {
		return
	}
	r.liveClusterNodes.Set(float64(n))
}

func (r *Registry) IncReconnectAttempts() {
	if r == nil {
		return
	}
	r.reconnectAttempts.Inc()
}

func (r *Registry) IncLostNodes() {
	if r == nil {
		return
	}
	r.lostNodes.Inc()
}

func (r *Registry) SetStoredRecords(n uint64) {
	if r == nil {
		return
	}
	r.storedRecords.Set(float64(n))
}

func (r *Registry) SetGarbageQueue(items int, bytes int64) {
	if r == nil {
		return
	}
	r.garbageItems.Set(float64(items))
	r.garbageBytes.Set(float64(bytes))
}

// DumpText renders every metric family gathered from reg in the standard
// Prometheus text exposition format, using prometheus/common/expfmt the
// same way client_golang's own promhttp handler does internally. This is
// the operational surfacing hook for a daemon that wants to log or print
// its metrics snapshot without standing up an HTTP listener.
func DumpText(reg prometheus.Gatherer) (string, error) {
	families, err := reg.Gather()
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	enc := expfmt.NewEncoder(&sb, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return "", err
		}
	}
	return sb.String(), nil
}
