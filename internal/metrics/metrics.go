package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal *prometheus.CounterVec
	votesCastTotal    prometheus.Counter
	wsConnections     prometheus.Gauge
	wsMessagesSent    prometheus.Counter
	wsBroadcastErrors prometheus.Counter
	registerOnce      sync.Once
)

// Register initializes Prometheus metrics on the default registry.
func Register() {
	registerOnce.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pollroom",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests processed by the poll API.",
		}, []string{"method", "path", "status"})
		votesCastTotal = promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "pollroom",
			Name:      "votes_cast_total",
			Help:      "Total votes committed to the ledger.",
		})
		wsConnections = promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "pollroom",
			Name:      "ws_connections",
			Help:      "Currently open watcher connections.",
		})
		wsMessagesSent = promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "pollroom",
			Name:      "ws_messages_sent_total",
			Help:      "Messages delivered to watcher connections.",
		})
		wsBroadcastErrors = promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "pollroom",
			Name:      "ws_broadcast_errors_total",
			Help:      "Failed or dropped watcher deliveries.",
		})
	})
}

// IncRequest increments the http_requests_total counter with the given labels.
func IncRequest(method, path string, status int) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
}

func IncVoteCast() {
	if votesCastTotal != nil {
		votesCastTotal.Inc()
	}
}

func ConnOpened() {
	if wsConnections != nil {
		wsConnections.Inc()
	}
}

func ConnClosed() {
	if wsConnections != nil {
		wsConnections.Dec()
	}
}

func IncMessageSent() {
	if wsMessagesSent != nil {
		wsMessagesSent.Inc()
	}
}

func IncBroadcastError() {
	if wsBroadcastErrors != nil {
		wsBroadcastErrors.Inc()
	}
}
