package telemetry

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters and gauges exposed on /metrics. The envelope counter is the
// delivery counter incremented on every store append.
var (
	EnvelopesAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentbus_envelopes_appended_total",
		Help: "Envelopes appended to the message store.",
	})
	FanoutWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentbus_fanout_writes_total",
		Help: "Envelope writes fanned out to live connections.",
	})
	FanoutDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentbus_fanout_drops_total",
		Help: "Envelope writes dropped because a connection buffer was full.",
	})
	AcksReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentbus_acks_received_total",
		Help: "Acknowledgments accepted by the ack manager.",
	})
	AckRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentbus_ack_retries_total",
		Help: "Redelivery attempts made by the ack sweep.",
	})
	AckTerminals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentbus_ack_terminal_total",
		Help: "Tracked sends reaching a terminal state.",
	}, []string{"state"})
	FilesEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentbus_room_files_evicted_total",
		Help: "Shared files evicted to stay under room capacity.",
	})
	LiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agentbus_live_connections",
		Help: "Currently registered transport connections.",
	})
	OpenRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agentbus_open_rooms",
		Help: "Active collaboration rooms.",
	})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agentbus_http_request_seconds",
		Help:    "HTTP request latency by path and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"path", "status"})
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack passes through to the underlying writer so websocket upgrades
// keep working behind the middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

// Middleware records request latency and status for every handler.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		srw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(srw, r)
		requestDuration.WithLabelValues(r.URL.Path, strconv.Itoa(srw.status)).
			Observe(time.Since(start).Seconds())
	})
}
