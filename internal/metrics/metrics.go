package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the BUSCAÍ collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "buscai",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buscai",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "buscai",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "route"},
	)

	searches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buscai",
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Searches served by channel.",
		},
		[]string{"channel"},
	)

	auctionCharges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buscai",
			Subsystem: "auction",
			Name:      "charged_brl_total",
			Help:      "Sum of impression charges held, by position.",
		},
		[]string{"position"},
	)

	recharges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buscai",
			Subsystem: "billing",
			Name:      "recharges_total",
			Help:      "Recharge state transitions.",
		},
		[]string{"status"},
	)

	whatsappMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buscai",
			Subsystem: "whatsapp",
			Name:      "messages_total",
			Help:      "Inbound WhatsApp messages by type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	serpapiCandidates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buscai",
			Subsystem: "serpapi",
			Name:      "candidates_total",
			Help:      "Imported SerpAPI candidates by initial status.",
		},
		[]string{"status"},
	)

	jobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buscai",
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Scheduled job executions.",
		},
		[]string{"job", "success"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		searches,
		auctionCharges,
		recharges,
		whatsappMessages,
		serpapiCandidates,
		jobRuns,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler exposes the registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the router with HTTP metrics. Routes are labelled
// with the chi pattern so ids do not explode cardinality.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		route := routePattern(r)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

func RecordSearch(channel string) {
	searches.WithLabelValues(channel).Inc()
}

func RecordAuctionCharge(position int, amount float64) {
	auctionCharges.WithLabelValues(strconv.Itoa(position)).Add(amount)
}

func RecordRecharge(status string) {
	recharges.WithLabelValues(status).Inc()
}

func RecordWhatsAppMessage(msgType, outcome string) {
	whatsappMessages.WithLabelValues(msgType, outcome).Inc()
}

func RecordSerpAPICandidate(status string) {
	serpapiCandidates.WithLabelValues(status).Inc()
}

func RecordJobRun(job string, success bool) {
	jobRuns.WithLabelValues(job, strconv.FormatBool(success)).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack is needed by the websocket upgrader behind this middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return h.Hijack()
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
