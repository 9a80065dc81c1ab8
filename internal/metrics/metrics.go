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

	"racegame/internal/race"
)

const namespace = "racegame"

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	operations   *prometheus.CounterVec
	rejected     *prometheus.CounterVec
	itemsSold    prometheus.Counter
	invested     prometheus.Counter
	rewardsPaid  prometheus.Counter
	referrals    prometheus.Counter
	transfers    *prometheus.CounterVec
	pools        *prometheus.GaugeVec
	carSpeed     *prometheus.GaugeVec
	players      prometheus.Gauge
	rounds       *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInFlight prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "operations_total",
			Help:      "Committed operations by kind.",
		}, []string{"kind"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "rejected_total",
			Help:      "Rejected operations by kind and error code.",
		}, []string{"kind", "code"}),
		itemsSold: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "shop",
			Name:      "items_sold_total",
			Help:      "Items sold.",
		}),
		invested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "shop",
			Name:      "invested_nano_total",
			Help:      "Final prices paid, in nano TON.",
		}),
		rewardsPaid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rewards",
			Name:      "withdrawn_nano_total",
			Help:      "Rewards paid out by the wallet, in nano TON.",
		}),
		referrals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rewards",
			Name:      "unfunded_referral_nano_total",
			Help:      "Referral credits owed on top of the pools, in nano TON.",
		}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rewards",
			Name:      "transfers_total",
			Help:      "Withdrawal transfers by state: queued, paid or reversed.",
		}, []string{"state"}),
		pools: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "funds",
			Name:      "pool_nano",
			Help:      "Current pool balances, in nano TON.",
		}, []string{"pool"}),
		carSpeed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "race",
			Name:      "car_speed",
			Help:      "Current derived car speed.",
		}, []string{"car"}),
		players: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "race",
			Name:      "players",
			Help:      "Players in the current round.",
		}),
		rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "race",
			Name:      "rounds_ended_total",
			Help:      "Ended rounds by distribution status.",
		}, []string{"status"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"method", "route"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
	}
	m.Registry.MustRegister(
		m.operations, m.rejected, m.itemsSold, m.invested, m.rewardsPaid,
		m.referrals, m.transfers,
		m.pools, m.carSpeed, m.players, m.rounds,
		m.httpRequests, m.httpDuration, m.httpInFlight,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return m
}

// Committed implements race.Observer.
func (m *Metrics) Committed(ev race.Event) {
	m.operations.WithLabelValues(string(ev.Kind)).Inc()
	fx := ev.Effects
	if fx.Buy != nil {
		m.itemsSold.Inc()
		m.invested.Add(float64(fx.Buy.Quote.FinalPrice))
		if fx.Buy.Referral != nil {
			m.referrals.Add(float64(fx.Buy.Referral.Amount))
		}
	}
	if fx.Transfer != nil {
		m.transfers.WithLabelValues("queued").Inc()
	}
	if s := fx.Settlement; s != nil {
		m.transfers.WithLabelValues(string(s.Outcome)).Inc()
		if s.Outcome == race.TransferPaid {
			m.rewardsPaid.Add(float64(s.Transfer.Amount))
		}
	}
	if fx.Distribution != nil {
		m.rounds.WithLabelValues(string(fx.Distribution.Status)).Inc()
	}
	m.pools.WithLabelValues("prize").Set(float64(ev.Pools.PrizePool))
	m.pools.WithLabelValues("community").Set(float64(ev.Pools.CommunityPool))
	m.pools.WithLabelValues("reserve").Set(float64(ev.Pools.ReservePool))
	m.carSpeed.WithLabelValues("1").Set(float64(ev.Cars[0].CurrentSpeed))
	m.carSpeed.WithLabelValues("2").Set(float64(ev.Cars[1].CurrentSpeed))
	m.players.Set(float64(ev.Game.TotalPlayers))
}

func (m *Metrics) Rejected(kind race.OpKind, err error) {
	m.rejected.WithLabelValues(string(kind), race.ErrorCode(err)).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Instrument records request counts and latency by chi route pattern.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		method := strings.ToUpper(r.Method)
		m.httpRequests.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
