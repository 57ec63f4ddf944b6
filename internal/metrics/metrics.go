package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// 车辆同步结果标签
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeOffline = "offline"
)

// Metrics 同步引擎的 Prometheus 指标；nil 接收者上的方法不做任何事
type Metrics struct {
	syncRuns       *prometheus.CounterVec
	syncDuration   prometheus.Histogram
	vehicleSyncs   *prometheus.CounterVec
	fetchAttempts  *prometheus.CounterVec
	wakeDuration   *prometheus.HistogramVec
	tokenRefreshes *prometheus.CounterVec
	breakerState   *prometheus.GaugeVec
	tripsSent      *prometheus.CounterVec
}

// New 创建并注册指标
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tesmileage_sync_runs_total",
			Help: "Sync runs by trigger and result",
		}, []string{"trigger", "result"}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tesmileage_sync_run_duration_seconds",
			Help:    "Duration of sync runs",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		vehicleSyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tesmileage_vehicle_syncs_total",
			Help: "Per-vehicle sync outcomes",
		}, []string{"outcome"}),
		fetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tesmileage_fetch_attempts_total",
			Help: "Vehicle data fetch attempts by result",
		}, []string{"result"}),
		wakeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tesmileage_wake_duration_seconds",
			Help:    "Time until a vehicle came online or the wake gave up",
			Buckets: []float64{0.5, 3, 6, 12, 24, 45, 60, 90},
		}, []string{"result"}),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tesmileage_token_refreshes_total",
			Help: "Tesla token refreshes by result",
		}, []string{"result"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tesmileage_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=half-open, 2=open)",
		}, []string{"name"}),
		tripsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tesmileage_trips_sent_total",
			Help: "Trips handed to the trip sink by result",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.syncRuns,
		m.syncDuration,
		m.vehicleSyncs,
		m.fetchAttempts,
		m.wakeDuration,
		m.tokenRefreshes,
		m.breakerState,
		m.tripsSent,
	)
	return m
}

// ObserveRun 记录一次同步运行
func (m *Metrics) ObserveRun(trigger string, ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.syncRuns.WithLabelValues(trigger, result(ok)).Inc()
	m.syncDuration.Observe(elapsed.Seconds())
}

// ObserveVehicle 记录单车同步结果
func (m *Metrics) ObserveVehicle(outcome string) {
	if m == nil {
		return
	}
	m.vehicleSyncs.WithLabelValues(outcome).Inc()
}

// ObserveFetchAttempt 记录一次数据拉取尝试
func (m *Metrics) ObserveFetchAttempt(result string) {
	if m == nil {
		return
	}
	m.fetchAttempts.WithLabelValues(result).Inc()
}

// ObserveWake 记录唤醒耗时
func (m *Metrics) ObserveWake(online bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	label := "online"
	if !online {
		label = "timeout"
	}
	m.wakeDuration.WithLabelValues(label).Observe(elapsed.Seconds())
}

// ObserveTokenRefresh 记录令牌刷新结果
func (m *Metrics) ObserveTokenRefresh(ok bool) {
	if m == nil {
		return
	}
	m.tokenRefreshes.WithLabelValues(result(ok)).Inc()
}

// SetBreakerState 更新熔断器状态 (0=closed, 1=half-open, 2=open)
func (m *Metrics) SetBreakerState(name string, state float64) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(name).Set(state)
}

// ObserveTrip 记录行程外发结果
func (m *Metrics) ObserveTrip(ok bool) {
	if m == nil {
		return
	}
	m.tripsSent.WithLabelValues(result(ok)).Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
