package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/langchou/tesmileage/internal/lock"
	"github.com/langchou/tesmileage/internal/metrics"
	"github.com/langchou/tesmileage/internal/models"
	"github.com/langchou/tesmileage/pkg/ws"
)

// 同步触发来源
const (
	TriggerAll      = "all"
	TriggerUser     = "user"
	TriggerSchedule = "schedule"
)

// Summary 一次同步运行的汇总
type Summary struct {
	Success bool     `json:"success"`
	Synced  int      `json:"synced"`
	Failed  int      `json:"failed"`
	Offline int      `json:"offline"`
	Errors  []string `json:"errors"`

	errorCount int
	limit      int
}

func newSummary(limit int) *Summary {
	return &Summary{Errors: []string{}, limit: limit}
}

// addError 记录错误，超过上限只计数
func (s *Summary) addError(msg string) {
	s.errorCount++
	if s.limit <= 0 || len(s.Errors) < s.limit {
		s.Errors = append(s.Errors, msg)
	}
}

func (s *Summary) merge(o *Summary) {
	s.Synced += o.Synced
	s.Failed += o.Failed
	s.Offline += o.Offline
	for _, e := range o.Errors {
		s.addError(e)
	}
	s.errorCount += o.errorCount - len(o.Errors)
}

func (s *Summary) finish() *Summary {
	s.Success = s.errorCount == 0
	return s
}

// OrchestratorOptions 编排器参数
type OrchestratorOptions struct {
	Concurrency int
	ErrorsLimit int
	Interval    time.Duration
}

// Orchestrator 多用户同步编排：令牌 → 唤醒 → 拉取 → 结算 → 记录
type Orchestrator struct {
	vault      CredentialVault
	tokens     *TokenManager
	vehicles   VehicleStore
	readings   ReadingStore
	waker      *WakeController
	fetcher    *Fetcher
	reconciler *Reconciler
	recorder   *Recorder
	geocoder   Geocoder
	guard      lock.Guard
	hub        Broadcaster
	opts       OrchestratorOptions
	logger     *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time

	mu      sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewOrchestrator 创建编排器
func NewOrchestrator(
	vault CredentialVault,
	tokens *TokenManager,
	vehicles VehicleStore,
	readings ReadingStore,
	waker *WakeController,
	fetcher *Fetcher,
	reconciler *Reconciler,
	recorder *Recorder,
	guard lock.Guard,
	opts OrchestratorOptions,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Orchestrator {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if guard == nil {
		guard = lock.NewLocal()
	}
	return &Orchestrator{
		vault:      vault,
		tokens:     tokens,
		vehicles:   vehicles,
		readings:   readings,
		waker:      waker,
		fetcher:    fetcher,
		reconciler: reconciler,
		recorder:   recorder,
		guard:      guard,
		opts:       opts,
		logger:     logger,
		metrics:    m,
		now:        time.Now,
	}
}

// WithGeocoder 为日桶填充地点名称
func (o *Orchestrator) WithGeocoder(g Geocoder) *Orchestrator {
	o.geocoder = g
	return o
}

// WithBroadcaster 单用户同步完成后推送汇总
func (o *Orchestrator) WithBroadcaster(b Broadcaster) *Orchestrator {
	o.hub = b
	return o
}

// SyncAll 同步所有已连接用户；已有全量同步在运行时返回 ErrSyncInProgress
func (o *Orchestrator) SyncAll(ctx context.Context) (*Summary, error) {
	return o.syncAll(ctx, TriggerAll)
}

func (o *Orchestrator) syncAll(ctx context.Context, trigger string) (*Summary, error) {
	release, ok, err := o.guard.TryAcquire(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSyncInProgress
	}
	defer release()

	start := time.Now()
	users, err := o.vault.ConnectedUsers(ctx)
	if err != nil {
		o.metrics.ObserveRun(trigger, false, time.Since(start))
		return nil, fmt.Errorf("list connected users: %w", err)
	}
	o.logger.Info("Starting sync run", zap.String("trigger", trigger), zap.Int("users", len(users)))

	summary := newSummary(o.opts.ErrorsLimit)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Concurrency)
	for _, userID := range users {
		g.Go(func() error {
			us := newSummary(o.opts.ErrorsLimit)
			if err := o.syncUser(gctx, userID, us); err != nil {
				return err
			}
			mu.Lock()
			summary.merge(us)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		o.metrics.ObserveRun(trigger, false, time.Since(start))
		o.logger.Error("Sync run aborted", zap.String("trigger", trigger), zap.Error(err))
		return nil, err
	}

	summary.finish()
	o.metrics.ObserveRun(trigger, summary.Success, time.Since(start))
	o.logger.Info("Sync run finished",
		zap.String("trigger", trigger),
		zap.Int("synced", summary.Synced),
		zap.Int("failed", summary.Failed),
		zap.Int("offline", summary.Offline),
		zap.Duration("elapsed", time.Since(start)),
	)
	return summary, nil
}

// SyncUser 同步单个用户；凭据问题记录在汇总中而不是作为错误返回
func (o *Orchestrator) SyncUser(ctx context.Context, userID string) (*Summary, error) {
	start := time.Now()
	summary := newSummary(o.opts.ErrorsLimit)
	if err := o.syncUser(ctx, userID, summary); err != nil {
		o.metrics.ObserveRun(TriggerUser, false, time.Since(start))
		return nil, err
	}
	summary.finish()
	o.metrics.ObserveRun(TriggerUser, summary.Success, time.Since(start))
	if o.hub != nil {
		o.hub.SendToUser(userID, ws.MsgTypeSyncSummary, summary)
	}
	return summary, nil
}

// syncUser 只有配置错误和 context 取消会作为错误返回
func (o *Orchestrator) syncUser(ctx context.Context, userID string, summary *Summary) error {
	log := o.logger.With(zap.String("user_id", userID))

	token, err := o.tokens.EnsureValid(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrConfiguration) {
			return err
		}
		log.Warn("Skipping user, no usable token", zap.Error(err))
		summary.addError(fmt.Sprintf("user %s: %v", userID, err))
		o.recorder.Audit(ctx, userID, models.AuditSyncFailed, "user", userID,
			map[string]string{"error": err.Error()})
		return nil
	}

	vehicles, err := o.vehicles.ListActiveByUser(ctx, userID)
	if err != nil {
		log.Error("Failed to list vehicles", zap.Error(err))
		summary.addError(fmt.Sprintf("user %s: %v", userID, err))
		return nil
	}

	// 同一用户的车辆按顺序处理
	for _, v := range vehicles {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.syncVehicle(ctx, token, v, summary)
	}
	return nil
}

func (o *Orchestrator) syncVehicle(ctx context.Context, token string, v *models.Vehicle, summary *Summary) {
	log := o.logger.With(zap.String("user_id", v.UserID), zap.Int64("vehicle_id", v.ID))
	now := o.now()

	fail := func(offline bool, err error) {
		msg := fmt.Sprintf("vehicle %d: %v", v.ID, err)
		if offline {
			summary.Offline++
			o.metrics.ObserveVehicle(metrics.OutcomeOffline)
		} else {
			summary.Failed++
			summary.addError(msg)
			o.metrics.ObserveVehicle(metrics.OutcomeFailed)
		}
		_ = o.recorder.RecordSync(ctx, v, models.SyncOutcome{IsOffline: offline, Error: err.Error(), At: now})
	}

	last, err := o.readings.GetLatest(ctx, v.ID)
	if err != nil {
		log.Error("Failed to load last reading", zap.Error(err))
		fail(false, err)
		return
	}

	// 先补齐缺口，车辆离线时日期仍保持连续
	if _, err := o.reconciler.Backfill(ctx, v, last, now); err != nil {
		log.Warn("Backfill failed", zap.Error(err))
	}

	wake := o.waker.Wake(ctx, v, token)
	if !wake.Success {
		fail(true, wake.Err)
		return
	}

	fetch := o.fetcher.FetchVehicleData(ctx, v.TeslaVehicleID, token)
	if !fetch.Success {
		log.Info("Vehicle data unavailable", zap.Bool("offline", fetch.IsOffline), zap.Int("attempts", fetch.Attempts), zap.Error(fetch.Err))
		fail(fetch.IsOffline, fetch.Err)
		return
	}

	miles, ok := fetch.Data.OdometerMiles()
	if !ok {
		fail(false, errors.New("vehicle data has no odometer"))
		return
	}

	in := ReconcileInput{
		Vehicle:       v,
		LastReading:   last,
		OdometerMiles: miles,
		Now:           now,
	}
	if lat, lng, ok := fetch.Data.Coordinates(); ok {
		in.Latitude, in.Longitude = &lat, &lng
		in.LocationName = o.locationName(ctx, lat, lng)
	}

	result, err := o.reconciler.Reconcile(ctx, in)
	if err != nil {
		log.Error("Reconcile failed", zap.Error(err))
		fail(false, err)
		return
	}

	summary.Synced++
	o.metrics.ObserveVehicle(metrics.OutcomeSuccess)
	_ = o.recorder.RecordSync(ctx, v, models.SyncOutcome{Success: true, At: now})
	o.recorder.Audit(ctx, v.UserID, models.AuditMileageSynced, "vehicle", fmt.Sprint(v.ID), result)
	log.Info("Vehicle synced",
		zap.Float64("odometer_km", result.OdometerKm),
		zap.String("closed_date", result.ClosedDate),
		zap.Float64("daily_km", result.DailyKm),
	)
}

// locationName 逆地理编码失败时返回空
func (o *Orchestrator) locationName(ctx context.Context, lat, lng float64) string {
	if o.geocoder == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	addr, err := o.geocoder.ReverseGeocode(ctx, lat, lng)
	if err != nil {
		o.logger.Debug("Reverse geocode failed", zap.Error(err))
		return ""
	}
	return addr.Label()
}

// Start 按 Interval 定时执行全量同步；Interval 为 0 时不启动
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running || o.opts.Interval <= 0 {
		return
	}
	o.stopCh = make(chan struct{})
	o.running = true

	o.wg.Add(1)
	go o.scheduleLoop(ctx)
	o.logger.Info("Sync scheduler started", zap.Duration("interval", o.opts.Interval))
}

// Stop 停止定时同步并等待当前运行结束
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	close(o.stopCh)
	o.mu.Unlock()

	o.wg.Wait()
	o.logger.Info("Sync scheduler stopped")
}

func (o *Orchestrator) scheduleLoop(ctx context.Context) {
	defer o.wg.Done()

	ticker := time.NewTicker(o.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case <-ticker.C:
			if _, err := o.syncAll(ctx, TriggerSchedule); err != nil {
				if errors.Is(err, ErrSyncInProgress) {
					o.logger.Info("Scheduled sync skipped, another run in progress")
					continue
				}
				o.logger.Error("Scheduled sync failed", zap.Error(err))
			}
		}
	}
}
