package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/tesmileage/internal/metrics"
	"github.com/langchou/tesmileage/internal/models"
	"github.com/langchou/tesmileage/internal/state"
)

// WakeResult 唤醒结果
type WakeResult struct {
	Success   bool
	IsOffline bool
	Elapsed   time.Duration
	Err       error
}

// WakeController 唤醒车辆并轮询直到在线或超时
type WakeController struct {
	api      VehicleAPI
	states   *state.Manager
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewWakeController 创建唤醒控制器
func NewWakeController(api VehicleAPI, states *state.Manager, interval, timeout time.Duration, logger *zap.Logger, m *metrics.Metrics) *WakeController {
	return &WakeController{
		api:      api,
		states:   states,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		metrics:  m,
	}
}

// Wake 发送唤醒指令，以固定间隔轮询车辆状态
func (w *WakeController) Wake(ctx context.Context, v *models.Vehicle, accessToken string) WakeResult {
	start := time.Now()
	machine := w.states.GetOrCreate(v.ID, state.StateUnknown)
	log := w.logger.With(zap.Int64("vehicle_id", v.ID), zap.String("tesla_vehicle_id", v.TeslaVehicleID))
	advance(machine, state.EventWakeSent, log)

	// 整个唤醒过程（含进行中的请求）受 timeout 约束
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	// 唤醒指令失败不影响轮询
	if err := w.api.WakeUp(ctx, accessToken, v.TeslaVehicleID); err != nil {
		log.Warn("Wake up request failed", zap.Error(err))
	}

	for {
		remote, err := w.api.GetVehicle(ctx, accessToken, v.TeslaVehicleID)
		if err != nil {
			log.Debug("Wake poll failed", zap.Error(err))
		} else if remote.State == state.StateOnline {
			elapsed := time.Since(start)
			advance(machine, state.EventCameOnline, log)
			w.metrics.ObserveWake(true, elapsed)
			log.Debug("Vehicle is online", zap.Duration("elapsed", elapsed))
			return WakeResult{Success: true, Elapsed: elapsed}
		}

		remaining := w.timeout - time.Since(start)
		if remaining <= 0 || ctx.Err() != nil {
			break
		}
		wait := w.interval
		if wait > remaining {
			wait = remaining
		}

		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
	}

	if err := parent.Err(); err != nil {
		advance(machine, state.EventTimedOut, log)
		return WakeResult{IsOffline: true, Elapsed: time.Since(start), Err: err}
	}

	elapsed := time.Since(start)
	advance(machine, state.EventTimedOut, log)
	w.metrics.ObserveWake(false, elapsed)
	log.Info("Vehicle did not wake up", zap.Duration("timeout", w.timeout))
	return WakeResult{IsOffline: true, Elapsed: elapsed, Err: errWakeTimeout}
}

// advance 推进唤醒状态机；并发唤醒同一辆车时可能已处于目标状态
func advance(machine *state.Machine, event string, log *zap.Logger) {
	if !machine.CanTransition(event) {
		log.Debug("Skip wake state transition", zap.String("event", event), zap.String("state", machine.CurrentState()))
		return
	}
	if err := machine.Trigger(event); err != nil {
		log.Debug("Wake state transition failed", zap.String("event", event), zap.Error(err))
	}
}
