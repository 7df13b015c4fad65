// Package engine ties pack, soc, voltage, current and a Driver together
// into the per-tick control loop described in spec §4.6: refresh data,
// validate it, update SoC, update CVL, update CCL/DCL, publish, repeat.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"bmscore/internal/config"
	"bmscore/internal/current"
	"bmscore/internal/derate"
	"bmscore/internal/driver"
	"bmscore/internal/pack"
	"bmscore/internal/protect"
	"bmscore/internal/soc"
	"bmscore/internal/voltage"
)

// Publisher receives a fully-updated PackState once per tick. The InfluxDB
// sink implements it (the secondary Modbus register server reads the state
// on demand instead); the orchestrator does not care which sinks are wired,
// if any.
type Publisher interface {
	Publish(ctx context.Context, ps *pack.PackState)
}

// TransitionSink records Protection-level transitions for audit, the way
// the teacher's alarm manager persists alarm state changes.
type TransitionSink interface {
	RecordTransitions(ctx context.Context, transitions []protect.Transition)
}

// Orchestrator owns the one PackState for a single physical pack and runs
// its tick loop on an aligned timer, matching the teacher's poll-loop
// cadence idiom.
type Orchestrator struct {
	cfg *config.Config
	log *zap.Logger
	drv driver.Driver

	state *pack.PackState

	socCounter *soc.Counter
	voltageCtl *voltage.Controller
	currentLim *current.Limiter

	publishers []Publisher
	sink       TransitionSink
	prevProt   protect.Protection

	mu   sync.RWMutex
	boot time.Time // monotonic reference; tick "now" is seconds elapsed since this

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs an Orchestrator. publishers and sink may be nil/empty.
func New(cfg *config.Config, log *zap.Logger, drv driver.Driver, publishers []Publisher, sink TransitionSink) *Orchestrator {
	orchLog := log.With(zap.String("component", "orchestrator"))
	return &Orchestrator{
		cfg:        cfg,
		log:        orchLog,
		drv:        drv,
		state:      pack.New(cfg.Driver.CellCount, cfg.Pack.Capacity),
		socCounter: soc.New(orchLog),
		voltageCtl: voltage.New(),
		currentLim: current.New(),
		publishers: publishers,
		sink:       sink,
	}
}

// State returns the live PackState for read-only introspection (the API
// package's handlers use this; they never mutate it).
func (o *Orchestrator) State() *pack.PackState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Start verifies connectivity, logs the driver's reported settings and
// launches the aligned tick loop.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.ctx, o.cancel = context.WithCancel(context.Background())

	if err := o.drv.TestConnection(ctx); err != nil {
		o.log.Warn("initial driver connection failed, will retry on first tick", zap.Error(err))
	}

	if settings, err := o.drv.GetSettings(ctx); err != nil {
		o.log.Warn("failed to read driver settings", zap.Error(err))
	} else {
		o.logSettings(settings)
		o.mu.Lock()
		o.state.HardwareVersion = settings.HardwareVersion
		o.state.UniqueID = settings.UniqueID
		if o.state.UniqueID == "" {
			o.state.UniqueID = o.state.UniqueIdentifier()
		}
		o.mu.Unlock()
	}

	o.boot = time.Now()

	o.wg.Add(1)
	go o.tickLoop()

	return nil
}

// Stop cancels the tick loop and waits for it to exit.
func (o *Orchestrator) Stop(ctx context.Context) error {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
	return nil
}

// tickLoop runs one tick per PollInterval on an aligned timer, the same
// truncate-then-timer idiom the teacher's BMS poll loops use.
func (o *Orchestrator) tickLoop() {
	defer o.wg.Done()

	interval := o.cfg.Driver.PollInterval
	nextTick := time.Now().Truncate(interval).Add(interval)
	timer := time.NewTimer(time.Until(nextTick))
	defer timer.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-timer.C:
			start := time.Now()
			o.tick(o.ctx)
			if elapsed := time.Since(start); elapsed > interval {
				o.log.Warn("tick exceeded poll interval",
					zap.Duration("elapsed", elapsed),
					zap.Duration("interval", interval))
			}
			nextTick = time.Now().Truncate(interval).Add(interval)
			timer.Reset(time.Until(nextTick))
		}
	}
}

// tick runs the full per-cycle pipeline: refresh, validate, SoC, CVL,
// CCL/DCL, publish (spec §4.6).
func (o *Orchestrator) tick(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ps := o.state
	now := time.Since(o.boot).Seconds()

	if err := o.drv.RefreshData(ctx, ps); err != nil {
		o.log.Warn("driver refresh failed, treating as disconnect", zap.Error(err))
		ps.InitValues()
		ps.BlockBecauseDisconnect = true
		return
	}

	if !o.validateData(ps) {
		o.log.Warn("tick aborted: telemetry failed bounds validation")
		return
	}
	ps.BlockBecauseDisconnect = false

	o.socCounter.Update(ps, socParams(o.cfg), now)

	triggerReset := func() {
		soc.TriggerReset(ps)
		o.drv.TriggerSoCReset(ps)
	}
	o.voltageCtl.Update(ps, voltageParams(o.cfg), now, triggerReset)

	chargeParams, dischargeParams := currentParams(o.cfg)
	chargeParams.HardZero = !fetOpen(ps.ChargeFET, true) || ps.BlockBecauseDisconnect
	dischargeParams.HardZero = !fetOpen(ps.DischargeFET, true) || ps.BlockBecauseDisconnect
	o.currentLim.Update(ps, chargeParams, dischargeParams, now)

	ps.UpdateTimeToSoC(o.cfg.Pack.TimeToSoCPoints)

	if o.cfg.Pack.MidpointEnable {
		ps.MidpointVoltage, ps.MidpointDeviation = ps.Midpoint()
	} else {
		ps.MidpointVoltage, ps.MidpointDeviation = nil, nil
	}

	transitions := protect.Diff(o.prevProt, ps.Protection)
	o.prevProt = ps.Protection
	if len(transitions) > 0 {
		for _, t := range transitions {
			o.log.Info("protection transition", t.LogFields()...)
		}
		if o.sink != nil {
			o.sink.RecordTransitions(ctx, transitions)
		}
	}

	for _, p := range o.publishers {
		p.Publish(ctx, ps)
	}
}

// ErrCommandNotHandled is returned by the Request* methods below when the
// wired Driver does not implement the corresponding optional interface, or
// implements it but reports it could not honor the request (battery.py's
// "return False" idiom, spec §6's four optional driver callbacks).
var ErrCommandNotHandled = fmt.Errorf("engine: command not handled by driver")

// RequestSoCReset asks the driver to honor an operator-issued SoC reset. If
// the driver handles it, the coulomb counter is also snapped to full so the
// two stay consistent within the same tick boundary.
func (o *Orchestrator) RequestSoCReset(ctx context.Context) error {
	cmd, ok := o.drv.(driver.SoCResetCommander)
	if !ok {
		return ErrCommandNotHandled
	}
	handled, err := cmd.ResetSoC(ctx)
	if err != nil {
		return err
	}
	if !handled {
		return ErrCommandNotHandled
	}
	o.mu.Lock()
	soc.TriggerReset(o.state)
	o.mu.Unlock()
	return nil
}

// RequestForceChargingOff asks the driver to open the charge FET directly.
func (o *Orchestrator) RequestForceChargingOff(ctx context.Context) error {
	cmd, ok := o.drv.(driver.ChargeOffCommander)
	if !ok {
		return ErrCommandNotHandled
	}
	return handledOrNotHandled(cmd.ForceChargingOff(ctx))
}

// RequestForceDischargingOff asks the driver to open the discharge FET directly.
func (o *Orchestrator) RequestForceDischargingOff(ctx context.Context) error {
	cmd, ok := o.drv.(driver.DischargeOffCommander)
	if !ok {
		return ErrCommandNotHandled
	}
	return handledOrNotHandled(cmd.ForceDischargingOff(ctx))
}

// RequestBalancingOff asks the driver to disable active cell balancing.
func (o *Orchestrator) RequestBalancingOff(ctx context.Context) error {
	cmd, ok := o.drv.(driver.BalanceOffCommander)
	if !ok {
		return ErrCommandNotHandled
	}
	return handledOrNotHandled(cmd.TurnBalancingOff(ctx))
}

func handledOrNotHandled(handled bool, err error) error {
	if err != nil {
		return err
	}
	if !handled {
		return ErrCommandNotHandled
	}
	return nil
}

// validateData enforces the pack-level sanity bounds: pack voltage within
// [0, 1.2 × MaxCellVoltage × CellCount], |current| ≤ 1000 A, reported SoC
// within [0, 100] and every cell voltage within [0, 2 × MaxCellVoltage]. A
// tick that fails them is skipped entirely rather than fed into the control
// pipeline with garbage data.
func (o *Orchestrator) validateData(ps *pack.PackState) bool {
	if ps.Voltage != nil && (*ps.Voltage < 0 || *ps.Voltage > o.cfg.Voltage.MaxCellVoltage*float64(ps.CellCount)*1.2) {
		return false
	}
	if ps.Current != nil && (*ps.Current < -1000 || *ps.Current > 1000) {
		return false
	}
	if ps.SoC != nil && (*ps.SoC < 0 || *ps.SoC > 100) {
		return false
	}
	for _, c := range ps.Cells {
		if c.Voltage != nil && (*c.Voltage < 0 || *c.Voltage > o.cfg.Voltage.MaxCellVoltage*2) {
			return false
		}
	}
	return true
}

func fetOpen(fet *bool, defaultClosed bool) bool {
	if fet == nil {
		return defaultClosed
	}
	return *fet
}

func socParams(cfg *config.Config) soc.Params {
	return soc.Params{
		Enable:           cfg.SoC.Enable,
		MaxCellVoltage:   cfg.Voltage.MaxCellVoltage,
		MinCellVoltage:   cfg.Voltage.MinCellVoltage,
		ResetCurrent:     cfg.SoC.ResetCurrent,
		ResetTimeSeconds: cfg.SoC.ResetTime.Seconds(),
		VoltageDrop:      cfg.SoC.VoltageDrop,
		CalibrationSlope: cfg.Pack.CurrentCalibrationSlope,
		CalibrationBias:  cfg.Pack.CurrentCalibrationBias,
		CellCount:        cfg.Driver.CellCount,
	}
}

func voltageParams(cfg *config.Config) voltage.Params {
	return voltage.Params{
		CVCMEnable:                       cfg.Voltage.CVCMEnable,
		LinearLimitationEnable:           cfg.Voltage.LinearLimitationEnable,
		IControllerMode:                  cfg.Voltage.IControllerMode,
		IControllerFactor:                cfg.Voltage.IControllerFactor,
		MinCellVoltage:                   cfg.Voltage.MinCellVoltage,
		MaxCellVoltage:                   cfg.Voltage.MaxCellVoltage,
		FloatCellVoltage:                 cfg.Voltage.FloatCellVoltage,
		SoCResetVoltage:                  cfg.SoC.ResetVoltage,
		CellCount:                        cfg.Driver.CellCount,
		MaxVoltageTimeSeconds:            cfg.Voltage.MaxVoltageTime.Seconds(),
		CellVoltageDiffKeepMaxUntil:      cfg.Voltage.CellVoltageDiffKeepMaxUntil,
		CellVoltageDiffKeepMaxTimeRestart: cfg.Voltage.CellVoltageDiffKeepMaxTimeRestart,
		CellVoltageDiffToResetLimit:      cfg.Voltage.CellVoltageDiffToResetLimit,
		SoCResetAfterDaysSeconds:         float64(cfg.SoC.ResetAfterDays) * 86400,
		SoCLevelToResetVoltageLimit:      cfg.SoC.LevelToResetLimit,
		FloatRampRateVoltsPerSecond:      cfg.Voltage.FloatRampRateVoltsPerSecond,
		LinearRecalculationEverySeconds:  cfg.Voltage.LinearRecalculationEvery.Seconds(),
	}
}

func currentParams(cfg *config.Config) (charge, discharge current.DirectionParams) {
	cc := cfg.Current
	recalcEvery := cfg.Voltage.LinearRecalculationEvery.Seconds()

	charge = current.DirectionParams{
		GlobalCeiling:             cc.MaxBatteryChargeCurrent,
		CVEnable:                  cc.CCCMCVEnable,
		CVCurve:                   derate.Curve{X: cc.CellVoltagesWhileCharging.X, Y: cc.MaxChargeCurrentVsCellV.Y},
		CVStep:                    cc.MaxChargeCurrentVsCellV.Step,
		CVAscending:               cc.MaxChargeCurrentVsCellV.Ascending,
		TEnable:                   cc.CCCMTEnable,
		TCurve:                    derate.Curve{X: cc.TemperaturesWhileCharging.X, Y: cc.MaxChargeCurrentVsTemp.Y},
		TStep:                     cc.MaxChargeCurrentVsTemp.Step,
		TAscending:                cc.MaxChargeCurrentVsTemp.Ascending,
		SoCEnable:                 cc.CCCMSoCEnable,
		SoCCurve:                  derate.Curve{X: cc.SoCWhileCharging.X, Y: cc.MaxChargeCurrentVsSoC.Y},
		SoCStep:                   cc.MaxChargeCurrentVsSoC.Step,
		SoCAscending:              cc.MaxChargeCurrentVsSoC.Ascending,
		RecalculationEverySeconds: recalcEvery,
		RecalculationOnPercent:    cc.LinearRecalculationOnPercent,
	}

	discharge = current.DirectionParams{
		GlobalCeiling:             cc.MaxBatteryDischargeCurrent,
		CVEnable:                  cc.DCCMCVEnable,
		CVCurve:                   derate.Curve{X: cc.CellVoltagesWhileDischarging.X, Y: cc.MaxDischargeCurrentVsCellV.Y},
		CVStep:                    cc.MaxDischargeCurrentVsCellV.Step,
		CVAscending:               cc.MaxDischargeCurrentVsCellV.Ascending,
		TEnable:                   cc.DCCMTEnable,
		TCurve:                    derate.Curve{X: cc.TemperaturesWhileDischarging.X, Y: cc.MaxDischargeCurrentVsTemp.Y},
		TStep:                     cc.MaxDischargeCurrentVsTemp.Step,
		TAscending:                cc.MaxDischargeCurrentVsTemp.Ascending,
		SoCEnable:                 cc.DCCMSoCEnable,
		SoCCurve:                  derate.Curve{X: cc.SoCWhileDischarging.X, Y: cc.MaxDischargeCurrentVsSoC.Y},
		SoCStep:                   cc.MaxDischargeCurrentVsSoC.Step,
		SoCAscending:              cc.MaxDischargeCurrentVsSoC.Ascending,
		RecalculationEverySeconds: recalcEvery,
		RecalculationOnPercent:    cc.LinearRecalculationOnPercent,
	}
	return
}

// logSettings prints a Victron-style startup summary of the driver's
// reported nameplate values, recovered from battery.py's log_settings.
func (o *Orchestrator) logSettings(s driver.Settings) {
	o.log.Info("driver settings",
		zap.String("hardware_version", s.HardwareVersion),
		zap.String("unique_id", s.UniqueID),
		zap.Float64("capacity_ah", s.CapacityAh),
		zap.String("max_voltage_time", formatDuration(o.cfg.Voltage.MaxVoltageTime)),
		zap.String("poll_interval", formatDuration(o.cfg.Driver.PollInterval)))
}

// formatDuration renders a duration "1d 1h 1m 1s" Victron style, recovered
// from battery.py's get_secondsToString. time.Duration.String() already
// covers the control path's needs; this is only for startup/log-line
// readability where the source's own format is worth keeping.
func formatDuration(d time.Duration) string {
	total := int64(d.Seconds())
	sign := ""
	if total < 0 {
		sign = "-"
		total = -total
	}
	days := total / 86400
	hours := (total % 86400) / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	return fmt.Sprintf("%s%dd %dh %dm %ds", sign, days, hours, minutes, seconds)
}
