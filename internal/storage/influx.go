package storage

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"go.uber.org/zap"

	"bmscore/internal/config"
	"bmscore/internal/pack"
)

// SystemMetrics mirrors the host-level gauges the metrics manager samples
// from gopsutil every collection interval.
type SystemMetrics struct {
	Timestamp time.Time
	CPUUsage  float32
	MemUsedMB float32
	DiskUsage float32
	NetworkRx uint64
	NetworkTx uint64
}

// RuntimeMetrics mirrors the Go runtime gauges the metrics manager samples
// from runtime.MemStats every collection interval.
type RuntimeMetrics struct {
	Timestamp     time.Time
	UptimeSeconds float64
	Goroutines    int
	HeapAllocMB   float64
	HeapSysMB     float64
	GCRuns        uint32
}

// InfluxStore is the per-tick telemetry sink and host/runtime metrics
// sink, adapted from the teacher's InfluxDB wrapper.
type InfluxStore struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	log      *zap.Logger
}

// NewInfluxStore connects to InfluxDB and verifies the server is healthy.
func NewInfluxStore(cfg config.InfluxDBConfig, log *zap.Logger) (*InfluxStore, error) {
	dbLog := log.With(
		zap.String("component", "influx_store"),
		zap.String("url", cfg.URL),
		zap.String("bucket", cfg.Bucket),
	)

	options := influxdb2.DefaultOptions()
	options.SetBatchSize(cfg.BatchSize)
	options.SetFlushInterval(uint(cfg.FlushInterval.Milliseconds()))
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, options)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := client.Health(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: influxdb health check: %w", err)
	}
	if health.Status != "pass" {
		return nil, fmt.Errorf("storage: influxdb unhealthy: %s", health.Status)
	}

	dbLog.Info("influx store ready")
	return &InfluxStore{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Organization, cfg.Bucket),
		log:      dbLog,
	}, nil
}

// Publish writes one tick's pack aggregates and control outputs to the
// "pack" measurement, implementing engine.Publisher.
func (s *InfluxStore) Publish(ctx context.Context, ps *pack.PackState) {
	point := influxdb2.NewPointWithMeasurement("pack").
		AddField("voltage", deref(ps.Voltage)).
		AddField("current", deref(ps.Current)).
		AddField("soc", deref(ps.SoC)).
		AddField("soc_calc", deref(ps.SoCCalc)).
		AddField("control_voltage", deref(ps.ControlVoltage)).
		AddField("control_charge_current", ps.ControlChargeCurrent).
		AddField("control_discharge_current", ps.ControlDischargeCurrent).
		AddField("allow_charge", ps.ControlAllowCharge).
		AddField("allow_discharge", ps.ControlAllowDischarge).
		AddField("charge_mode", ps.ChargeMode).
		AddField("protection_worst", ps.Protection.Worst().String()).
		SetTime(time.Now())

	s.writeAPI.WritePoint(point)
}

// WriteSystemMetrics writes one host-level metrics sample.
func (s *InfluxStore) WriteSystemMetrics(m SystemMetrics) {
	point := influxdb2.NewPointWithMeasurement("system_metrics").
		AddField("cpu_usage", m.CPUUsage).
		AddField("memory_usage_mb", m.MemUsedMB).
		AddField("disk_usage", m.DiskUsage).
		AddField("network_rx", m.NetworkRx).
		AddField("network_tx", m.NetworkTx).
		SetTime(m.Timestamp)
	s.writeAPI.WritePoint(point)
}

// WriteRuntimeMetrics writes one Go-runtime metrics sample.
func (s *InfluxStore) WriteRuntimeMetrics(m RuntimeMetrics) {
	point := influxdb2.NewPointWithMeasurement("runtime_metrics").
		AddField("uptime_seconds", m.UptimeSeconds).
		AddField("goroutines", m.Goroutines).
		AddField("heap_alloc_mb", m.HeapAllocMB).
		AddField("heap_sys_mb", m.HeapSysMB).
		AddField("gc_runs", m.GCRuns).
		SetTime(m.Timestamp)
	s.writeAPI.WritePoint(point)
}

// Close flushes any buffered points and closes the client.
func (s *InfluxStore) Close() error {
	s.writeAPI.Flush()
	s.client.Close()
	return nil
}

// HealthCheck re-runs the server health probe done at construction,
// satisfying health.DatabaseChecker's db interface.
func (s *InfluxStore) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := s.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("storage: influxdb health check: %w", err)
	}
	if health.Status != "pass" {
		return fmt.Errorf("storage: influxdb unhealthy: %s", health.Status)
	}
	return nil
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
