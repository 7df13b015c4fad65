// Package metrics samples host and Go-runtime gauges on a fixed interval
// and forwards them to InfluxDB, adapted from the teacher's metrics
// manager but pointed at the smaller storage.SystemMetrics/RuntimeMetrics
// shapes.
package metrics

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/net"
	"go.uber.org/zap"

	"bmscore/internal/storage"
)

// Manager periodically samples CPU, memory, disk and network usage along
// with Go runtime stats.
type Manager struct {
	influx *storage.InfluxStore
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mutex  sync.RWMutex
	log    *zap.Logger

	startTime time.Time
	lastNetRx uint64
	lastNetTx uint64
}

// NewManager creates a metrics Manager writing to influx.
func NewManager(influx *storage.InfluxStore, log *zap.Logger) *Manager {
	return &Manager{
		influx:    influx,
		startTime: time.Now(),
		log:       log.With(zap.String("component", "metrics_manager")),
	}
}

// Start launches the sampling loop.
func (m *Manager) Start() error {
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.initNetworkCounters()

	m.wg.Add(1)
	go m.collectLoop()

	m.log.Info("metrics manager started", zap.Time("start_time", m.startTime))
	return nil
}

// Stop halts the sampling loop.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.log.Info("metrics manager stopped")
}

func (m *Manager) collectLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.collectSystemMetrics()
			m.collectRuntimeMetrics()
		}
	}
}

func (m *Manager) initNetworkCounters() {
	netStats, err := net.IOCounters(false)
	if err != nil || len(netStats) == 0 {
		m.log.Error("failed to initialize network counters", zap.Error(err))
		return
	}
	m.mutex.Lock()
	m.lastNetRx = netStats[0].BytesRecv
	m.lastNetTx = netStats[0].BytesSent
	m.mutex.Unlock()
}

func (m *Manager) collectSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	cpuPercent, err := cpu.Percent(time.Second, false)
	var cpuUsage float32
	if err != nil || len(cpuPercent) == 0 {
		m.log.Error("failed to get cpu usage", zap.Error(err))
	} else {
		cpuUsage = float32(cpuPercent[0])
	}

	diskStat, err := disk.Usage("/")
	var diskUsage float32
	if err != nil {
		m.log.Error("failed to get disk usage", zap.Error(err))
	} else {
		diskUsage = float32(diskStat.UsedPercent)
	}

	rx, tx := m.getNetworkStats()

	m.influx.WriteSystemMetrics(storage.SystemMetrics{
		Timestamp: time.Now(),
		CPUUsage:  cpuUsage,
		MemUsedMB: float32(memStats.Alloc) / 1024 / 1024,
		DiskUsage: diskUsage,
		NetworkRx: rx,
		NetworkTx: tx,
	})
}

func (m *Manager) getNetworkStats() (uint64, uint64) {
	netStats, err := net.IOCounters(false)
	if err != nil || len(netStats) == 0 {
		m.log.Error("failed to get network stats", zap.Error(err))
		return 0, 0
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	currentRx, currentTx := netStats[0].BytesRecv, netStats[0].BytesSent
	deltaRx, deltaTx := currentRx-m.lastNetRx, currentTx-m.lastNetTx
	m.lastNetRx, m.lastNetTx = currentRx, currentTx
	return deltaRx, deltaTx
}

func (m *Manager) collectRuntimeMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.influx.WriteRuntimeMetrics(storage.RuntimeMetrics{
		Timestamp:     time.Now(),
		UptimeSeconds: time.Since(m.startTime).Seconds(),
		Goroutines:    runtime.NumGoroutine(),
		HeapAllocMB:   float64(memStats.HeapAlloc) / 1024 / 1024,
		HeapSysMB:     float64(memStats.HeapSys) / 1024 / 1024,
		GCRuns:        uint32(memStats.NumGC),
	})
}
