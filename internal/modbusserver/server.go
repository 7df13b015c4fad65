// Package modbusserver republishes the engine's regulated outputs (CVL,
// CCL, DCL, permissions, SoC, protection) as a secondary Modbus TCP
// register map, grounded on the teacher's internal/modbus server/handler
// pair but serving one pack's control outputs instead of a BESS fleet's
// BMS/PCS command blocks.
package modbusserver

import (
	"context"
	"fmt"
	"sync"

	gomodbus "github.com/simonvetter/modbus"
	"go.uber.org/zap"

	"bmscore/internal/config"
)

// Server is a read-only Modbus TCP server exposing one pack's outputs.
type Server struct {
	server  *gomodbus.ModbusServer
	handler *RequestHandler
	cfg     config.ModbusOutConfig
	log     *zap.Logger

	mu        sync.RWMutex
	isRunning bool
}

// NewServer constructs a Server bound to cfg.Host:cfg.Port, serving state.
func NewServer(cfg config.ModbusOutConfig, state StateReader, log *zap.Logger) (*Server, error) {
	serverLog := log.With(
		zap.String("component", "modbusserver"),
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
	)

	handler := NewRequestHandler(state, log)

	serverConfig := &gomodbus.ServerConfiguration{
		URL:        fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port),
		Timeout:    cfg.Timeout,
		MaxClients: cfg.MaxClients,
	}

	srv, err := gomodbus.NewServer(serverConfig, handler)
	if err != nil {
		return nil, fmt.Errorf("modbusserver: create server: %w", err)
	}

	return &Server{server: srv, handler: handler, cfg: cfg, log: serverLog}, nil
}

// Start begins serving the publication register map.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("modbusserver: already running")
	}

	if err := s.server.Start(); err != nil {
		return fmt.Errorf("modbusserver: start: %w", err)
	}
	s.isRunning = true
	s.log.Info("modbus publication server started")
	return nil
}

// Stop shuts the server down; safe to call if it was never started.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}
	s.server.Stop()
	s.isRunning = false
	s.log.Info("modbus publication server stopped")
	return nil
}
