// Package storage holds the two persistence sinks adapted from the
// teacher's alarm and time-series database layers: PostgresStore audits
// Protection-level transitions, InfluxStore publishes per-tick telemetry.
package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"bmscore/internal/config"
	"bmscore/internal/protect"
)

// ProtectionEventRecord is the audit row for one Protection-field
// transition, adapted from the teacher's AlarmRecord table.
type ProtectionEventRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Timestamp time.Time `gorm:"index" json:"timestamp"`
	Field     string    `gorm:"index;size:50" json:"field"`
	FromLevel string    `gorm:"size:20" json:"from_level"`
	ToLevel   string    `gorm:"index;size:20" json:"to_level"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName pins the table name for ProtectionEventRecord.
func (ProtectionEventRecord) TableName() string { return "protection_events" }

// PostgresStore persists Protection transitions for audit, grounded on the
// teacher's PostgresDB alarm store.
type PostgresStore struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewPostgresStore opens a PostgreSQL connection and migrates the schema.
func NewPostgresStore(cfg config.PostgreSQLConfig, log *zap.Logger) (*PostgresStore, error) {
	dbLog := log.With(
		zap.String("component", "postgres_store"),
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database),
	)

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=UTC",
		cfg.Host, cfg.Username, cfg.Password, cfg.Database, cfg.Port, cfg.SSLMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: connect postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("storage: underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdle)
	sqlDB.SetMaxOpenConns(cfg.MaxOpen)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&ProtectionEventRecord{}); err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}

	dbLog.Info("postgres store ready")
	return &PostgresStore{db: db, log: dbLog}, nil
}

// RecordTransitions persists a batch of Protection-field transitions,
// implementing engine.TransitionSink.
func (s *PostgresStore) RecordTransitions(ctx context.Context, transitions []protect.Transition) {
	if len(transitions) == 0 {
		return
	}
	records := make([]ProtectionEventRecord, len(transitions))
	now := time.Now()
	for i, t := range transitions {
		records[i] = ProtectionEventRecord{
			Timestamp: now,
			Field:     t.Field,
			FromLevel: t.From.String(),
			ToLevel:   t.To.String(),
		}
	}
	if err := s.db.WithContext(ctx).Create(&records).Error; err != nil {
		s.log.Error("failed to persist protection transitions", zap.Error(err))
	}
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// HealthCheck pings the underlying connection pool, satisfying
// health.DatabaseChecker's db interface.
func (s *PostgresStore) HealthCheck() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
