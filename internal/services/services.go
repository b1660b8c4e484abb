package services

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/Arttribute/agent-commons-sub004/internal/repository/postgres"
)

// HealthChecker reports whether the checkpoint store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Services holds all service instances
type Services struct {
	Sessions *SessionService
	Health   HealthChecker
	Monitor  *StoreMonitor

	// Savers share one connection pool.
	Saver         *postgres.CheckpointSaver
	Chronological *postgres.ChronologicalSaver
}

// NewServices creates all service instances over one database handle.
func NewServices(db *sqlx.DB, schema string, health HealthChecker, logger *logrus.Logger) *Services {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	saver := postgres.NewCheckpointSaver(db, schema)
	chronological := postgres.NewChronologicalSaverFromSaver(saver)

	logger.WithFields(logrus.Fields{
		"schema": schema,
	}).Info("checkpoint savers initialized")

	monitor := NewStoreMonitor(health, logger)

	return &Services{
		Sessions:      NewSessionService(NewCheckpointStateReader(saver), chronological, saver, logger),
		Health:        monitor,
		Monitor:       monitor,
		Saver:         saver,
		Chronological: chronological,
	}
}
