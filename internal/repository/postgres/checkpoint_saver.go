package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Arttribute/agent-commons-sub004/internal/database"
	"github.com/Arttribute/agent-commons-sub004/internal/repository"
)

const checkpointFormatVersion = 1

// CheckpointSaver implements repository.CheckpointSaver on the LangGraph
// Postgres layout. Its List is newest-first, like the engine's native saver.
type CheckpointSaver struct {
	db     *sqlx.DB
	schema string
	tables checkpointTables
	ownsDB bool
}

// NewCheckpointSaver creates a saver on a shared connection pool. An empty
// schema uses the connection's default schema.
func NewCheckpointSaver(db *sqlx.DB, schema string) *CheckpointSaver {
	return &CheckpointSaver{
		db:     db,
		schema: schema,
		tables: newCheckpointTables(schema),
	}
}

// NewCheckpointSaverFromConnString opens a dedicated pool. Close releases it.
func NewCheckpointSaverFromConnString(driver, connString, schema string) (*CheckpointSaver, error) {
	db, err := database.Open(driver, connString)
	if err != nil {
		return nil, err
	}
	saver := NewCheckpointSaver(db.DB, schema)
	saver.ownsDB = true
	return saver, nil
}

// DB returns the pool backing the saver.
func (s *CheckpointSaver) DB() *sqlx.DB {
	return s.db
}

// Schema returns the schema the checkpoint tables live in.
func (s *CheckpointSaver) Schema() string {
	return s.schema
}

// Close releases the pool when the saver opened it.
func (s *CheckpointSaver) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

// List returns the thread's checkpoints newest-first.
func (s *CheckpointSaver) List(ctx context.Context, cfg repository.CheckpointConfig, opts repository.ListOptions) iter.Seq2[*repository.CheckpointTuple, error] {
	return listTuples(ctx, s.db, s.tables, cfg, opts, descending)
}

// GetTuple returns the checkpoint named by cfg, or the thread's latest when
// cfg has no checkpoint id. Unknown threads yield nil without error.
func (s *CheckpointSaver) GetTuple(ctx context.Context, cfg repository.CheckpointConfig) (*repository.CheckpointTuple, error) {
	return repository.FirstTuple(listTuples(ctx, s.db, s.tables, cfg, repository.ListOptions{Limit: 1}, descending))
}

// Put stores a checkpoint and the blobs of the channels named in newVersions.
// cfg.CheckpointID, when set, becomes the parent of the stored checkpoint.
func (s *CheckpointSaver) Put(ctx context.Context, cfg repository.CheckpointConfig, checkpoint repository.Checkpoint, metadata repository.CheckpointMetadata, newVersions repository.ChannelVersions) (repository.CheckpointConfig, error) {
	if err := cfg.Validate(); err != nil {
		return repository.CheckpointConfig{}, err
	}

	if checkpoint.ID == "" {
		checkpoint.ID = repository.NewCheckpointID()
	}
	if checkpoint.TS.IsZero() {
		checkpoint.TS = time.Now().UTC()
	}
	if checkpoint.V == 0 {
		checkpoint.V = checkpointFormatVersion
	}

	values := checkpoint.ChannelValues
	stored := checkpoint
	stored.ChannelValues = nil

	checkpointJSON, err := json.Marshal(stored)
	if err != nil {
		return repository.CheckpointConfig{}, fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return repository.CheckpointConfig{}, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	var parent *string
	if cfg.CheckpointID != "" {
		parent = &cfg.CheckpointID
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return repository.CheckpointConfig{}, err
	}
	defer tx.Rollback()

	channels := make([]string, 0, len(newVersions))
	for channel := range newVersions {
		channels = append(channels, channel)
	}
	sort.Strings(channels)

	blobQuery := `
		INSERT INTO ` + s.tables.blobs + ` (thread_id, checkpoint_ns, channel, version, type, blob)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (thread_id, checkpoint_ns, channel, version) DO NOTHING
	`
	for _, channel := range channels {
		blobType, blob := "json", any(nil)
		if value, ok := values[channel]; ok {
			blob = string(value)
		} else {
			blobType = "empty"
		}
		if _, err := tx.ExecContext(ctx, blobQuery,
			cfg.ThreadID, cfg.CheckpointNS, channel, versionString(newVersions[channel]), blobType, blob,
		); err != nil {
			return repository.CheckpointConfig{}, fmt.Errorf("failed to store blob for channel %s: %w", channel, err)
		}
	}

	checkpointQuery := `
		INSERT INTO ` + s.tables.checkpoints + ` (thread_id, checkpoint_ns, checkpoint_id, parent_checkpoint_id, checkpoint, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (thread_id, checkpoint_ns, checkpoint_id)
		DO UPDATE SET checkpoint = EXCLUDED.checkpoint, metadata = EXCLUDED.metadata
	`
	if _, err := tx.ExecContext(ctx, checkpointQuery,
		cfg.ThreadID, cfg.CheckpointNS, checkpoint.ID, parent, string(checkpointJSON), string(metadataJSON),
	); err != nil {
		return repository.CheckpointConfig{}, fmt.Errorf("failed to store checkpoint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return repository.CheckpointConfig{}, err
	}

	return repository.CheckpointConfig{
		ThreadID:     cfg.ThreadID,
		CheckpointNS: cfg.CheckpointNS,
		CheckpointID: checkpoint.ID,
	}, nil
}

// PutWrites records a task's pending writes against the checkpoint in cfg.
func (s *CheckpointSaver) PutWrites(ctx context.Context, cfg repository.CheckpointConfig, writes []repository.PendingWrite, taskID string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.CheckpointID == "" {
		return errors.New("pending writes require a checkpoint_id")
	}
	if len(writes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO ` + s.tables.writes + ` (thread_id, checkpoint_ns, checkpoint_id, task_id, idx, channel, type, blob)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (thread_id, checkpoint_ns, checkpoint_id, task_id, idx)
		DO UPDATE SET channel = EXCLUDED.channel, type = EXCLUDED.type, blob = EXCLUDED.blob
	`
	for idx, write := range writes {
		var blob any
		if len(write.Value) > 0 {
			blob = string(write.Value)
		}
		if _, err := tx.ExecContext(ctx, query,
			cfg.ThreadID, cfg.CheckpointNS, cfg.CheckpointID, taskID, idx, write.Channel, "json", blob,
		); err != nil {
			return fmt.Errorf("failed to store write %d for task %s: %w", idx, taskID, err)
		}
	}

	return tx.Commit()
}
