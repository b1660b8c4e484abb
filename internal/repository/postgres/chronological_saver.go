package postgres

import (
	"context"
	"iter"

	"github.com/jmoiron/sqlx"

	"github.com/Arttribute/agent-commons-sub004/internal/repository"
)

// ChronologicalSaver is a CheckpointSaver whose List runs oldest-first. Reads
// and writes other than List behave exactly as the embedded saver.
type ChronologicalSaver struct {
	*CheckpointSaver
}

// NewChronologicalSaver creates a chronological saver on an injected pool.
func NewChronologicalSaver(db *sqlx.DB, schema string) *ChronologicalSaver {
	return &ChronologicalSaver{CheckpointSaver: NewCheckpointSaver(db, schema)}
}

// NewChronologicalSaverFromConnString opens a dedicated pool, optionally
// scoped to schema.
func NewChronologicalSaverFromConnString(driver, connString, schema string) (*ChronologicalSaver, error) {
	saver, err := NewCheckpointSaverFromConnString(driver, connString, schema)
	if err != nil {
		return nil, err
	}
	return &ChronologicalSaver{CheckpointSaver: saver}, nil
}

// NewChronologicalSaverFromSaver reuses the pool and schema of an existing
// newest-first saver instead of opening a second pool.
func NewChronologicalSaverFromSaver(saver *CheckpointSaver) *ChronologicalSaver {
	return &ChronologicalSaver{
		CheckpointSaver: NewCheckpointSaver(saver.DB(), saver.Schema()),
	}
}

// List returns the thread's checkpoints in ascending checkpoint id order,
// capped at opts.Limit rows when positive.
func (s *ChronologicalSaver) List(ctx context.Context, cfg repository.CheckpointConfig, opts repository.ListOptions) iter.Seq2[*repository.CheckpointTuple, error] {
	return listTuples(ctx, s.db, s.tables, cfg, opts, ascending)
}
