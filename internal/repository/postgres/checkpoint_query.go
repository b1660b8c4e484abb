package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"iter"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/Arttribute/agent-commons-sub004/internal/repository"
)

type sortOrder string

const (
	ascending  sortOrder = "ASC"
	descending sortOrder = "DESC"
)

// checkpointTables holds the fully qualified names of the checkpoint tables.
type checkpointTables struct {
	checkpoints string
	blobs       string
	writes      string
}

func newCheckpointTables(schema string) checkpointTables {
	qualify := func(name string) string {
		if schema == "" {
			return name
		}
		return pq.QuoteIdentifier(schema) + "." + name
	}
	return checkpointTables{
		checkpoints: qualify("checkpoints"),
		blobs:       qualify("checkpoint_blobs"),
		writes:      qualify("checkpoint_writes"),
	}
}

// selectSQL returns the tuple projection. Channel values come from the blobs
// whose version matches the checkpoint's channel_versions entry.
func (t checkpointTables) selectSQL() string {
	return `SELECT
	c.thread_id,
	c.checkpoint_ns,
	c.checkpoint_id,
	c.parent_checkpoint_id,
	c.checkpoint,
	c.metadata,
	(
		SELECT COALESCE(jsonb_object_agg(bl.channel, bl.blob), '{}'::jsonb)
		FROM ` + t.blobs + ` bl
		WHERE bl.thread_id = c.thread_id
			AND bl.checkpoint_ns = c.checkpoint_ns
			AND bl.type <> 'empty'
			AND bl.version = (c.checkpoint -> 'channel_versions' ->> bl.channel)
	) AS channel_values,
	(
		SELECT COALESCE(jsonb_agg(jsonb_build_object('task_id', cw.task_id, 'channel', cw.channel, 'value', cw.blob) ORDER BY cw.task_id, cw.idx), '[]'::jsonb)
		FROM ` + t.writes + ` cw
		WHERE cw.thread_id = c.thread_id
			AND cw.checkpoint_ns = c.checkpoint_ns
			AND cw.checkpoint_id = c.checkpoint_id
	) AS pending_writes
FROM ` + t.checkpoints + ` c`
}

// listQuery builds the search query. Every caller supplied value, the limit
// included, is a bind parameter.
func (t checkpointTables) listQuery(cfg repository.CheckpointConfig, opts repository.ListOptions, order sortOrder) (string, []any, error) {
	if err := cfg.Validate(); err != nil {
		return "", nil, err
	}

	var (
		where []string
		args  []any
	)
	add := func(cond string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	add("c.thread_id = $%d", cfg.ThreadID)
	add("c.checkpoint_ns = $%d", cfg.CheckpointNS)
	if cfg.CheckpointID != "" {
		add("c.checkpoint_id = $%d", cfg.CheckpointID)
	}
	if len(opts.Filter) > 0 {
		filter, err := json.Marshal(opts.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("failed to marshal metadata filter: %w", err)
		}
		add("c.metadata @> $%d::jsonb", string(filter))
	}
	if opts.Before != nil && opts.Before.CheckpointID != "" {
		add("c.checkpoint_id < $%d", opts.Before.CheckpointID)
	}

	query := t.selectSQL() + "\nWHERE " + strings.Join(where, " AND ") + "\nORDER BY c.checkpoint_id " + string(order)
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args, nil
}

// checkpointRow is the scanned shape of selectSQL.
type checkpointRow struct {
	ThreadID           string         `db:"thread_id"`
	CheckpointNS       string         `db:"checkpoint_ns"`
	CheckpointID       string         `db:"checkpoint_id"`
	ParentCheckpointID sql.NullString `db:"parent_checkpoint_id"`
	Checkpoint         []byte         `db:"checkpoint"`
	Metadata           []byte         `db:"metadata"`
	ChannelValues      []byte         `db:"channel_values"`
	PendingWrites      []byte         `db:"pending_writes"`
}

func (r *checkpointRow) toTuple() (*repository.CheckpointTuple, error) {
	tuple := &repository.CheckpointTuple{
		Config: repository.CheckpointConfig{
			ThreadID:     r.ThreadID,
			CheckpointNS: r.CheckpointNS,
			CheckpointID: r.CheckpointID,
		},
	}

	if err := json.Unmarshal(r.Checkpoint, &tuple.Checkpoint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint %s: %w", r.CheckpointID, err)
	}
	if len(r.ChannelValues) > 0 {
		if err := json.Unmarshal(r.ChannelValues, &tuple.Checkpoint.ChannelValues); err != nil {
			return nil, fmt.Errorf("failed to unmarshal channel values of %s: %w", r.CheckpointID, err)
		}
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &tuple.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata of %s: %w", r.CheckpointID, err)
		}
	}
	if len(r.PendingWrites) > 0 {
		if err := json.Unmarshal(r.PendingWrites, &tuple.PendingWrites); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pending writes of %s: %w", r.CheckpointID, err)
		}
	}
	if tuple.PendingWrites == nil {
		tuple.PendingWrites = []repository.PendingWrite{}
	}

	if r.ParentCheckpointID.Valid && r.ParentCheckpointID.String != "" {
		tuple.ParentConfig = &repository.CheckpointConfig{
			ThreadID:     r.ThreadID,
			CheckpointNS: r.CheckpointNS,
			CheckpointID: r.ParentCheckpointID.String,
		}
	}
	return tuple, nil
}

// listTuples streams the result of one search query. Errors are yielded as
// they come back from the driver.
func listTuples(ctx context.Context, db *sqlx.DB, tables checkpointTables, cfg repository.CheckpointConfig, opts repository.ListOptions, order sortOrder) iter.Seq2[*repository.CheckpointTuple, error] {
	return func(yield func(*repository.CheckpointTuple, error) bool) {
		query, args, err := tables.listQuery(cfg, opts, order)
		if err != nil {
			yield(nil, err)
			return
		}

		rows, err := db.QueryxContext(ctx, query, args...)
		if err != nil {
			yield(nil, err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			var row checkpointRow
			if err := rows.StructScan(&row); err != nil {
				yield(nil, err)
				return
			}
			tuple, err := row.toTuple()
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(tuple, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, err)
		}
	}
}

// versionString renders a channel version the way Postgres' ->> operator
// renders the matching channel_versions entry.
func versionString(v any) string {
	switch version := v.(type) {
	case string:
		return version
	case float64:
		return strconv.FormatFloat(version, 'f', -1, 64)
	case json.Number:
		return version.String()
	case int:
		return strconv.Itoa(version)
	case int64:
		return strconv.FormatInt(version, 10)
	default:
		return fmt.Sprint(version)
	}
}
