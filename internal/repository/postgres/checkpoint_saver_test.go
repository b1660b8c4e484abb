package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Arttribute/agent-commons-sub004/internal/repository"
)

var tupleColumns = []string{
	"thread_id", "checkpoint_ns", "checkpoint_id", "parent_checkpoint_id",
	"checkpoint", "metadata", "channel_values", "pending_writes",
}

var baseTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	return sqlx.NewDb(raw, "postgres"), mock
}

func checkpointBody(id string, ts time.Time) []byte {
	return []byte(fmt.Sprintf(`{"v":1,"id":%q,"ts":%q,"channel_versions":{"messages":1},"versions_seen":{}}`, id, ts.Format(time.RFC3339)))
}

// addCheckpoint appends a row for id; step n sets the timestamp offset and
// the metadata step. parent may be nil.
func addCheckpoint(rows *sqlmock.Rows, thread, id string, parent any, n int) *sqlmock.Rows {
	return rows.AddRow(
		thread, "", id, parent,
		checkpointBody(id, baseTime.Add(time.Duration(n)*time.Second)),
		[]byte(fmt.Sprintf(`{"source":"loop","step":%d,"user":"u-1"}`, n)),
		[]byte(`{"messages":[]}`),
		[]byte(`[]`),
	)
}

func threeCheckpointsAscending() *sqlmock.Rows {
	rows := sqlmock.NewRows(tupleColumns)
	addCheckpoint(rows, "abc", "c1", nil, 1)
	addCheckpoint(rows, "abc", "c2", "c1", 2)
	addCheckpoint(rows, "abc", "c3", "c2", 3)
	return rows
}

func ids(tuples []*repository.CheckpointTuple) []string {
	out := make([]string, 0, len(tuples))
	for _, tuple := range tuples {
		out = append(out, tuple.Config.CheckpointID)
	}
	return out
}

func TestChronologicalSaver_ListAscending(t *testing.T) {
	db, mock := newMockDB(t)
	saver := NewChronologicalSaver(db, "")

	mock.ExpectQuery(`FROM checkpoints c\s+WHERE c\.thread_id = \$1 AND c\.checkpoint_ns = \$2\s+ORDER BY c\.checkpoint_id ASC$`).
		WithArgs("abc", "").
		WillReturnRows(threeCheckpointsAscending())

	tuples, err := repository.CollectTuples(saver.List(context.Background(), repository.ThreadConfig("abc"), repository.ListOptions{}))
	require.NoError(t, err)

	assert.Equal(t, []string{"c1", "c2", "c3"}, ids(tuples))
	assert.Nil(t, tuples[0].ParentConfig, "root checkpoint has no parent")
	require.NotNil(t, tuples[1].ParentConfig)
	assert.Equal(t, "c1", tuples[1].ParentConfig.CheckpointID)
	assert.Equal(t, baseTime.Add(time.Second), tuples[0].Checkpoint.TS)
	assert.Equal(t, "loop", tuples[0].Metadata.Source)
	assert.JSONEq(t, `"u-1"`, string(tuples[0].Metadata.Extra["user"]))
	assert.JSONEq(t, `[]`, string(tuples[0].Checkpoint.ChannelValues["messages"]))
	assert.NotNil(t, tuples[0].PendingWrites)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChronologicalSaver_LimitReturnsEarliest(t *testing.T) {
	db, mock := newMockDB(t)
	saver := NewChronologicalSaver(db, "")

	rows := sqlmock.NewRows(tupleColumns)
	addCheckpoint(rows, "abc", "c1", nil, 1)

	mock.ExpectQuery(`ORDER BY c\.checkpoint_id ASC LIMIT \$3$`).
		WithArgs("abc", "", 1).
		WillReturnRows(rows)

	tuples, err := repository.CollectTuples(saver.List(context.Background(), repository.ThreadConfig("abc"), repository.ListOptions{Limit: 1}))
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, ids(tuples))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChronologicalSaver_NonPositiveLimitIsUncapped(t *testing.T) {
	db, mock := newMockDB(t)
	saver := NewChronologicalSaver(db, "")

	mock.ExpectQuery(`ORDER BY c\.checkpoint_id ASC$`).
		WithArgs("abc", "").
		WillReturnRows(threeCheckpointsAscending())

	tuples, err := repository.CollectTuples(saver.List(context.Background(), repository.ThreadConfig("abc"), repository.ListOptions{Limit: -5}))
	require.NoError(t, err)
	assert.Len(t, tuples, 3)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChronologicalSaver_FilterAndBefore(t *testing.T) {
	db, mock := newMockDB(t)
	saver := NewChronologicalSaver(db, "")

	rows := sqlmock.NewRows(tupleColumns)
	addCheckpoint(rows, "abc", "c1", nil, 1)

	mock.ExpectQuery(`WHERE c\.thread_id = \$1 AND c\.checkpoint_ns = \$2 AND c\.metadata @> \$3::jsonb AND c\.checkpoint_id < \$4\s+ORDER BY c\.checkpoint_id ASC LIMIT \$5$`).
		WithArgs("abc", "sub", `{"source":"loop"}`, "c3", 2).
		WillReturnRows(rows)

	cfg := repository.CheckpointConfig{ThreadID: "abc", CheckpointNS: "sub"}
	opts := repository.ListOptions{
		Filter: map[string]any{"source": "loop"},
		Before: &repository.CheckpointConfig{ThreadID: "abc", CheckpointID: "c3"},
		Limit:  2,
	}
	tuples, err := repository.CollectTuples(saver.List(context.Background(), cfg, opts))
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, ids(tuples))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListQuery_CallerInputNeverInQueryText(t *testing.T) {
	tables := newCheckpointTables("")
	hostile := "1; DROP TABLE checkpoints; --"

	query, args, err := tables.listQuery(
		repository.CheckpointConfig{ThreadID: hostile, CheckpointNS: hostile, CheckpointID: hostile},
		repository.ListOptions{
			Filter: map[string]any{"source": hostile},
			Before: &repository.CheckpointConfig{CheckpointID: hostile},
			Limit:  10,
		},
		ascending,
	)
	require.NoError(t, err)

	assert.NotContains(t, query, "DROP")
	assert.Contains(t, query, "LIMIT $6")
	assert.Len(t, args, 6)
	assert.Equal(t, 10, args[5])
}

func TestListQuery_SchemaQualified(t *testing.T) {
	query, _, err := newCheckpointTables(`lang"graph`).listQuery(repository.ThreadConfig("abc"), repository.ListOptions{}, descending)
	require.NoError(t, err)

	assert.Contains(t, query, `FROM "lang""graph".checkpoints c`)
	assert.Contains(t, query, `FROM "lang""graph".checkpoint_blobs bl`)
	assert.Contains(t, query, `FROM "lang""graph".checkpoint_writes cw`)
}

func TestChronologicalSaver_MissingThread(t *testing.T) {
	db, mock := newMockDB(t)
	saver := NewChronologicalSaver(db, "")

	_, err := repository.CollectTuples(saver.List(context.Background(), repository.CheckpointConfig{}, repository.ListOptions{}))
	assert.ErrorIs(t, err, repository.ErrMissingThreadID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChronologicalSaver_QueryErrorPropagates(t *testing.T) {
	db, mock := newMockDB(t)
	saver := NewChronologicalSaver(db, "")
	boom := errors.New("connection reset by peer")

	mock.ExpectQuery(`ORDER BY c\.checkpoint_id ASC`).WillReturnError(boom)

	_, err := repository.FirstTuple(saver.List(context.Background(), repository.ThreadConfig("abc"), repository.ListOptions{Limit: 1}))
	assert.Equal(t, boom, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChronologicalSaver_MalformedPayload(t *testing.T) {
	db, mock := newMockDB(t)
	saver := NewChronologicalSaver(db, "")

	rows := sqlmock.NewRows(tupleColumns).
		AddRow("abc", "", "c1", nil, []byte(`{not json`), []byte(`{}`), []byte(`{}`), []byte(`[]`))
	mock.ExpectQuery(`ORDER BY c\.checkpoint_id ASC`).WillReturnRows(rows)

	_, err := repository.CollectTuples(saver.List(context.Background(), repository.ThreadConfig("abc"), repository.ListOptions{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal checkpoint c1")
}

func TestChronologicalSaver_RowErrorPropagates(t *testing.T) {
	db, mock := newMockDB(t)
	saver := NewChronologicalSaver(db, "")
	boom := errors.New("server closed the connection")

	rows := sqlmock.NewRows(tupleColumns)
	addCheckpoint(rows, "abc", "c1", nil, 1)
	addCheckpoint(rows, "abc", "c2", "c1", 2)
	rows.RowError(1, boom)
	mock.ExpectQuery(`ORDER BY c\.checkpoint_id ASC`).WillReturnRows(rows)

	var seen []string
	var lastErr error
	for tuple, err := range saver.List(context.Background(), repository.ThreadConfig("abc"), repository.ListOptions{}) {
		if err != nil {
			lastErr = err
			break
		}
		seen = append(seen, tuple.Config.CheckpointID)
	}
	assert.Equal(t, []string{"c1"}, seen)
	assert.Equal(t, boom, lastErr)
}

func TestChronologicalSaver_EarlyBreakClosesRows(t *testing.T) {
	db, mock := newMockDB(t)
	saver := NewChronologicalSaver(db, "")

	mock.ExpectQuery(`ORDER BY c\.checkpoint_id ASC`).
		WillReturnRows(threeCheckpointsAscending()).
		RowsWillBeClosed()

	first, err := repository.FirstTuple(saver.List(context.Background(), repository.ThreadConfig("abc"), repository.ListOptions{}))
	require.NoError(t, err)
	assert.Equal(t, "c1", first.Config.CheckpointID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChronologicalSaver_EachRangeRequeries(t *testing.T) {
	db, mock := newMockDB(t)
	saver := NewChronologicalSaver(db, "")
	seq := saver.List(context.Background(), repository.ThreadConfig("abc"), repository.ListOptions{})

	mock.ExpectQuery(`ORDER BY c\.checkpoint_id ASC`).WillReturnRows(threeCheckpointsAscending())
	mock.ExpectQuery(`ORDER BY c\.checkpoint_id ASC`).WillReturnRows(threeCheckpointsAscending())

	for range 2 {
		tuples, err := repository.CollectTuples(seq)
		require.NoError(t, err)
		assert.Len(t, tuples, 3)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewChronologicalSaverFromSaver_SharesPool(t *testing.T) {
	db, _ := newMockDB(t)
	saver := NewCheckpointSaver(db, "agents")

	chrono := NewChronologicalSaverFromSaver(saver)
	assert.Same(t, saver.DB(), chrono.DB())
	assert.Equal(t, "agents", chrono.Schema())
	assert.NoError(t, chrono.Close())
}

func TestCheckpointSaver_ListDescending(t *testing.T) {
	db, mock := newMockDB(t)
	saver := NewCheckpointSaver(db, "")

	rows := sqlmock.NewRows(tupleColumns)
	addCheckpoint(rows, "abc", "c3", "c2", 3)
	addCheckpoint(rows, "abc", "c2", "c1", 2)
	mock.ExpectQuery(`ORDER BY c\.checkpoint_id DESC$`).WithArgs("abc", "").WillReturnRows(rows)

	tuples, err := repository.CollectTuples(saver.List(context.Background(), repository.ThreadConfig("abc"), repository.ListOptions{}))
	require.NoError(t, err)
	assert.Equal(t, []string{"c3", "c2"}, ids(tuples))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckpointSaver_GetTuple(t *testing.T) {
	db, mock := newMockDB(t)
	saver := NewCheckpointSaver(db, "")

	latest := sqlmock.NewRows(tupleColumns)
	addCheckpoint(latest, "abc", "c3", "c2", 3)
	mock.ExpectQuery(`ORDER BY c\.checkpoint_id DESC LIMIT \$3$`).WithArgs("abc", "", 1).WillReturnRows(latest)

	tuple, err := saver.GetTuple(context.Background(), repository.ThreadConfig("abc"))
	require.NoError(t, err)
	require.NotNil(t, tuple)
	assert.Equal(t, "c3", tuple.Config.CheckpointID)

	specific := sqlmock.NewRows(tupleColumns)
	addCheckpoint(specific, "abc", "c2", "c1", 2)
	mock.ExpectQuery(`AND c\.checkpoint_id = \$3\s+ORDER BY c\.checkpoint_id DESC LIMIT \$4$`).WithArgs("abc", "", "c2", 1).WillReturnRows(specific)

	tuple, err = saver.GetTuple(context.Background(), repository.CheckpointConfig{ThreadID: "abc", CheckpointID: "c2"})
	require.NoError(t, err)
	assert.Equal(t, "c2", tuple.Config.CheckpointID)

	mock.ExpectQuery(`ORDER BY c\.checkpoint_id DESC`).WillReturnRows(sqlmock.NewRows(tupleColumns))
	tuple, err = saver.GetTuple(context.Background(), repository.ThreadConfig("missing"))
	require.NoError(t, err)
	assert.Nil(t, tuple)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckpointSaver_Put(t *testing.T) {
	db, mock := newMockDB(t)
	saver := NewCheckpointSaver(db, "")

	checkpoint := repository.Checkpoint{
		ID: "c2",
		TS: baseTime,
		ChannelValues: map[string]json.RawMessage{
			"messages": json.RawMessage(`[{"type":"human","content":"hi"}]`),
		},
		ChannelVersions: map[string]any{"messages": 2, "__start__": 2},
	}
	metadata := repository.CheckpointMetadata{Source: "loop", Step: 1}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO checkpoint_blobs`).
		WithArgs("abc", "", "__start__", "2", "empty", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO checkpoint_blobs`).
		WithArgs("abc", "", "messages", "2", "json", `[{"type":"human","content":"hi"}]`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)INSERT INTO checkpoints .*ON CONFLICT \(thread_id, checkpoint_ns, checkpoint_id\)`).
		WithArgs("abc", "", "c2", "c1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	stored, err := saver.Put(context.Background(),
		repository.CheckpointConfig{ThreadID: "abc", CheckpointID: "c1"},
		checkpoint, metadata,
		repository.ChannelVersions{"messages": 2, "__start__": 2},
	)
	require.NoError(t, err)
	assert.Equal(t, repository.CheckpointConfig{ThreadID: "abc", CheckpointID: "c2"}, stored)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckpointSaver_PutMintsIDAndRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	saver := NewCheckpointSaver(db, "")
	boom := errors.New("disk full")

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO checkpoints`).
		WithArgs("abc", "", sqlmock.AnyArg(), nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(boom)
	mock.ExpectRollback()

	_, err := saver.Put(context.Background(), repository.ThreadConfig("abc"), repository.Checkpoint{}, repository.CheckpointMetadata{}, nil)
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckpointSaver_PutWrites(t *testing.T) {
	db, mock := newMockDB(t)
	saver := NewCheckpointSaver(db, "")
	cfg := repository.CheckpointConfig{ThreadID: "abc", CheckpointID: "c3"}

	err := saver.PutWrites(context.Background(), repository.ThreadConfig("abc"), []repository.PendingWrite{{Channel: "messages"}}, "task-1")
	assert.Error(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO checkpoint_writes`).
		WithArgs("abc", "", "c3", "task-1", 0, "messages", "json", `{"type":"ai"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO checkpoint_writes`).
		WithArgs("abc", "", "c3", "task-1", 1, "branch:agent", "json", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = saver.PutWrites(context.Background(), cfg, []repository.PendingWrite{
		{Channel: "messages", Value: json.RawMessage(`{"type":"ai"}`)},
		{Channel: "branch:agent"},
	}, "task-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVersionString(t *testing.T) {
	tests := []struct {
		in       any
		expected string
	}{
		{"00000000000000000000000000000002.0.123", "00000000000000000000000000000002.0.123"},
		{float64(3), "3"},
		{2.5, "2.5"},
		{json.Number("7"), "7"},
		{4, "4"},
		{int64(9), "9"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, versionString(tt.in))
		})
	}
}
