package repository

import (
	"encoding/json"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seqOf(tuples []*CheckpointTuple, tail error) iter.Seq2[*CheckpointTuple, error] {
	return func(yield func(*CheckpointTuple, error) bool) {
		for _, tuple := range tuples {
			if !yield(tuple, nil) {
				return
			}
		}
		if tail != nil {
			yield(nil, tail)
		}
	}
}

func tupleWithID(id string) *CheckpointTuple {
	return &CheckpointTuple{Config: CheckpointConfig{ThreadID: "abc", CheckpointID: id}}
}

func TestFirstTuple(t *testing.T) {
	first, err := FirstTuple(seqOf([]*CheckpointTuple{tupleWithID("c1"), tupleWithID("c2")}, nil))
	require.NoError(t, err)
	assert.Equal(t, "c1", first.Config.CheckpointID)

	first, err = FirstTuple(seqOf(nil, nil))
	require.NoError(t, err)
	assert.Nil(t, first)

	boom := errors.New("boom")
	_, err = FirstTuple(seqOf(nil, boom))
	assert.ErrorIs(t, err, boom)
}

func TestCollectTuples(t *testing.T) {
	tuples, err := CollectTuples(seqOf([]*CheckpointTuple{tupleWithID("c1"), tupleWithID("c2")}, nil))
	require.NoError(t, err)
	assert.Len(t, tuples, 2)

	boom := errors.New("boom")
	_, err = CollectTuples(seqOf([]*CheckpointTuple{tupleWithID("c1")}, boom))
	assert.ErrorIs(t, err, boom)
}

func TestCheckpointConfig(t *testing.T) {
	assert.ErrorIs(t, CheckpointConfig{}.Validate(), ErrMissingThreadID)
	assert.NoError(t, ThreadConfig("abc").Validate())

	assert.Equal(t, map[string]any{
		"configurable": map[string]any{"thread_id": "abc", "checkpoint_ns": ""},
	}, ThreadConfig("abc").Configurable())

	assert.Equal(t, map[string]any{
		"configurable": map[string]any{"thread_id": "abc", "checkpoint_ns": "sub", "checkpoint_id": "c1"},
	}, CheckpointConfig{ThreadID: "abc", CheckpointNS: "sub", CheckpointID: "c1"}.Configurable())
}

func TestCheckpointMetadata_KeepsUnknownKeys(t *testing.T) {
	var md CheckpointMetadata
	require.NoError(t, json.Unmarshal([]byte(`{"source":"input","step":-1,"writes":{"__start__":{"messages":[]}},"parents":{},"agent_id":"a-9"}`), &md))

	assert.Equal(t, "input", md.Source)
	assert.Equal(t, -1, md.Step)
	assert.Contains(t, md.Writes, "__start__")
	assert.JSONEq(t, `"a-9"`, string(md.Extra["agent_id"]))
	assert.NotContains(t, md.Extra, "source")

	out, err := json.Marshal(md)
	require.NoError(t, err)
	assert.JSONEq(t, `{"source":"input","step":-1,"writes":{"__start__":{"messages":[]}},"agent_id":"a-9"}`, string(out))
}

func TestNewCheckpointID_Ordered(t *testing.T) {
	prev := NewCheckpointID()
	for range 50 {
		next := NewCheckpointID()
		assert.Less(t, prev, next)
		prev = next
	}
}
