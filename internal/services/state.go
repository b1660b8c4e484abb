package services

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/Arttribute/agent-commons-sub004/internal/models"
	"github.com/Arttribute/agent-commons-sub004/internal/repository"
)

// StateReader reads the current graph state of a thread.
type StateReader interface {
	GetState(ctx context.Context, cfg repository.CheckpointConfig) (*models.GraphState, error)
}

// TupleGetter resolves a single checkpoint tuple.
type TupleGetter interface {
	GetTuple(ctx context.Context, cfg repository.CheckpointConfig) (*repository.CheckpointTuple, error)
}

// CheckpointStateReader builds graph state from the latest checkpoint of a
// thread.
type CheckpointStateReader struct {
	saver TupleGetter
}

func NewCheckpointStateReader(saver TupleGetter) *CheckpointStateReader {
	return &CheckpointStateReader{saver: saver}
}

// GetState returns the state at the latest checkpoint, or an empty state when
// the thread has none.
func (r *CheckpointStateReader) GetState(ctx context.Context, cfg repository.CheckpointConfig) (*models.GraphState, error) {
	tuple, err := r.saver.GetTuple(ctx, cfg)
	if err != nil {
		return nil, err
	}

	state := &models.GraphState{
		Values: map[string]json.RawMessage{},
		Config: cfg,
	}
	if tuple == nil {
		return state, nil
	}

	for channel, value := range tuple.Checkpoint.ChannelValues {
		if isInternalChannel(channel) {
			continue
		}
		state.Values[channel] = value
	}
	state.Config = tuple.Config
	state.ParentConfig = tuple.ParentConfig
	metadata := tuple.Metadata
	state.Metadata = &metadata
	if !tuple.Checkpoint.TS.IsZero() {
		ts := tuple.Checkpoint.TS
		state.CreatedAt = &ts
	}
	return state, nil
}

// isInternalChannel matches channels the engine uses for scheduling.
func isInternalChannel(channel string) bool {
	return strings.HasPrefix(channel, "__") || strings.HasPrefix(channel, "branch:")
}
