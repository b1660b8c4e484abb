package repository

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"time"

	"github.com/google/uuid"
)

// ErrMissingThreadID is returned when a checkpoint config carries no thread id.
var ErrMissingThreadID = errors.New("checkpoint config is missing thread_id")

// CheckpointConfig addresses a thread, a namespace within it and optionally a
// single checkpoint.
type CheckpointConfig struct {
	ThreadID     string `json:"thread_id"`
	CheckpointNS string `json:"checkpoint_ns"`
	CheckpointID string `json:"checkpoint_id,omitempty"`
}

// ThreadConfig returns the config for the head of a thread in the root namespace.
func ThreadConfig(threadID string) CheckpointConfig {
	return CheckpointConfig{ThreadID: threadID}
}

// Configurable returns the engine's {"configurable": {...}} shape.
func (c CheckpointConfig) Configurable() map[string]any {
	conf := map[string]any{
		"thread_id":     c.ThreadID,
		"checkpoint_ns": c.CheckpointNS,
	}
	if c.CheckpointID != "" {
		conf["checkpoint_id"] = c.CheckpointID
	}
	return map[string]any{"configurable": conf}
}

// Validate checks the config addresses a thread.
func (c CheckpointConfig) Validate() error {
	if c.ThreadID == "" {
		return ErrMissingThreadID
	}
	return nil
}

// Checkpoint is an immutable snapshot of graph state.
type Checkpoint struct {
	V               int                        `json:"v"`
	ID              string                     `json:"id"`
	TS              time.Time                  `json:"ts"`
	ChannelValues   map[string]json.RawMessage `json:"channel_values,omitempty"`
	ChannelVersions map[string]any             `json:"channel_versions"`
	VersionsSeen    map[string]map[string]any  `json:"versions_seen"`
	PendingSends    []json.RawMessage          `json:"pending_sends,omitempty"`
}

// CheckpointMetadata is the metadata object stored next to a checkpoint. Keys
// other than the typed ones are kept in Extra.
type CheckpointMetadata struct {
	Source  string                     `json:"source,omitempty"`
	Step    int                        `json:"step"`
	Writes  map[string]json.RawMessage `json:"writes,omitempty"`
	Parents map[string]string          `json:"parents,omitempty"`
	Extra   map[string]json.RawMessage `json:"-"`
}

var metadataKeys = map[string]bool{"source": true, "step": true, "writes": true, "parents": true}

func (m CheckpointMetadata) MarshalJSON() ([]byte, error) {
	type plain CheckpointMetadata
	base, err := json.Marshal(plain(m))
	if err != nil || len(m.Extra) == 0 {
		return base, err
	}
	merged := make(map[string]json.RawMessage, len(m.Extra)+4)
	for k, v := range m.Extra {
		merged[k] = v
	}
	var typed map[string]json.RawMessage
	if err := json.Unmarshal(base, &typed); err != nil {
		return nil, err
	}
	for k, v := range typed {
		merged[k] = v
	}
	return json.Marshal(merged)
}

func (m *CheckpointMetadata) UnmarshalJSON(data []byte) error {
	type plain CheckpointMetadata
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for k, v := range all {
		if metadataKeys[k] {
			continue
		}
		if p.Extra == nil {
			p.Extra = make(map[string]json.RawMessage)
		}
		p.Extra[k] = v
	}
	*m = CheckpointMetadata(p)
	return nil
}

// PendingWrite is a channel write recorded by a task against a checkpoint.
type PendingWrite struct {
	TaskID  string          `json:"task_id"`
	Channel string          `json:"channel"`
	Value   json.RawMessage `json:"value"`
}

// CheckpointTuple is one listing result.
type CheckpointTuple struct {
	Config        CheckpointConfig   `json:"config"`
	Checkpoint    Checkpoint         `json:"checkpoint"`
	Metadata      CheckpointMetadata `json:"metadata"`
	ParentConfig  *CheckpointConfig  `json:"parent_config,omitempty"`
	PendingWrites []PendingWrite     `json:"pending_writes"`
}

// ListOptions narrows a listing. Filter matches metadata by containment,
// Before excludes Before.CheckpointID and everything after it, and Limit caps
// the row count when positive.
type ListOptions struct {
	Filter map[string]any
	Before *CheckpointConfig
	Limit  int
}

// ChannelVersions maps channel names to the version stored for a checkpoint.
type ChannelVersions map[string]any

// CheckpointLister lists the checkpoints of a thread. Each range over the
// returned sequence issues a fresh query.
type CheckpointLister interface {
	List(ctx context.Context, cfg CheckpointConfig, opts ListOptions) iter.Seq2[*CheckpointTuple, error]
}

// CheckpointSaver is the full checkpoint store contract used by the graph engine.
type CheckpointSaver interface {
	CheckpointLister
	GetTuple(ctx context.Context, cfg CheckpointConfig) (*CheckpointTuple, error)
	Put(ctx context.Context, cfg CheckpointConfig, checkpoint Checkpoint, metadata CheckpointMetadata, newVersions ChannelVersions) (CheckpointConfig, error)
	PutWrites(ctx context.Context, cfg CheckpointConfig, writes []PendingWrite, taskID string) error
}

// NewCheckpointID mints a time-ordered checkpoint id. Ids minted later sort
// after earlier ones.
func NewCheckpointID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// FirstTuple returns the first tuple of seq, or nil when seq yields nothing.
func FirstTuple(seq iter.Seq2[*CheckpointTuple, error]) (*CheckpointTuple, error) {
	for tuple, err := range seq {
		if err != nil {
			return nil, err
		}
		return tuple, nil
	}
	return nil, nil
}

// CollectTuples drains seq, stopping at the first error.
func CollectTuples(seq iter.Seq2[*CheckpointTuple, error]) ([]*CheckpointTuple, error) {
	var tuples []*CheckpointTuple
	for tuple, err := range seq {
		if err != nil {
			return nil, err
		}
		tuples = append(tuples, tuple)
	}
	return tuples, nil
}
