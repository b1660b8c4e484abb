package models

import (
	"encoding/json"
	"time"

	"github.com/Arttribute/agent-commons-sub004/internal/repository"
)

// GraphState is the current state of a session graph, as the engine reports
// it for a thread.
type GraphState struct {
	Values       map[string]json.RawMessage     `json:"values"`
	Config       repository.CheckpointConfig    `json:"config"`
	ParentConfig *repository.CheckpointConfig   `json:"parentConfig,omitempty"`
	Metadata     *repository.CheckpointMetadata `json:"metadata,omitempty"`
	// CreatedAt is the timestamp of the checkpoint the state was read from.
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

// SessionModel identifies the model behind the latest AI reply.
type SessionModel struct {
	ModelName *string `json:"modelName,omitempty"`
}

// SessionMetrics aggregates usage over a session.
type SessionMetrics struct {
	ToolCalls   int  `json:"toolCalls"`
	TotalTokens *int `json:"totalTokens,omitempty"`
}

// SessionSummary is the read model served for a session. It is computed per
// request and never stored.
type SessionSummary struct {
	// Values holds the raw state fields; the keys below take precedence.
	Values    map[string]json.RawMessage
	Messages  []StoredMessage
	Model     SessionModel
	Metrics   SessionMetrics
	CreatedAt *time.Time
	UpdatedAt *time.Time
}

// MarshalJSON flattens the raw state values next to the summary fields.
func (s SessionSummary) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Values)+5)
	for k, v := range s.Values {
		out[k] = v
	}

	messages := s.Messages
	if messages == nil {
		messages = []StoredMessage{}
	}
	out["messages"] = messages
	out["model"] = s.Model
	out["metrics"] = s.Metrics
	if s.CreatedAt != nil {
		out["createdAt"] = s.CreatedAt
	} else {
		delete(out, "createdAt")
	}
	if s.UpdatedAt != nil {
		out["updatedAt"] = s.UpdatedAt
	} else {
		delete(out, "updatedAt")
	}
	return json.Marshal(out)
}
