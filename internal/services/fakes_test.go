package services

import (
	"context"
	"encoding/json"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/Arttribute/agent-commons-sub004/internal/models"
	"github.com/Arttribute/agent-commons-sub004/internal/repository"
)

var baseTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// memoryStore keeps checkpoints per thread and serves both listing orders.
type memoryStore struct {
	mu      sync.Mutex
	threads map[string][]*repository.CheckpointTuple
	err     error
	calls   int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{threads: map[string][]*repository.CheckpointTuple{}}
}

func (m *memoryStore) add(thread, id string, ts time.Time, values map[string]json.RawMessage) {
	m.threads[thread] = append(m.threads[thread], &repository.CheckpointTuple{
		Config: repository.CheckpointConfig{ThreadID: thread, CheckpointID: id},
		Checkpoint: repository.Checkpoint{
			V:             1,
			ID:            id,
			TS:            ts,
			ChannelValues: values,
		},
		PendingWrites: []repository.PendingWrite{},
	})
}

func (m *memoryStore) sorted(thread string, desc bool) []*repository.CheckpointTuple {
	tuples := append([]*repository.CheckpointTuple(nil), m.threads[thread]...)
	sort.Slice(tuples, func(i, j int) bool {
		if desc {
			return tuples[i].Config.CheckpointID > tuples[j].Config.CheckpointID
		}
		return tuples[i].Config.CheckpointID < tuples[j].Config.CheckpointID
	})
	return tuples
}

func (m *memoryStore) list(cfg repository.CheckpointConfig, opts repository.ListOptions, desc bool) iter.Seq2[*repository.CheckpointTuple, error] {
	return func(yield func(*repository.CheckpointTuple, error) bool) {
		m.mu.Lock()
		m.calls++
		err := m.err
		tuples := m.sorted(cfg.ThreadID, desc)
		m.mu.Unlock()

		if err != nil {
			yield(nil, err)
			return
		}
		for i, tuple := range tuples {
			if opts.Limit > 0 && i >= opts.Limit {
				return
			}
			if !yield(tuple, nil) {
				return
			}
		}
	}
}

func (m *memoryStore) accessCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type ascLister struct{ *memoryStore }

func (l ascLister) List(ctx context.Context, cfg repository.CheckpointConfig, opts repository.ListOptions) iter.Seq2[*repository.CheckpointTuple, error] {
	return l.list(cfg, opts, false)
}

type descLister struct{ *memoryStore }

func (l descLister) List(ctx context.Context, cfg repository.CheckpointConfig, opts repository.ListOptions) iter.Seq2[*repository.CheckpointTuple, error] {
	return l.list(cfg, opts, true)
}

func (l descLister) GetTuple(ctx context.Context, cfg repository.CheckpointConfig) (*repository.CheckpointTuple, error) {
	return repository.FirstTuple(l.list(cfg, repository.ListOptions{Limit: 1}, true))
}

// stubState returns a fixed state or error.
type stubState struct {
	state *models.GraphState
	err   error
	calls int
}

func (s *stubState) GetState(ctx context.Context, cfg repository.CheckpointConfig) (*models.GraphState, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.state, nil
}

func newMemorySessionService(store *memoryStore) *SessionService {
	latest := descLister{store}
	return NewSessionService(NewCheckpointStateReader(latest), ascLister{store}, latest, nil)
}

func rawJSON(s string) json.RawMessage {
	return json.RawMessage(s)
}
