package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Arttribute/agent-commons-sub004/internal/models"
	"github.com/Arttribute/agent-commons-sub004/internal/repository"
)

var (
	ErrMissingSessionID = errors.New("missing sessionId")
	ErrInvalidLimit     = errors.New("limit must be a non-negative integer")
	ErrInvalidOrder     = errors.New("order must be asc or desc")
)

// ListOrder selects the direction of a checkpoint listing.
type ListOrder string

const (
	OrderAsc  ListOrder = "asc"
	OrderDesc ListOrder = "desc"
)

// ParseListOrder accepts asc or desc, case-insensitively. Empty means asc.
func ParseListOrder(raw string) (ListOrder, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(OrderAsc):
		return OrderAsc, nil
	case string(OrderDesc):
		return OrderDesc, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOrder, raw)
	}
}

// ParseLimit parses a listing limit. Empty and zero mean no cap.
func ParseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLimit, raw)
	}
	return n, nil
}

// SessionService serves session read models from checkpoint storage.
type SessionService struct {
	state         StateReader
	chronological repository.CheckpointLister
	latestFirst   repository.CheckpointLister
	logger        *logrus.Logger
}

// NewSessionService wires the state reader and both listing orders. A nil
// logger falls back to the logrus standard logger.
func NewSessionService(state StateReader, chronological, latestFirst repository.CheckpointLister, logger *logrus.Logger) *SessionService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SessionService{
		state:         state,
		chronological: chronological,
		latestFirst:   latestFirst,
		logger:        logger,
	}
}

// GetSession summarizes the session stored under sessionID. The current state
// and the earliest checkpoint are read concurrently; a failure of either read
// fails the whole call.
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*models.SessionSummary, error) {
	if sessionID == "" {
		return nil, ErrMissingSessionID
	}
	cfg := repository.ThreadConfig(sessionID)

	var (
		state *models.GraphState
		first *repository.CheckpointTuple
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		state, err = s.state.GetState(gctx, cfg)
		return err
	})
	g.Go(func() error {
		var err error
		first, err = repository.FirstTuple(s.chronological.List(gctx, cfg, repository.ListOptions{Limit: 1}))
		return err
	})
	if err := g.Wait(); err != nil {
		s.logger.WithError(err).WithField("session_id", sessionID).Error("failed to read session checkpoints")
		return nil, err
	}

	messages, err := models.DecodeMessages(state.Values["messages"])
	if err != nil {
		return nil, fmt.Errorf("failed to decode messages of session %s: %w", sessionID, err)
	}

	summary := summarize(state, messages, first)
	s.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"messages":   len(messages),
		"tool_calls": summary.Metrics.ToolCalls,
	}).Debug("session summarized")
	return summary, nil
}

// ListCheckpoints returns the checkpoints of a session thread in the given
// order. cfg.ThreadID is the session id.
func (s *SessionService) ListCheckpoints(ctx context.Context, cfg repository.CheckpointConfig, opts repository.ListOptions, order ListOrder) ([]*repository.CheckpointTuple, error) {
	if cfg.ThreadID == "" {
		return nil, ErrMissingSessionID
	}

	lister := s.chronological
	if order == OrderDesc {
		lister = s.latestFirst
	}
	tuples, err := repository.CollectTuples(lister.List(ctx, cfg, opts))
	if err != nil {
		return nil, err
	}
	if tuples == nil {
		tuples = []*repository.CheckpointTuple{}
	}
	return tuples, nil
}

func summarize(state *models.GraphState, messages []models.Message, first *repository.CheckpointTuple) *models.SessionSummary {
	summary := &models.SessionSummary{
		Values:    state.Values,
		Messages:  make([]models.StoredMessage, 0, len(messages)),
		UpdatedAt: state.CreatedAt,
	}

	for _, msg := range messages {
		summary.Metrics.ToolCalls += msg.ToolCallCount()
		summary.Messages = append(summary.Messages, msg.ToStored())
	}

	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].IsAI() {
			summary.Model.ModelName = messages[i].ModelName()
			summary.Metrics.TotalTokens = messages[i].TotalTokens()
			break
		}
	}

	if first != nil && !first.Checkpoint.TS.IsZero() {
		ts := first.Checkpoint.TS
		summary.CreatedAt = &ts
	}
	return summary
}
