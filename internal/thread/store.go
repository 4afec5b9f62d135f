// Package thread provides the thread store, the single source of truth for
// conversation identity and message history.
package thread

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nodecanvas-ai/canvas-engine/internal/model"
	"github.com/nodecanvas-ai/canvas-engine/pkg/logger"
	"github.com/nodecanvas-ai/canvas-engine/pkg/metrics"
)

var (
	// ErrThreadNotFound is returned for stale or unknown thread ids.
	ErrThreadNotFound = errors.New("thread not found")

	// ErrDuplicateSystemMessage is returned when an append would insert a
	// second system message into a thread. This is always a programming-error
	// signal; the append is dropped with no state change.
	ErrDuplicateSystemMessage = errors.New("thread already has a system message")
)

// Store owns thread lifecycle: creation with optional preamble, append-only
// message log, lookup by id. Every mutation is atomic with respect to other
// calls on the same thread.
type Store struct {
	mu      sync.RWMutex
	threads map[string]*model.Thread

	// current is a non-authoritative UI convenience (which thread the brand
	// voice editor is previewing). Propagation never consults it.
	current string

	logger *logger.Logger
}

// NewStore creates an empty thread store.
func NewStore(log *logger.Logger) *Store {
	return &Store{
		threads: make(map[string]*model.Thread),
		logger:  log,
	}
}

// Create creates a new thread. A non-empty preamble is seeded verbatim as the
// one-time system message; initialUserMessage, if non-empty, follows it as a
// user message. The new thread becomes the current thread.
func (s *Store) Create(preamble, initialUserMessage string) string {
	now := time.Now()

	t := &model.Thread{
		ID:        uuid.Must(uuid.NewV7()).String(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if preamble != "" {
		t.Messages = append(t.Messages, newMessage(model.RoleSystem, model.TextContent(preamble), now))
		t.BrandVoiceInjected = true
	}
	if initialUserMessage != "" {
		t.Messages = append(t.Messages, newMessage(model.RoleUser, model.TextContent(initialUserMessage), now))
	}

	s.mu.Lock()
	s.threads[t.ID] = t
	s.current = t.ID
	s.mu.Unlock()

	metrics.ThreadsTotal.Inc()
	for _, m := range t.Messages {
		metrics.MessagesTotal.WithLabelValues(string(m.Role)).Inc()
	}

	s.logger.Info("thread created",
		zap.String("thread_id", t.ID),
		zap.Bool("brand_voice_injected", t.BrandVoiceInjected),
	)

	return t.ID
}

// Append appends a message to the end of a thread's log. It fails with
// ErrThreadNotFound for unknown ids and with ErrDuplicateSystemMessage if the
// message would violate the at-most-one-system-message invariant.
func (s *Store) Append(threadID string, msg model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(threadID, msg)
}

// AppendExchange appends a user/assistant message pair atomically: a reader
// observes both messages or neither. This is how completed node executions
// record their prompt and result.
func (s *Store) AppendExchange(threadID string, user, assistant model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[threadID]
	if !ok {
		return ErrThreadNotFound
	}

	user.Role = model.RoleUser
	assistant.Role = model.RoleAssistant
	if err := s.appendLocked(threadID, user); err != nil {
		return err
	}
	if err := s.appendLocked(threadID, assistant); err != nil {
		// Unreachable for non-system roles; restore the log to keep the
		// pair atomic anyway.
		t.Messages = t.Messages[:len(t.Messages)-1]
		return err
	}
	return nil
}

func (s *Store) appendLocked(threadID string, msg model.Message) error {
	t, ok := s.threads[threadID]
	if !ok {
		return ErrThreadNotFound
	}

	if msg.Role == model.RoleSystem {
		if t.BrandVoiceInjected || len(t.Messages) > 0 {
			s.logger.Error("rejected duplicate system message",
				zap.String("thread_id", threadID),
			)
			return ErrDuplicateSystemMessage
		}
		t.BrandVoiceInjected = true
	}

	now := time.Now()
	if msg.ID == "" {
		msg.ID = uuid.Must(uuid.NewV7()).String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}

	t.Messages = append(t.Messages, msg)
	t.UpdatedAt = now

	metrics.MessagesTotal.WithLabelValues(string(msg.Role)).Inc()
	return nil
}

// Context returns a snapshot of the thread's log as a conversation context.
// The snapshot is a copy; later appends do not show through.
func (s *Store) Context(threadID string) (model.ConversationContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.threads[threadID]
	if !ok {
		return model.ConversationContext{}, ErrThreadNotFound
	}

	return model.ConversationContext{
		Messages: copyMessages(t.Messages),
		ThreadID: t.ID,
	}, nil
}

// Get returns a snapshot of the thread itself.
func (s *Store) Get(threadID string) (model.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.threads[threadID]
	if !ok {
		return model.Thread{}, ErrThreadNotFound
	}

	snapshot := *t
	snapshot.Messages = copyMessages(t.Messages)
	return snapshot, nil
}

// Exists reports whether a thread id is still live. Completion callbacks use
// this to drop orphaned results after a reset.
func (s *Store) Exists(threadID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.threads[threadID]
	return ok
}

// Reset removes a single thread; subsequent lookups return ErrThreadNotFound.
func (s *Store) Reset(threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.threads[threadID]; !ok {
		return ErrThreadNotFound
	}
	delete(s.threads, threadID)
	if s.current == threadID {
		s.current = ""
	}

	s.logger.Info("thread reset", zap.String("thread_id", threadID))
	return nil
}

// ClearAll removes every thread. Used only for whole-canvas reset.
func (s *Store) ClearAll() {
	s.mu.Lock()
	n := len(s.threads)
	s.threads = make(map[string]*model.Thread)
	s.current = ""
	s.mu.Unlock()

	s.logger.Info("all threads cleared", zap.Int("count", n))
}

// Current returns the current thread id, or "" if unset.
func (s *Store) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// SetCurrent sets the current thread pointer.
func (s *Store) SetCurrent(threadID string) {
	s.mu.Lock()
	s.current = threadID
	s.mu.Unlock()
}

func newMessage(role model.Role, content model.Content, at time.Time) model.Message {
	return model.Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Role:      role,
		Content:   content,
		CreatedAt: at,
	}
}

func copyMessages(msgs []model.Message) []model.Message {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out
}
