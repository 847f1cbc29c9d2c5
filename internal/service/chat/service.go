package chat

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/zhouzirui/datachat/backend/internal/model/chat"
)

var (
	ErrAssistantRequired = errors.New("assistant id is required")
	ErrThreadNotFound    = errors.New("thread not found")
	ErrInvalidRole       = errors.New("invalid message role")
)

const titleLimit = 48

// Service encapsulates thread state management on top of a Store.
type Service struct {
	mu    sync.Mutex
	store Store
	now   func() time.Time
}

// NewService wraps store. A nil store falls back to an in-memory one.
func NewService(store Store) *Service {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Service{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// CreateThread provisions an empty thread bound to an assistant profile.
func (s *Service) CreateThread(ctx context.Context, assistantID string) (chat.Thread, error) {
	assistantID = strings.TrimSpace(assistantID)
	if assistantID == "" {
		return chat.Thread{}, ErrAssistantRequired
	}

	now := s.now()
	thread := chat.Thread{
		ID:          uuid.NewString(),
		AssistantID: assistantID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateThread(ctx, thread); err != nil {
		return chat.Thread{}, err
	}
	return thread, nil
}

// GetThread retrieves a thread by identifier.
func (s *Service) GetThread(ctx context.Context, threadID string) (chat.Thread, error) {
	if threadID == "" {
		return chat.Thread{}, ErrThreadNotFound
	}
	return s.store.GetThread(ctx, threadID)
}

// ListThreads returns all threads, most recently active first.
func (s *Service) ListThreads(ctx context.Context) ([]chat.Thread, error) {
	threads, err := s.store.ListThreads(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(threads, func(i, j int) bool {
		return threads[i].UpdatedAt.After(threads[j].UpdatedAt)
	})
	return threads, nil
}

// DeleteThread removes a thread and its transcript.
func (s *Service) DeleteThread(ctx context.Context, threadID string) error {
	if threadID == "" {
		return ErrThreadNotFound
	}
	return s.store.DeleteThread(ctx, threadID)
}

// SaveMessage appends a message to the thread history and returns it with
// its assigned id. The first user message also becomes the thread title.
func (s *Service) SaveMessage(ctx context.Context, message chat.Message) (chat.Message, error) {
	if message.ThreadID == "" {
		return chat.Message{}, ErrThreadNotFound
	}
	if !message.Role.Valid() {
		return chat.Message{}, ErrInvalidRole
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	thread, err := s.store.GetThread(ctx, message.ThreadID)
	if err != nil {
		return chat.Message{}, err
	}

	message.ID = uuid.NewString()
	if message.CreatedAt.IsZero() {
		message.CreatedAt = s.now()
	}
	if err := s.store.AppendMessage(ctx, message); err != nil {
		return chat.Message{}, err
	}

	if thread.Title == "" && message.Role == chat.RoleUser {
		thread.Title = deriveTitle(message.Content)
	}
	thread.UpdatedAt = message.CreatedAt
	if err := s.store.UpdateThread(ctx, thread); err != nil {
		return chat.Message{}, err
	}
	return message, nil
}

// LoadTranscript returns stored messages for the provided thread in order.
func (s *Service) LoadTranscript(ctx context.Context, threadID string) ([]chat.Message, error) {
	if threadID == "" {
		return nil, ErrThreadNotFound
	}
	return s.store.ListMessages(ctx, threadID)
}

// Close releases the underlying store.
func (s *Service) Close() error {
	return s.store.Close()
}

func deriveTitle(content string) string {
	title := strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(title) <= titleLimit {
		return title
	}
	runes := []rune(title)
	return strings.TrimSpace(string(runes[:titleLimit])) + "…"
}
