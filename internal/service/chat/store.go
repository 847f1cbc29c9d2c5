package chat

import (
	"context"
	"sync"

	"github.com/zhouzirui/datachat/backend/internal/model/chat"
)

// Store persists threads and their messages.
type Store interface {
	CreateThread(ctx context.Context, thread chat.Thread) error
	GetThread(ctx context.Context, id string) (chat.Thread, error)
	UpdateThread(ctx context.Context, thread chat.Thread) error
	ListThreads(ctx context.Context) ([]chat.Thread, error)
	DeleteThread(ctx context.Context, id string) error
	AppendMessage(ctx context.Context, message chat.Message) error
	ListMessages(ctx context.Context, threadID string) ([]chat.Message, error)
	Close() error
}

// MemoryStore keeps threads in process memory. Everything is lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	threads  map[string]chat.Thread
	messages map[string][]chat.Message
}

// NewMemoryStore bootstraps an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads:  make(map[string]chat.Thread),
		messages: make(map[string][]chat.Message),
	}
}

func (s *MemoryStore) CreateThread(_ context.Context, thread chat.Thread) error {
	s.mu.Lock()
	s.threads[thread.ID] = thread
	s.messages[thread.ID] = make([]chat.Message, 0, 16)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetThread(_ context.Context, id string) (chat.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	thread, ok := s.threads[id]
	if !ok {
		return chat.Thread{}, ErrThreadNotFound
	}
	return thread, nil
}

func (s *MemoryStore) UpdateThread(_ context.Context, thread chat.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[thread.ID]; !ok {
		return ErrThreadNotFound
	}
	s.threads[thread.ID] = thread
	return nil
}

func (s *MemoryStore) ListThreads(_ context.Context) ([]chat.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	threads := make([]chat.Thread, 0, len(s.threads))
	for _, thread := range s.threads {
		threads = append(threads, thread)
	}
	return threads, nil
}

func (s *MemoryStore) DeleteThread(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[id]; !ok {
		return ErrThreadNotFound
	}
	delete(s.threads, id)
	delete(s.messages, id)
	return nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, message chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[message.ThreadID]; !ok {
		return ErrThreadNotFound
	}
	s.messages[message.ThreadID] = append(s.messages[message.ThreadID], message)
	return nil
}

func (s *MemoryStore) ListMessages(_ context.Context, threadID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages, ok := s.messages[threadID]
	if !ok {
		return nil, ErrThreadNotFound
	}

	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied, nil
}

func (s *MemoryStore) Close() error { return nil }
