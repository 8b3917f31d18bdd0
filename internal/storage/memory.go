package storage

import (
	"sync"

	"webchat/internal/model"
)

// MemoryStore 纯内存实现，进程退出即丢
type MemoryStore struct {
	conversations map[string]*model.Conversation
	settings      map[string]string
	current       string
	mu            sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*model.Conversation),
		settings:      make(map[string]string),
	}
}

func (m *MemoryStore) Init() error {
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) PutConversation(conv *model.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.conversations[conv.ID] = conv
	return nil
}

func (m *MemoryStore) GetConversation(id string) (*model.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, exists := m.conversations[id]
	if !exists {
		return nil, ErrConversationNotFound
	}

	return conv, nil
}

func (m *MemoryStore) DeleteConversation(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.conversations[id]; !exists {
		return ErrConversationNotFound
	}

	delete(m.conversations, id)
	if m.current == id {
		m.current = ""
	}
	return nil
}

func (m *MemoryStore) ListConversations() ([]*model.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	convs := make([]*model.Conversation, 0, len(m.conversations))
	for _, conv := range m.conversations {
		convs = append(convs, conv)
	}

	sortConversations(convs)
	return convs, nil
}

func (m *MemoryStore) GetSetting(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, exists := m.settings[key]
	if !exists {
		return "", ErrSettingNotFound
	}

	return value, nil
}

func (m *MemoryStore) PutSetting(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.settings[key] = value
	return nil
}

func (m *MemoryStore) CurrentConversationID() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.current, nil
}

func (m *MemoryStore) SetCurrentConversationID(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.current = id
	return nil
}
