package client

import (
	"encoding/json"
	"sync"
)

// Storage persists session state outside a single Session's lifetime.
// A browser client would back this with localStorage; the provided
// MemoryStorage keeps it in the process.
type Storage interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Delete(key string)
}

const (
	storageKeyAccessToken = "tavolo.access_token"
	storageKeyUser        = "tavolo.user"
)

// BindStorage subscribes the storage to the bus so login and logout
// events are mirrored into it. A Session constructed later with the
// same storage recovers the last broadcast state.
func BindStorage(bus *Bus, store Storage) (cancel func()) {
	return bus.Subscribe(func(ev Event) {
		switch e := ev.(type) {
		case LoginEvent:
			store.Set(storageKeyAccessToken, e.AccessToken)
			if raw, err := json.Marshal(e.User); err == nil {
				store.Set(storageKeyUser, string(raw))
			}
		case LogoutEvent:
			store.Delete(storageKeyAccessToken)
			store.Delete(storageKeyUser)
		}
	})
}

// MemoryStorage is a goroutine-safe in-process Storage.
type MemoryStorage struct {
	mu    sync.RWMutex
	items map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{items: make(map[string]string)}
}

func (m *MemoryStorage) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	return v, ok
}

func (m *MemoryStorage) Set(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
}

func (m *MemoryStorage) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
}
