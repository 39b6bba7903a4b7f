package dialog

import "sync"

// KeyedMutex serializes conversation turns per chat: two concurrent
// updates for the same user cannot race on one session, while distinct
// users proceed in parallel.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewKeyedMutex returns an empty keyed mutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[int64]*sync.Mutex)}
}

// Lock acquires the per-chat mutex and returns its unlock function.
func (k *KeyedMutex) Lock(chatID int64) func() {
	k.mu.Lock()
	m, ok := k.locks[chatID]
	if !ok {
		m = &sync.Mutex{}
		k.locks[chatID] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
