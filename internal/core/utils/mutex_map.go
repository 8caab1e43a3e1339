package utils

import "sync"

// MutexMap is a set of per-key locks with non-blocking acquisition. The
// scheduler uses it to guarantee at most one in-flight execution per task:
// a second firing for a held key fails TryLock and is dropped.
type MutexMap struct {
	edit sync.Mutex
	held map[string]bool
}

func NewMutexMap() *MutexMap {
	return &MutexMap{held: make(map[string]bool)}
}

func (m *MutexMap) TryLock(key string) bool {
	m.edit.Lock()
	defer m.edit.Unlock()

	if m.held[key] {
		return false
	}
	m.held[key] = true
	return true
}

func (m *MutexMap) Unlock(key string) {
	m.edit.Lock()
	defer m.edit.Unlock()

	delete(m.held, key)
}
