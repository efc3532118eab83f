// Package session holds the tab-scoped admin session: a key/value store with
// an observer list, and the credential gate that writes into it.
package session

import (
	"sync"
)

const (
	// KeyLoginFlag holds "true" once the credential gate accepted a login.
	KeyLoginFlag = "official_login_session"
	// KeyUserID holds the identifier the operator logged in with.
	KeyUserID = "officialUserId"
	// KeyAdminToken holds the shared secret used for privilege elevation.
	KeyAdminToken = "adminToken"

	loginFlagValue = "true"
)

// KeyValues is the minimal storage contract shared by the in-memory store and
// cookie-backed web sessions.
type KeyValues interface {
	Read(key string) (string, bool)
	WriteBatch(entries ...Entry)
	ClearBatch(keys ...string)
}

// Entry is a single key/value pair written as part of a batch.
type Entry struct {
	Key   string
	Value string
}

// Change describes one notification: the keys touched by the write.
type Change struct {
	Keys []string
}

// Contains reports whether the change touched key.
func (change Change) Contains(key string) bool {
	for _, changedKey := range change.Keys {
		if changedKey == key {
			return true
		}
	}
	return false
}

// Listener receives change notifications.
type Listener func(Change)

// Store is an in-memory key/value area scoped to one admin session.
// Listeners are called synchronously after a write completes, outside the lock.
type Store struct {
	mutex     sync.RWMutex
	values    map[string]string
	listeners map[int64]Listener
	nextID    int64
}

// NewStore builds an empty Store.
func NewStore() *Store {
	return &Store{
		values:    make(map[string]string),
		listeners: make(map[int64]Listener),
	}
}

// Read returns the stored value.
func (store *Store) Read(key string) (string, bool) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	value, found := store.values[key]
	return value, found
}

// Write stores one value and notifies listeners.
func (store *Store) Write(key string, value string) {
	store.WriteBatch(Entry{Key: key, Value: value})
}

// Clear removes one value and notifies listeners.
func (store *Store) Clear(key string) {
	store.ClearBatch(key)
}

// WriteBatch applies the entries in order and notifies listeners once, after
// the last entry is written.
func (store *Store) WriteBatch(entries ...Entry) {
	if len(entries) == 0 {
		return
	}
	keys := make([]string, 0, len(entries))
	store.mutex.Lock()
	for _, entry := range entries {
		store.values[entry.Key] = entry.Value
		keys = append(keys, entry.Key)
	}
	store.mutex.Unlock()
	store.notify(Change{Keys: keys})
}

// ClearBatch removes the keys and notifies listeners once.
func (store *Store) ClearBatch(keys ...string) {
	if len(keys) == 0 {
		return
	}
	store.mutex.Lock()
	for _, key := range keys {
		delete(store.values, key)
	}
	store.mutex.Unlock()
	store.notify(Change{Keys: append([]string(nil), keys...)})
}

// Reset drops every value, as when the session ends.
func (store *Store) Reset() {
	store.mutex.Lock()
	keys := make([]string, 0, len(store.values))
	for key := range store.values {
		keys = append(keys, key)
	}
	store.values = make(map[string]string)
	store.mutex.Unlock()
	if len(keys) > 0 {
		store.notify(Change{Keys: keys})
	}
}

// Subscribe registers a listener and returns a function that removes it.
func (store *Store) Subscribe(listener Listener) func() {
	if listener == nil {
		return func() {}
	}
	store.mutex.Lock()
	identifier := store.nextID
	store.nextID++
	store.listeners[identifier] = listener
	store.mutex.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			store.mutex.Lock()
			delete(store.listeners, identifier)
			store.mutex.Unlock()
		})
	}
}

func (store *Store) notify(change Change) {
	store.mutex.RLock()
	listeners := make([]Listener, 0, len(store.listeners))
	for _, listener := range store.listeners {
		listeners = append(listeners, listener)
	}
	store.mutex.RUnlock()
	for _, listener := range listeners {
		listener(change)
	}
}

// LoggedIn reports whether the login flag is set in values.
func LoggedIn(values KeyValues) bool {
	if values == nil {
		return false
	}
	flag, found := values.Read(KeyLoginFlag)
	return found && flag == loginFlagValue
}
