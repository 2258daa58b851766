package logstore

import "sync"

var (
	sharedOnce  sync.Once
	sharedStore *Store
)

// Shared returns the process-wide store, built with DefaultOptions on first
// use. Every call returns the same *Store.
func Shared() *Store {
	sharedOnce.Do(func() {
		sharedStore = New(DefaultOptions())
	})
	return sharedStore
}
