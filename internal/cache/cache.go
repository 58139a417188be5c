// Package cache provides read-through caches with bounded capacity and a
// fixed TTL. Entries are evicted explicitly after a successful write so
// readers never observe a committed mutation through a stale entry longer
// than the TTL.
package cache

import (
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Store is a single named cache scope. A zero Store is not usable; use New.
type Store struct {
	lru *expirable.LRU[string, any]
}

func New(capacity int, ttl time.Duration) *Store {
	return &Store{lru: expirable.NewLRU[string, any](capacity, nil, ttl)}
}

// GetOrLoad returns the cached value for key, calling loader on a miss and
// caching its result. Loader errors are not cached.
func GetOrLoad[T any](s *Store, key string, loader func() (T, error)) (T, error) {
	if v, ok := s.lru.Get(key); ok {
		if t, ok := v.(T); ok {
			return t, nil
		}
	}
	t, err := loader()
	if err != nil {
		return t, err
	}
	s.lru.Add(key, t)
	return t, nil
}

// Evict removes a single entry. Missing keys are a no-op.
func (s *Store) Evict(key string) {
	s.lru.Remove(key)
}

// Purge drops every entry in the scope.
func (s *Store) Purge() {
	s.lru.Purge()
}

func (s *Store) Len() int {
	return s.lru.Len()
}

// Caches groups the scopes used by the engine.
type Caches struct {
	Tasks    *Store
	Comments *Store
}

func NewCaches(capacity int, ttl time.Duration) Caches {
	return Caches{
		Tasks:    New(capacity, ttl),
		Comments: New(capacity, ttl),
	}
}

// Key helpers. List keys fold the filter and page window into the key so
// distinct windows cache independently.

func TaskKey(id int64) string {
	return fmt.Sprintf("task:%d", id)
}

func TasksByAuthorKey(authorID int64, pageNumber, pageSize int) string {
	return fmt.Sprintf("%d_author_%d_%d", authorID, pageNumber, pageSize)
}

func TasksByAssigneeKey(assigneeID int64, pageNumber, pageSize int) string {
	return fmt.Sprintf("%d_assignee_%d_%d", assigneeID, pageNumber, pageSize)
}

func CommentKey(id int64) string {
	return fmt.Sprintf("comment:%d", id)
}

func CommentsByTaskKey(taskID int64, pageNumber, pageSize int) string {
	return fmt.Sprintf("%d_task_%d_%d", taskID, pageNumber, pageSize)
}

func CommentsByUserKey(userID int64, pageNumber, pageSize int) string {
	return fmt.Sprintf("%d_user_%d_%d", userID, pageNumber, pageSize)
}
