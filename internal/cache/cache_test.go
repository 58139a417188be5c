package cache

import (
	"errors"
	"testing"
	"time"
)

func TestGetOrLoadCachesValue(t *testing.T) {
	s := New(10, time.Minute)
	calls := 0
	loader := func() (string, error) {
		calls++
		return "value", nil
	}
	for i := 0; i < 3; i++ {
		v, err := GetOrLoad(s, "k", loader)
		if err != nil {
			t.Fatalf("GetOrLoad: %v", err)
		}
		if v != "value" {
			t.Fatalf("got %q", v)
		}
	}
	if calls != 1 {
		t.Fatalf("loader called %d times, want 1", calls)
	}
}

func TestGetOrLoadDoesNotCacheErrors(t *testing.T) {
	s := New(10, time.Minute)
	calls := 0
	boom := errors.New("boom")
	loader := func() (int, error) {
		calls++
		if calls == 1 {
			return 0, boom
		}
		return 7, nil
	}
	if _, err := GetOrLoad(s, "k", loader); !errors.Is(err, boom) {
		t.Fatalf("expected loader error, got %v", err)
	}
	v, err := GetOrLoad(s, "k", loader)
	if err != nil {
		t.Fatalf("second GetOrLoad: %v", err)
	}
	if v != 7 {
		t.Fatalf("got %d", v)
	}
}

func TestEvictForcesReload(t *testing.T) {
	s := New(10, time.Minute)
	calls := 0
	loader := func() (int, error) {
		calls++
		return calls, nil
	}
	if v, _ := GetOrLoad(s, "k", loader); v != 1 {
		t.Fatalf("first load = %d", v)
	}
	s.Evict("k")
	if v, _ := GetOrLoad(s, "k", loader); v != 2 {
		t.Fatalf("load after evict = %d", v)
	}
}

func TestPurgeDropsEverything(t *testing.T) {
	s := New(10, time.Minute)
	for _, k := range []string{"a", "b", "c"} {
		k := k
		_, _ = GetOrLoad(s, k, func() (string, error) { return k, nil })
	}
	if s.Len() != 3 {
		t.Fatalf("len = %d", s.Len())
	}
	s.Purge()
	if s.Len() != 0 {
		t.Fatalf("len after purge = %d", s.Len())
	}
}

func TestCapacityBound(t *testing.T) {
	s := New(2, time.Minute)
	for _, k := range []string{"a", "b", "c"} {
		k := k
		_, _ = GetOrLoad(s, k, func() (string, error) { return k, nil })
	}
	if s.Len() > 2 {
		t.Fatalf("len = %d exceeds capacity", s.Len())
	}
}

func TestTTLExpiry(t *testing.T) {
	s := New(10, 50*time.Millisecond)
	calls := 0
	loader := func() (int, error) {
		calls++
		return calls, nil
	}
	if v, _ := GetOrLoad(s, "k", loader); v != 1 {
		t.Fatalf("first load = %d", v)
	}
	time.Sleep(120 * time.Millisecond)
	if v, _ := GetOrLoad(s, "k", loader); v != 2 {
		t.Fatalf("load after ttl = %d", v)
	}
}

func TestKeyHelpers(t *testing.T) {
	if got := TaskKey(5); got != "task:5" {
		t.Errorf("TaskKey = %q", got)
	}
	if got := TasksByAuthorKey(3, 0, 20); got != "3_author_0_20" {
		t.Errorf("TasksByAuthorKey = %q", got)
	}
	if got := CommentsByTaskKey(7, 1, 10); got != "7_task_1_10" {
		t.Errorf("CommentsByTaskKey = %q", got)
	}
}
