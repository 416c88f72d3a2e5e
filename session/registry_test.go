package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/guardmc/invguard/policy"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	registry := NewRegistry(discardLogger())
	pol := policy.Normal()

	s := newTestSession(newFakeConn("Steve", "xuid-1"), pol, time.Now())
	if !registry.Register(s) {
		t.Fatal("first registration refused")
	}
	if registry.Register(newTestSession(newFakeConn("Steve", "xuid-1"), pol, time.Now())) {
		t.Fatal("second session registered under an occupied xuid")
	}

	got, ok := registry.Lookup("xuid-1")
	if !ok || got != s {
		t.Fatal("lookup did not return the registered session")
	}
	if _, ok := registry.Lookup("missing"); ok {
		t.Fatal("lookup of unknown xuid succeeded")
	}
	if registry.Len() != 1 {
		t.Fatalf("expected 1 session, got %d", registry.Len())
	}
}

func TestRegistryRemoveIdempotent(t *testing.T) {
	registry := NewRegistry(discardLogger())
	s := newTestSession(newFakeConn("Steve", "xuid-1"), policy.Normal(), time.Now())
	registry.Register(s)

	if _, ok := registry.Remove("xuid-1"); !ok {
		t.Fatal("first remove failed")
	}
	if _, ok := registry.Remove("xuid-1"); ok {
		t.Fatal("second remove reported a session")
	}
	if registry.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", registry.Len())
	}
}

func TestRegistryConcurrentRegister(t *testing.T) {
	registry := NewRegistry(discardLogger())
	pol := policy.Normal()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			xuid := fmt.Sprintf("xuid-%d", i)
			s := newTestSession(newFakeConn("p", xuid), pol, time.Now())
			registry.Register(s)
			registry.Lookup(xuid)
			if i%2 == 0 {
				registry.Remove(xuid)
			}
		}(i)
	}
	wg.Wait()

	if registry.Len() != 32 {
		t.Fatalf("expected 32 sessions after concurrent churn, got %d", registry.Len())
	}
}

func TestRegistryClearAll(t *testing.T) {
	registry := NewRegistry(discardLogger())
	pol := policy.Normal()

	sessions := make([]*Session, 0, 4)
	for i := 0; i < 4; i++ {
		s := newTestSession(newFakeConn("p", fmt.Sprintf("xuid-%d", i)), pol, time.Now())
		registry.Register(s)
		sessions = append(sessions, s)
	}

	registry.ClearAll()
	if registry.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", registry.Len())
	}
	for _, s := range sessions {
		if !s.Closed() {
			t.Fatal("session not closed by ClearAll")
		}
	}
}
