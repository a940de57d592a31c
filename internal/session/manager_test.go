package session_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ent0n29/callbridge/internal/session"
	"github.com/ent0n29/callbridge/internal/session/sessiontest"
)

func TestManagerRegisterGetRemove(t *testing.T) {
	m := session.NewManager(time.Minute)
	s, _, _ := newActive(t)
	m.Register(s)

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != s {
		t.Fatalf("Get() returned a different session")
	}
	if n := m.ActiveCount(); n != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", n)
	}
	if list := m.List(); len(list) != 1 || list[0].ID != s.ID {
		t.Fatalf("List() = %+v", list)
	}

	m.Remove(s.ID)
	if _, err := m.Get(s.ID); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("Get() after Remove error = %v, want ErrNotFound", err)
	}
}

func TestManagerEndExpiresSession(t *testing.T) {
	m := session.NewManager(time.Minute)
	s, _, _ := newActive(t)
	m.Register(s)

	if _, err := m.End(s.ID); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	<-s.Done()
	if !errors.Is(s.Cause(), session.ErrEndedByAPI) {
		t.Fatalf("Cause() = %v, want ErrEndedByAPI", s.Cause())
	}
	if _, err := m.End("missing"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("End(missing) error = %v, want ErrNotFound", err)
	}
}

func TestManagerJanitorExpiresInactive(t *testing.T) {
	m := session.NewManager(30 * time.Millisecond)
	var hooked atomic.Int32
	m.SetExpireHook(func(*session.Session) { hooked.Add(1) })

	idle, _, _ := newActive(t)
	m.Register(idle)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	select {
	case <-idle.Done():
	case <-time.After(time.Second):
		t.Fatalf("idle session was not expired")
	}
	if !errors.Is(idle.Cause(), session.ErrIdleTimeout) {
		t.Fatalf("Cause() = %v, want ErrIdleTimeout", idle.Cause())
	}

	time.Sleep(40 * time.Millisecond)
	if n := hooked.Load(); n != 1 {
		t.Fatalf("expire hook calls = %d, want 1", n)
	}
}

func TestManagerJanitorKeepsBusySessions(t *testing.T) {
	m := session.NewManager(60 * time.Millisecond)
	busy, _, _ := newActive(t)
	m.Register(busy)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	for i := 0; i < 10; i++ {
		busy.Touch()
		time.Sleep(15 * time.Millisecond)
	}
	select {
	case <-busy.Done():
		t.Fatalf("busy session expired: %v", busy.Cause())
	default:
	}
}

func TestManagerExpireAll(t *testing.T) {
	m := session.NewManager(time.Minute)
	a, _, _ := newActive(t)
	b, _, _ := newActive(t)
	m.Register(a)
	m.Register(b)

	if n := m.ExpireAll(session.ErrShutdown); n != 2 {
		t.Fatalf("ExpireAll() = %d, want 2", n)
	}
	for _, s := range []*session.Session{a, b} {
		if !errors.Is(s.Cause(), session.ErrShutdown) {
			t.Fatalf("Cause() = %v, want ErrShutdown", s.Cause())
		}
	}
}

func TestManagerShutdownExpiresConnectingAndLateSessions(t *testing.T) {
	m := session.NewManager(time.Minute)
	dialing := session.New(context.Background(), sessiontest.NewConn(), session.Options{})
	m.Register(dialing)

	if n := m.Shutdown(session.ErrShutdown); n != 1 {
		t.Fatalf("Shutdown() = %d, want 1", n)
	}
	if !errors.Is(dialing.Cause(), session.ErrShutdown) {
		t.Fatalf("Cause() = %v, want ErrShutdown", dialing.Cause())
	}

	late, _, _ := newActive(t)
	m.Register(late)
	if !errors.Is(late.Cause(), session.ErrShutdown) {
		t.Fatalf("late Cause() = %v, want ErrShutdown", late.Cause())
	}
}
