package main

import (
	"sync"
	"testing"

	"github.com/deskline/chat/server/store/types"
)

func TestWatchReplacesList(t *testing.T) {
	p := NewPresence()
	s := newTestSession(types.Uid(9001), types.RoleAgent)

	u1 := types.Uid(1001)
	u2 := types.Uid(1002)
	u3 := types.Uid(1003)

	added := p.Watch(s, []types.Uid{u1, u2})
	if len(added) != 2 {
		t.Fatalf("Added: expected 2, got %d", len(added))
	}

	// u1 dropped, u2 kept, u3 added.
	added = p.Watch(s, []types.Uid{u2, u3})
	if len(added) != 1 || added[0] != u3 {
		t.Fatalf("Added: expected [u3], got %v", added)
	}
	if p.WatcherCount(u1) != 0 {
		t.Error("u1 expected to have no watchers after replacement.")
	}
	if p.WatcherCount(u2) != 1 {
		t.Error("u2 expected to still have one watcher.")
	}
	if p.WatcherCount(u3) != 1 {
		t.Error("u3 expected to have one watcher.")
	}

	// Empty replacement clears everything.
	added = p.Watch(s, nil)
	if len(added) != 0 {
		t.Errorf("Added: expected none, got %v", added)
	}
	if p.WatcherCount(u2) != 0 || p.WatcherCount(u3) != 0 {
		t.Error("Empty watch list expected to clear all subscriptions.")
	}
}

func TestWatchIgnoresZeroUid(t *testing.T) {
	p := NewPresence()
	s := newTestSession(types.Uid(9001), types.RoleAgent)

	added := p.Watch(s, []types.Uid{types.ZeroUid, types.Uid(1001)})
	if len(added) != 1 {
		t.Fatalf("Added: expected 1, got %d", len(added))
	}
	if p.WatcherCount(types.ZeroUid) != 0 {
		t.Error("Zero uid must not be watchable.")
	}
}

func TestUnwatchAll(t *testing.T) {
	p := NewPresence()
	s1 := newTestSession(types.Uid(9001), types.RoleAgent)
	s2 := newTestSession(types.Uid(9002), types.RoleAgent)

	u1 := types.Uid(1001)
	p.Watch(s1, []types.Uid{u1})
	p.Watch(s2, []types.Uid{u1})

	p.UnwatchAll(s1)
	if p.WatcherCount(u1) != 1 {
		t.Errorf("Watchers after unwatch: expected 1, got %d", p.WatcherCount(u1))
	}
	if len(s1.watching) != 0 {
		t.Error("Session watch set expected to be empty.")
	}

	p.UnwatchAll(s2)
	if p.WatcherCount(u1) != 0 {
		t.Error("No watchers expected after both sessions unwatched.")
	}
}

func TestNotifyFanOut(t *testing.T) {
	p := NewPresence()

	watched := types.Uid(1001)
	other := types.Uid(1002)

	watchers := make([]*Session, 3)
	results := make([]*Responses, 3)
	wg := sync.WaitGroup{}
	for i := range watchers {
		watchers[i] = newTestSession(types.Uid(9001+uint64(i)), types.RoleAgent)
		results[i] = &Responses{}
		wg.Add(1)
		go watchers[i].testWriteLoop(results[i], &wg)
	}
	p.Watch(watchers[0], []types.Uid{watched})
	p.Watch(watchers[1], []types.Uid{watched})
	// The third session watches a different user.
	p.Watch(watchers[2], []types.Uid{other})

	p.Notify(watched, &MsgUserPresence{User: watched.UserId(), Online: true})

	for _, s := range watchers {
		close(s.send)
	}
	wg.Wait()

	for i, r := range results[:2] {
		if len(r.messages) != 1 {
			t.Fatalf("Watcher %d: expected 1 update, got %d", i, len(r.messages))
		}
		msg := decodeSent(t, r.messages[0])
		if msg.Pres == nil {
			t.Fatalf("Watcher %d: expected a pres message", i)
		}
		if msg.Pres.User != watched.UserId() || !msg.Pres.Online {
			t.Errorf("Watcher %d: unexpected update %+v", i, msg.Pres)
		}
	}
	if len(results[2].messages) != 0 {
		t.Errorf("Non-watcher: expected 0 updates, got %d", len(results[2].messages))
	}
}
