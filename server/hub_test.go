package main

import (
	"testing"

	"github.com/deskline/chat/server/store/types"
)

func TestHubJoinLeave(t *testing.T) {
	h := newHub()
	uid := types.Uid(1001)

	s1 := newTestSession(uid, types.RoleRegular)
	s2 := newTestSession(uid, types.RoleRegular)
	h.Join(uid, s1)
	h.Join(uid, s2)
	// Zero uid is a no-op.
	h.Join(types.ZeroUid, s1)

	msg := NoErr("", types.TimeNow())
	if n := h.Publish(uid, msg); n != 2 {
		t.Errorf("Publish: expected 2 deliveries, got %d", n)
	}

	h.Leave(uid, s1)
	if n := h.Publish(uid, msg); n != 1 {
		t.Errorf("Publish after leave: expected 1 delivery, got %d", n)
	}

	h.Leave(uid, s2)
	if n := h.Publish(uid, msg); n != 0 {
		t.Errorf("Publish after both left: expected 0 deliveries, got %d", n)
	}
}

func TestHubPublishUnknownUser(t *testing.T) {
	h := newHub()
	if n := h.Publish(types.Uid(4242), NoErr("", types.TimeNow())); n != 0 {
		t.Errorf("Publish to unknown user: expected 0, got %d", n)
	}
}

func TestHubPublishReachesAllSessions(t *testing.T) {
	h := newHub()
	uid := types.Uid(1001)

	s1 := newTestSession(uid, types.RoleRegular)
	s2 := newTestSession(uid, types.RoleRegular)
	h.Join(uid, s1)
	h.Join(uid, s2)

	h.Publish(uid, &ServerComMessage{Typing: &MsgServerTyping{From: "usrtest", On: true}})

	for i, s := range []*Session{s1, s2} {
		select {
		case raw := <-s.send:
			msg := decodeSent(t, raw)
			if msg.Typing == nil || !msg.Typing.On {
				t.Errorf("Session %d: unexpected message %+v", i, msg)
			}
		default:
			t.Errorf("Session %d: no message queued", i)
		}
	}
}
