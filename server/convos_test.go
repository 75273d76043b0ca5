package main

import (
	"testing"
	"time"

	"github.com/deskline/chat/server/store"
	"github.com/deskline/chat/server/store/mock_store"
	"github.com/deskline/chat/server/store/types"
	"github.com/golang/mock/gomock"
)

func setupStoreMocks(t *testing.T) (*mock_store.MockUsersPersistenceInterface,
	*mock_store.MockMessagesPersistenceInterface, func()) {

	ctrl := gomock.NewController(t)
	um := mock_store.NewMockUsersPersistenceInterface(ctrl)
	mm := mock_store.NewMockMessagesPersistenceInterface(ctrl)
	store.Users = um
	store.Messages = mm
	return um, mm, func() {
		store.Users = nil
		store.Messages = nil
		ctrl.Finish()
	}
}

func mkMessage(id uint64, from, to types.Uid, content string, createdAt time.Time, readAt *time.Time) types.Message {
	msg := types.Message{From: from, To: to, Content: content, ReadAt: readAt}
	msg.SetUid(types.Uid(id))
	msg.CreatedAt = createdAt
	msg.UpdatedAt = createdAt
	return msg
}

func TestLoadThread(t *testing.T) {
	um, mm, teardown := setupStoreMocks(t)
	defer teardown()

	viewer := types.Uid(2001)
	peer := types.Uid(1001)
	now := types.TimeNow()

	um.EXPECT().Get(peer).Return(mkUser(peer, types.RoleRegular, viewer), nil)
	history := []types.Message{
		mkMessage(1, peer, viewer, "hello", now.Add(-2*time.Hour), nil),
		mkMessage(2, viewer, peer, "hi there", now.Add(-time.Hour), nil),
	}
	mm.EXPECT().GetBetween(viewer, peer).Return(history, nil)
	mm.EXPECT().MarkRead(viewer, peer, gomock.Any()).Return(int64(1), nil)

	messages, marked, err := loadThread(viewer, peer)
	if err != nil {
		t.Fatalf("loadThread: unexpected error %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("Messages: expected 2, got %d", len(messages))
	}
	if marked != 1 {
		t.Errorf("Marked: expected 1, got %d", marked)
	}
	if messages[0].Content != "hello" {
		t.Error("Messages expected in chronological order.")
	}
}

func TestLoadThreadMarkReadIdempotent(t *testing.T) {
	um, mm, teardown := setupStoreMocks(t)
	defer teardown()

	viewer := types.Uid(2001)
	peer := types.Uid(1001)
	now := types.TimeNow()

	// Backing slice with live read state. MarkRead stamps only messages with
	// an unset read timestamp, the way the adapters condition on it.
	history := []types.Message{
		mkMessage(1, peer, viewer, "hello", now.Add(-2*time.Hour), nil),
		mkMessage(2, viewer, peer, "hi there", now.Add(-90*time.Minute), nil),
		mkMessage(3, peer, viewer, "still broken", now.Add(-time.Hour), nil),
	}

	um.EXPECT().Get(peer).Return(mkUser(peer, types.RoleRegular, viewer), nil).Times(2)
	mm.EXPECT().GetBetween(viewer, peer).DoAndReturn(
		func(types.Uid, types.Uid) ([]types.Message, error) {
			out := make([]types.Message, len(history))
			copy(out, history)
			return out, nil
		}).Times(2)
	mm.EXPECT().MarkRead(viewer, peer, gomock.Any()).DoAndReturn(
		func(to, from types.Uid, readAt time.Time) (int64, error) {
			var count int64
			for i := range history {
				if history[i].To == to && history[i].From == from && history[i].ReadAt == nil {
					at := readAt
					history[i].ReadAt = &at
					count++
				}
			}
			return count, nil
		}).Times(2)

	_, marked, err := loadThread(viewer, peer)
	if err != nil {
		t.Fatalf("First view: unexpected error %v", err)
	}
	if marked != 2 {
		t.Errorf("First view: expected 2 marked, got %d", marked)
	}

	// A repeat view finds nothing left to mark.
	messages, marked, err := loadThread(viewer, peer)
	if err != nil {
		t.Fatalf("Second view: unexpected error %v", err)
	}
	if marked != 0 {
		t.Errorf("Second view: expected 0 marked, got %d", marked)
	}
	for i := range messages {
		if messages[i].To == viewer && messages[i].ReadAt == nil {
			t.Errorf("Message %d still unread after the first view.", i)
		}
	}
}

func TestLoadThreadMalformedPeer(t *testing.T) {
	if _, _, err := loadThread(types.Uid(2001), types.ZeroUid); err != types.ErrMalformed {
		t.Errorf("Zero peer: expected ErrMalformed, got %v", err)
	}
}

func TestLoadThreadUnknownPeer(t *testing.T) {
	um, _, teardown := setupStoreMocks(t)
	defer teardown()

	peer := types.Uid(1001)
	um.EXPECT().Get(peer).Return(nil, nil)

	if _, _, err := loadThread(types.Uid(2001), peer); err != types.ErrUserNotFound {
		t.Errorf("Unknown peer: expected ErrUserNotFound, got %v", err)
	}
}

func TestConversationListEmpty(t *testing.T) {
	um, _, teardown := setupStoreMocks(t)
	defer teardown()

	agent := types.Uid(2001)
	// No assigned customers: no message query is issued at all.
	um.EXPECT().GetAssigned(agent).Return(nil, nil)

	list, err := conversationList(agent)
	if err != nil {
		t.Fatalf("conversationList: unexpected error %v", err)
	}
	if list == nil {
		t.Fatal("Empty list expected to be non-nil.")
	}
	if len(list) != 0 {
		t.Errorf("List: expected empty, got %d entries", len(list))
	}
}

func TestConversationList(t *testing.T) {
	um, mm, teardown := setupStoreMocks(t)
	defer teardown()

	agent := types.Uid(2001)
	bob := types.Uid(1001)
	dave := types.Uid(1002)
	frank := types.Uid(1003)
	now := types.TimeNow()
	readAt := now.Add(-time.Hour)

	assigned := []types.User{
		*mkUser(bob, types.RoleRegular, agent),
		*mkUser(dave, types.RoleRegular, agent),
		// Frank has no messages yet.
		*mkUser(frank, types.RoleRegular, agent),
	}
	um.EXPECT().GetAssigned(agent).Return(assigned, nil)

	// Newest first, both directions mixed.
	messages := []types.Message{
		mkMessage(5, dave, agent, "are you there?", now.Add(-10*time.Minute), nil),
		mkMessage(4, bob, agent, "thanks", now.Add(-20*time.Minute), nil),
		mkMessage(3, agent, bob, "fixed it", now.Add(-30*time.Minute), nil),
		mkMessage(2, bob, agent, "it broke again", now.Add(-2*time.Hour), &readAt),
		mkMessage(1, dave, agent, "hello", now.Add(-3*time.Hour), &readAt),
	}
	mm.EXPECT().GetForPeers(agent, gomock.Any()).Return(messages, nil)

	list, err := conversationList(agent)
	if err != nil {
		t.Fatalf("conversationList: unexpected error %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("List: expected 3 entries, got %d", len(list))
	}

	// Ordered by recency of the last message; no-message entries last.
	if list[0].With != dave.UserId() {
		t.Errorf("First entry: expected %s, got %s", dave.UserId(), list[0].With)
	}
	if list[1].With != bob.UserId() {
		t.Errorf("Second entry: expected %s, got %s", bob.UserId(), list[1].With)
	}
	if list[2].With != frank.UserId() {
		t.Errorf("Third entry: expected %s, got %s", frank.UserId(), list[2].With)
	}

	if list[0].LastMsg == nil || list[0].LastMsg.Content != "are you there?" {
		t.Error("Dave's last message mismatch.")
	}
	if list[0].Unread != 1 {
		t.Errorf("Dave's unread: expected 1, got %d", list[0].Unread)
	}
	if list[1].LastMsg == nil || list[1].LastMsg.Content != "thanks" {
		t.Error("Bob's last message mismatch.")
	}
	// Bob: "thanks" is unread, "it broke again" was read, "fixed it" is
	// outbound and never counts.
	if list[1].Unread != 1 {
		t.Errorf("Bob's unread: expected 1, got %d", list[1].Unread)
	}
	if list[2].LastMsg != nil {
		t.Error("Frank has no messages, last message expected to be null.")
	}
	if list[2].Unread != 0 {
		t.Errorf("Frank's unread: expected 0, got %d", list[2].Unread)
	}
}
