package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"testing"

	"github.com/deskline/chat/server/store"
	"github.com/deskline/chat/server/store/mock_store"
	"github.com/deskline/chat/server/store/types"
	"github.com/golang/mock/gomock"
)

type Responses struct {
	messages []interface{}
}

func (s *Session) testWriteLoop(results *Responses, wg *sync.WaitGroup) {
	for msg := range s.send {
		results.messages = append(results.messages, msg)
	}
	wg.Done()
}

// Outbound messages are serialized to JSON before queueing; decode them back
// for inspection.
func decodeSent(t *testing.T, raw interface{}) *ServerComMessage {
	t.Helper()
	b, ok := raw.([]byte)
	if !ok {
		t.Fatalf("Queued message expected to be []byte, got %T", raw)
	}
	var msg ServerComMessage
	if err := json.Unmarshal(b, &msg); err != nil {
		t.Fatalf("Failed to decode queued message: %v", err)
	}
	return &msg
}

func newTestSession(uid types.Uid, role types.Role) *Session {
	return &Session{
		send:     make(chan interface{}, 10),
		stop:     make(chan interface{}, 1),
		watching: make(map[types.Uid]struct{}),
		uid:      uid,
		role:     role,
		sid:      "test-" + uid.String(),
	}
}

func TestDispatchWatch(t *testing.T) {
	globals.presence = NewPresence()
	globals.connRegistry = NewConnRegistry()

	watched := types.Uid(2001)
	// The watched user is online with one connection.
	globals.connRegistry.Register(watched)

	s := newTestSession(types.Uid(1001), types.RoleAgent)
	wg := sync.WaitGroup{}
	r := Responses{}
	wg.Add(1)
	go s.testWriteLoop(&r, &wg)

	s.dispatch(&ClientComMessage{
		Watch: &MsgClientWatch{
			Id:    "123",
			Users: []string{watched.UserId(), "usrNOTVALID", ""},
		},
	})
	close(s.send)
	wg.Wait()

	if len(r.messages) != 1 {
		t.Fatalf("responses: expected 1, received %d.", len(r.messages))
	}
	resp := decodeSent(t, r.messages[0])
	if resp.Snap == nil {
		t.Fatal("Response must contain a snap message.")
	}
	if resp.Snap.Id != "123" {
		t.Errorf("Snap id: expected '123', got '%s'", resp.Snap.Id)
	}
	if len(resp.Snap.Users) != 1 {
		t.Fatalf("Snap users: expected 1, got %d", len(resp.Snap.Users))
	}
	if resp.Snap.Users[0].User != watched.UserId() {
		t.Errorf("Snap user: expected '%s', got '%s'", watched.UserId(), resp.Snap.Users[0].User)
	}
	if !resp.Snap.Users[0].Online {
		t.Error("Watched user expected to be online.")
	}
	if globals.presence.WatcherCount(watched) != 1 {
		t.Errorf("Watcher count: expected 1, got %d", globals.presence.WatcherCount(watched))
	}
}

func TestDispatchWatchRepeated(t *testing.T) {
	globals.presence = NewPresence()
	globals.connRegistry = NewConnRegistry()

	u1 := types.Uid(2001)
	u2 := types.Uid(2002)

	s := newTestSession(types.Uid(1001), types.RoleAgent)
	wg := sync.WaitGroup{}
	r := Responses{}
	wg.Add(1)
	go s.testWriteLoop(&r, &wg)

	s.dispatch(&ClientComMessage{
		Watch: &MsgClientWatch{Id: "1", Users: []string{u1.UserId()}},
	})
	// Replacement list: u1 is kept, u2 is added. Only u2 is new, so only
	// u2 appears in the second snapshot.
	s.dispatch(&ClientComMessage{
		Watch: &MsgClientWatch{Id: "2", Users: []string{u1.UserId(), u2.UserId()}},
	})
	close(s.send)
	wg.Wait()

	if len(r.messages) != 2 {
		t.Fatalf("responses: expected 2, received %d.", len(r.messages))
	}
	second := decodeSent(t, r.messages[1])
	if second.Snap == nil {
		t.Fatal("Response must contain a snap message.")
	}
	if len(second.Snap.Users) != 1 {
		t.Fatalf("Second snap users: expected 1, got %d", len(second.Snap.Users))
	}
	if second.Snap.Users[0].User != u2.UserId() {
		t.Errorf("Second snap user: expected '%s', got '%s'", u2.UserId(), second.Snap.Users[0].User)
	}
}

func TestDispatchUnknownMessage(t *testing.T) {
	s := newTestSession(types.Uid(1001), types.RoleRegular)
	wg := sync.WaitGroup{}
	r := Responses{}
	wg.Add(1)
	go s.testWriteLoop(&r, &wg)

	s.dispatch(&ClientComMessage{})
	close(s.send)
	wg.Wait()

	if len(r.messages) != 1 {
		t.Fatalf("responses: expected 1, received %d.", len(r.messages))
	}
	resp := decodeSent(t, r.messages[0])
	if resp.Ctrl == nil {
		t.Fatal("Response must contain a ctrl message.")
	}
	if resp.Ctrl.Code != http.StatusBadRequest {
		t.Errorf("Response code: expected 400, got %d", resp.Ctrl.Code)
	}
}

func TestDispatchRawMalformed(t *testing.T) {
	s := newTestSession(types.Uid(1001), types.RoleRegular)
	wg := sync.WaitGroup{}
	r := Responses{}
	wg.Add(1)
	go s.testWriteLoop(&r, &wg)

	s.dispatchRaw([]byte("this is not json"))
	close(s.send)
	wg.Wait()

	if len(r.messages) != 1 {
		t.Fatalf("responses: expected 1, received %d.", len(r.messages))
	}
	resp := decodeSent(t, r.messages[0])
	if resp.Ctrl == nil || resp.Ctrl.Code != http.StatusBadRequest {
		t.Error("Malformed input must produce a 400 ctrl response.")
	}
}

func TestDispatchTypingRelayed(t *testing.T) {
	ctrl := gomock.NewController(t)
	um := mock_store.NewMockUsersPersistenceInterface(ctrl)
	store.Users = um
	defer func() {
		store.Users = nil
		ctrl.Finish()
	}()

	agent := types.Uid(1001)
	customer := types.Uid(2001)

	// Recipient lookup by the authorization check: customer is assigned
	// to the sending agent.
	recipient := &types.User{Role: types.RoleRegular, Agent: agent}
	recipient.SetUid(customer)
	um.EXPECT().Get(customer).Return(recipient, nil)

	globals.hub = newHub()
	target := newTestSession(customer, types.RoleRegular)
	globals.hub.Join(customer, target)
	wg := sync.WaitGroup{}
	r := Responses{}
	wg.Add(1)
	go target.testWriteLoop(&r, &wg)

	s := newTestSession(agent, types.RoleAgent)
	s.dispatch(&ClientComMessage{
		Typing: &MsgClientTyping{To: customer.UserId(), On: true},
	})
	close(target.send)
	wg.Wait()

	if len(r.messages) != 1 {
		t.Fatalf("target responses: expected 1, received %d.", len(r.messages))
	}
	resp := decodeSent(t, r.messages[0])
	if resp.Typing == nil {
		t.Fatal("Target must receive a typing message.")
	}
	if resp.Typing.From != agent.UserId() {
		t.Errorf("Typing from: expected '%s', got '%s'", agent.UserId(), resp.Typing.From)
	}
	if !resp.Typing.On {
		t.Error("Typing indicator expected to be on.")
	}
}

func TestDispatchTypingDenied(t *testing.T) {
	ctrl := gomock.NewController(t)
	um := mock_store.NewMockUsersPersistenceInterface(ctrl)
	store.Users = um
	defer func() {
		store.Users = nil
		ctrl.Finish()
	}()

	agent := types.Uid(1001)
	stranger := types.Uid(3001)

	// The target is not assigned to the sending agent.
	recipient := &types.User{Role: types.RoleRegular, Agent: types.Uid(9999)}
	recipient.SetUid(stranger)
	um.EXPECT().Get(stranger).Return(recipient, nil)

	globals.hub = newHub()
	target := newTestSession(stranger, types.RoleRegular)
	globals.hub.Join(stranger, target)

	s := newTestSession(agent, types.RoleAgent)
	wg := sync.WaitGroup{}
	r := Responses{}
	wg.Add(1)
	go s.testWriteLoop(&r, &wg)

	s.dispatch(&ClientComMessage{
		Typing: &MsgClientTyping{To: stranger.UserId(), On: true},
	})
	close(s.send)
	wg.Wait()

	// Transient events fail soft: no response to the sender, nothing
	// delivered to the target.
	if len(r.messages) != 0 {
		t.Errorf("sender responses: expected 0, received %d.", len(r.messages))
	}
	if len(target.send) != 0 {
		t.Errorf("target queue: expected empty, has %d.", len(target.send))
	}
}

func TestSessionCleanUp(t *testing.T) {
	ctrl := gomock.NewController(t)
	um := mock_store.NewMockUsersPersistenceInterface(ctrl)
	store.Users = um
	defer func() {
		store.Users = nil
		ctrl.Finish()
	}()

	uid := types.Uid(1001)
	done := make(chan bool)
	um.EXPECT().UpdateLastSeen(uid, gomock.Any(), gomock.Any()).
		Do(func(types.Uid, string, interface{}) { close(done) }).Return(nil)

	globals.sessionStore = NewSessionStore()
	globals.presence = NewPresence()
	globals.connRegistry = NewConnRegistry()
	globals.hub = newHub()

	s, _ := globals.sessionStore.NewSession(nil, "test-cleanup")
	s.uid = uid
	globals.hub.Join(uid, s)
	globals.connRegistry.Register(uid)
	globals.presence.Watch(s, []types.Uid{types.Uid(2001)})

	s.cleanUp()
	<-done

	if globals.connRegistry.OnlineCount(uid) != 0 {
		t.Error("User expected to be offline after cleanup.")
	}
	if globals.presence.WatcherCount(types.Uid(2001)) != 0 {
		t.Error("Watch subscriptions expected to be dropped after cleanup.")
	}
	if globals.hub.Publish(uid, NoErr("", types.TimeNow())) != 0 {
		t.Error("Session expected to be out of the hub after cleanup.")
	}
	if globals.sessionStore.Get(s.sid) != nil {
		t.Error("Session expected to be removed from the store after cleanup.")
	}
}
