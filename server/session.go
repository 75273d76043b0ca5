/******************************************************************************
 *
 *  Description :
 *
 *    Handling of user sessions/connections. One user may have multiple
 *    sessions, each session receives the events addressed to its user.
 *
 *****************************************************************************/

package main

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/deskline/chat/server/auth"
	"github.com/deskline/chat/server/logs"
	"github.com/deskline/chat/server/store/types"
)

// Maximum number of queued outbound messages per session.
const sendQueueLimit = 256

// Session represents a single websocket connection. A user may have
// multiple sessions.
type Session struct {
	// Websocket connection.
	ws *websocket.Conn

	// IP address of the client.
	remoteAddr string

	// User agent, a string provided by the client at the handshake.
	userAgent string

	// ID of the authenticated user.
	uid types.Uid

	// Role of the authenticated user, loaded once at the handshake.
	role types.Role

	// Authentication level.
	authLvl auth.Level

	// Time when the session received any packet from client.
	lastAction time.Time

	// Outbound messages, buffered.
	// The content must be serialized in format suitable for the session.
	send chan interface{}

	// Channel for shutting down the session, buffer 1.
	// Content in the same format as for 'send'.
	stop chan interface{}

	// Set of users currently watched by this session.
	// Owned by the presence broadcaster, guarded by its lock.
	watching map[types.Uid]struct{}

	// Session ID.
	sid string
}

// queueOut attempts to send a ServerComMessage to a session; if the send
// buffer is full, timeout is 50 usec.
func (s *Session) queueOut(msg *ServerComMessage) bool {
	if s == nil {
		return true
	}

	select {
	case s.send <- s.serialize(msg):
	case <-time.After(time.Microsecond * 50):
		logs.Warn.Println("s.queueOut: timeout", s.sid)
		return false
	}
	return true
}

func (s *Session) serialize(msg *ServerComMessage) interface{} {
	out, _ := json.Marshal(msg)
	return out
}

// cleanUp is called when the session is terminated: detaches the session
// from the shared state and drops the user's connection count.
func (s *Session) cleanUp() {
	globals.sessionStore.Delete(s)
	globals.presence.UnwatchAll(s)
	if !s.uid.IsZero() {
		globals.hub.Leave(s.uid, s)
		globals.connRegistry.Unregister(s.uid, s.userAgent)
	}
}

// Message received, convert bytes to ClientComMessage and dispatch.
func (s *Session) dispatchRaw(raw []byte) {
	var msg ClientComMessage

	toLog := raw
	truncated := ""
	if len(raw) > 512 {
		toLog = raw[:512]
		truncated = "<...>"
	}
	logs.Info.Printf("in: '%s%s' ip='%s' sid='%s' uid='%s'", toLog, truncated, s.remoteAddr, s.sid, s.uid)

	if err := json.Unmarshal(raw, &msg); err != nil {
		logs.Warn.Println("s.dispatch", err, s.sid)
		s.queueOut(ErrMalformed("", time.Now().UTC().Round(time.Millisecond)))
		return
	}

	s.dispatch(&msg)
}

func (s *Session) dispatch(msg *ClientComMessage) {
	s.lastAction = types.TimeNow()
	msg.timestamp = s.lastAction

	switch {
	case msg.Watch != nil:
		msg.id = msg.Watch.Id
		s.watch(msg)

	case msg.Typing != nil:
		s.typing(msg)

	default:
		// Unknown or empty message.
		s.queueOut(ErrMalformed(msg.id, msg.timestamp))
		logs.Warn.Println("s.dispatch: unknown message", s.sid)
	}
}

// watch replaces the session's watch list and replies with a presence
// snapshot of the newly-watched users.
func (s *Session) watch(msg *ClientComMessage) {
	uids := make([]types.Uid, 0, len(msg.Watch.Users))
	for _, user := range msg.Watch.Users {
		if uid := types.ParseUserId(user); !uid.IsZero() {
			uids = append(uids, uid)
		}
	}

	added := globals.presence.Watch(s, uids)
	s.queueOut(&ServerComMessage{Snap: &MsgServerSnap{
		Id:        msg.id,
		Users:     globals.connRegistry.SnapshotAll(added),
		Timestamp: msg.timestamp,
	}})
}

// typing relays a transient typing indicator to the target user. Transient
// events fail soft: an unauthorized or malformed indicator is dropped
// without a response.
func (s *Session) typing(msg *ClientComMessage) {
	to := types.ParseUserId(msg.Typing.To)
	if err := canExchange(s.uid, s.role, to); err != nil {
		logs.Info.Println("s.typing: dropped,", err, s.sid)
		return
	}

	globals.hub.Publish(to, &ServerComMessage{Typing: &MsgServerTyping{
		From:      s.uid.UserId(),
		On:        msg.Typing.On,
		Timestamp: msg.timestamp,
	}})
}
