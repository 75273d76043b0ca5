/******************************************************************************
 *
 *  Description :
 *
 *    Per-user multicast groups. Every live session is a member of its own
 *    user's group ("personal channel"), so direct events addressed to a user
 *    reach all of his connections without an explicit subscription.
 *
 *****************************************************************************/

package main

import (
	"sync"

	"github.com/deskline/chat/server/store/types"
)

// Hub maps users to the sessions subscribed to their personal channels.
type Hub struct {
	lock sync.RWMutex

	// Group membership: user -> sessions.
	groups map[types.Uid]map[*Session]struct{}
}

func newHub() *Hub {
	return &Hub{
		groups: make(map[types.Uid]map[*Session]struct{}),
	}
}

// Join adds the session to the user's group.
func (h *Hub) Join(uid types.Uid, sess *Session) {
	if uid.IsZero() {
		return
	}

	h.lock.Lock()
	defer h.lock.Unlock()

	sessions := h.groups[uid]
	if sessions == nil {
		sessions = make(map[*Session]struct{})
		h.groups[uid] = sessions
	}
	sessions[sess] = struct{}{}
}

// Leave removes the session from the user's group.
func (h *Hub) Leave(uid types.Uid, sess *Session) {
	h.lock.Lock()
	defer h.lock.Unlock()

	if sessions := h.groups[uid]; sessions != nil {
		delete(sessions, sess)
		if len(sessions) == 0 {
			delete(h.groups, uid)
		}
	}
}

// Publish delivers the message to every session in the user's group.
// Returns the number of sessions the message was queued to.
func (h *Hub) Publish(uid types.Uid, msg *ServerComMessage) int {
	h.lock.RLock()
	defer h.lock.RUnlock()

	var count int
	for sess := range h.groups[uid] {
		if sess.queueOut(msg) {
			count++
		}
	}
	return count
}
