/******************************************************************************
 *
 *  Description :
 *
 *    Registry of live connections per user. A user is online while at least
 *    one of his connections is live; only the 0->1 and 1->0 transitions are
 *    visible to presence watchers.
 *
 *****************************************************************************/

package main

import (
	"sync"
	"time"

	"github.com/deskline/chat/server/logs"
	"github.com/deskline/chat/server/store"
	"github.com/deskline/chat/server/store/types"
)

// ConnRegistry counts live connections per user and keeps the time the last
// connection was closed. Counts for the same user are serialized on the
// registry lock: multiple tabs/devices of one user may connect and disconnect
// concurrently.
//
// Lock ordering: the registry lock may be taken before the presence watcher
// lock (presence updates are emitted while holding the registry lock, so a
// watcher can never observe a stale 'online' after the transition), never
// the other way around.
type ConnRegistry struct {
	lock sync.Mutex

	// Live connection count per user. No entry means zero.
	counts map[types.Uid]int
	// Time when the user's connection count last dropped to zero.
	lastSeen map[types.Uid]time.Time
}

// NewConnRegistry initializes a connection registry.
func NewConnRegistry() *ConnRegistry {
	return &ConnRegistry{
		counts:   make(map[types.Uid]int),
		lastSeen: make(map[types.Uid]time.Time),
	}
}

// Register counts a new live connection for the user. Returns true if the
// user just became online (count went 0->1); that transition is broadcast to
// the user's current presence watchers before Register returns.
func (r *ConnRegistry) Register(uid types.Uid) bool {
	if uid.IsZero() {
		return false
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	r.counts[uid]++
	if r.counts[uid] != 1 {
		// Additional connection of an already-online user, no broadcast.
		return false
	}

	delete(r.lastSeen, uid)
	globals.presence.Notify(uid, &MsgUserPresence{User: uid.UserId(), Online: true})
	return true
}

// Unregister counts a closed connection for the user, flooring the count at
// zero. Returns true if the user just became offline (count went 1->0); the
// last-seen timestamp is stamped and the transition is broadcast to the
// user's current watchers before Unregister returns.
func (r *ConnRegistry) Unregister(uid types.Uid, userAgent string) bool {
	if uid.IsZero() {
		return false
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	if r.counts[uid] == 0 {
		// Unbalanced unregister. Don't let the count go negative.
		logs.Warn.Println("registry: unregister of untracked user", uid.UserId())
		return false
	}

	r.counts[uid]--
	if r.counts[uid] > 0 {
		return false
	}

	delete(r.counts, uid)
	now := types.TimeNow()
	r.lastSeen[uid] = now
	globals.presence.Notify(uid, &MsgUserPresence{User: uid.UserId(), Online: false, LastSeenAt: &now})

	// Record the last-seen time on the user record too. Best effort: the
	// registry is the authority for the process lifetime.
	go func() {
		if err := store.Users.UpdateLastSeen(uid, userAgent, now); err != nil {
			logs.Warn.Println("registry: failed to update last seen", uid.UserId(), err)
		}
	}()

	return true
}

// OnlineCount reports the number of live connections of the user.
func (r *ConnRegistry) OnlineCount(uid types.Uid) int {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.counts[uid]
}

// Snapshot returns the user's current presence: online flag and, while
// offline, the time the last connection was closed.
func (r *ConnRegistry) Snapshot(uid types.Uid) MsgUserPresence {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.snapshotUnlocked(uid)
}

// SnapshotAll returns presence for each given user, read atomically.
func (r *ConnRegistry) SnapshotAll(uids []types.Uid) []MsgUserPresence {
	r.lock.Lock()
	defer r.lock.Unlock()

	out := make([]MsgUserPresence, 0, len(uids))
	for _, uid := range uids {
		out = append(out, r.snapshotUnlocked(uid))
	}
	return out
}

func (r *ConnRegistry) snapshotUnlocked(uid types.Uid) MsgUserPresence {
	snap := MsgUserPresence{User: uid.UserId(), Online: r.counts[uid] > 0}
	if !snap.Online {
		if when, ok := r.lastSeen[uid]; ok {
			snap.LastSeenAt = &when
		}
	}
	return snap
}
