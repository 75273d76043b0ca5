/******************************************************************************
 *
 *  Description :
 *
 *    Handler of presence watch subscriptions.
 *
 *    A session submits a full replacement list of users it wants presence
 *    updates for. Watchers are kept as a reverse index (watched user ->
 *    watching sessions) so a registry transition fans out in O(watchers)
 *    instead of O(all sessions).
 *
 *****************************************************************************/

package main

import (
	"sync"

	"github.com/deskline/chat/server/store/types"
)

// Presence maintains watch subscriptions and pushes presence updates to
// watching sessions.
type Presence struct {
	lock sync.Mutex

	// Reverse index: watched user -> sessions watching him.
	watchers map[types.Uid]map[*Session]struct{}
}

// NewPresence initializes a presence watch index.
func NewPresence() *Presence {
	return &Presence{
		watchers: make(map[types.Uid]map[*Session]struct{}),
	}
}

// Watch replaces the session's watch set with the given list. The old and
// new sets are diffed: dropped users are unsubscribed, added users are
// subscribed, unchanged entries are left alone. Returns the list of
// newly-watched users, for the caller to snapshot.
func (p *Presence) Watch(sess *Session, uids []types.Uid) []types.Uid {
	next := make(map[types.Uid]struct{}, len(uids))
	for _, uid := range uids {
		if !uid.IsZero() {
			next[uid] = struct{}{}
		}
	}

	p.lock.Lock()
	defer p.lock.Unlock()

	var added []types.Uid
	for uid := range next {
		if _, ok := sess.watching[uid]; !ok {
			p.subscribe(sess, uid)
			added = append(added, uid)
		}
	}
	for uid := range sess.watching {
		if _, ok := next[uid]; !ok {
			p.unsubscribe(sess, uid)
		}
	}
	sess.watching = next

	return added
}

// UnwatchAll drops all subscriptions of the session. Called on disconnect.
func (p *Presence) UnwatchAll(sess *Session) {
	p.lock.Lock()
	defer p.lock.Unlock()

	for uid := range sess.watching {
		p.unsubscribe(sess, uid)
	}
	sess.watching = make(map[types.Uid]struct{})
}

// Notify pushes a presence update to every session currently watching the
// user. Safe to call while holding the registry lock; see ConnRegistry for
// lock ordering.
func (p *Presence) Notify(uid types.Uid, snap *MsgUserPresence) {
	p.lock.Lock()
	defer p.lock.Unlock()

	sessions := p.watchers[uid]
	if len(sessions) == 0 {
		return
	}

	msg := &ServerComMessage{Pres: &MsgServerPres{MsgUserPresence: *snap, Timestamp: types.TimeNow()}}
	for sess := range sessions {
		sess.queueOut(msg)
	}
}

// WatcherCount reports the number of sessions watching the given user.
func (p *Presence) WatcherCount(uid types.Uid) int {
	p.lock.Lock()
	defer p.lock.Unlock()

	return len(p.watchers[uid])
}

func (p *Presence) subscribe(sess *Session, uid types.Uid) {
	sessions := p.watchers[uid]
	if sessions == nil {
		sessions = make(map[*Session]struct{})
		p.watchers[uid] = sessions
	}
	sessions[sess] = struct{}{}
}

func (p *Presence) unsubscribe(sess *Session, uid types.Uid) {
	if sessions := p.watchers[uid]; sessions != nil {
		delete(sessions, sess)
		if len(sessions) == 0 {
			delete(p.watchers, uid)
		}
	}
}
