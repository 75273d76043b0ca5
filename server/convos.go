/******************************************************************************
 *
 *  Description :
 *
 *    Conversation aggregation: loading a message thread between two users
 *    (marking the viewer's incoming messages read in the process) and
 *    assembling the per-agent conversation list with unread counts.
 *
 *****************************************************************************/

package main

import (
	"sort"

	"github.com/deskline/chat/server/store"
	"github.com/deskline/chat/server/store/types"
)

// loadThread fetches the full message history between viewer and peer in
// chronological order and marks all messages addressed to the viewer as read.
// Returns the messages and the number of messages newly marked read.
func loadThread(viewer, peer types.Uid) ([]types.Message, int64, error) {
	if peer.IsZero() {
		return nil, 0, types.ErrMalformed
	}

	user, err := store.Users.Get(peer)
	if err != nil {
		return nil, 0, err
	}
	if user == nil {
		return nil, 0, types.ErrUserNotFound
	}

	messages, err := store.Messages.GetBetween(viewer, peer)
	if err != nil {
		return nil, 0, err
	}

	marked, err := store.Messages.MarkRead(viewer, peer, types.TimeNow())
	if err != nil {
		return nil, 0, err
	}

	return messages, marked, nil
}

// conversationList builds the agent's view of his assigned customers: one
// entry per customer with the most recent message (if any) and the count of
// unread messages from that customer. Customers with no messages yet are
// included with a nil last message. Entries are ordered by recency of the
// last message, message-less entries last, ties broken by customer id.
func conversationList(agent types.Uid) ([]MsgConvo, error) {
	assigned, err := store.Users.GetAssigned(agent)
	if err != nil {
		return nil, err
	}
	if len(assigned) == 0 {
		return []MsgConvo{}, nil
	}

	peers := make([]types.Uid, len(assigned))
	byPeer := make(map[types.Uid]*MsgConvo, len(assigned))
	for i := range assigned {
		uid := assigned[i].Uid()
		peers[i] = uid
		byPeer[uid] = &MsgConvo{
			With:   uid.UserId(),
			Public: assigned[i].Public,
		}
	}

	// Messages come back newest first; the first one seen per peer is the
	// latest message of that conversation.
	messages, err := store.Messages.GetForPeers(agent, peers)
	if err != nil {
		return nil, err
	}

	for i := range messages {
		msg := &messages[i]
		peer := msg.From
		if peer == agent {
			peer = msg.To
		}
		convo := byPeer[peer]
		if convo == nil {
			continue
		}
		if convo.LastMsg == nil {
			convo.LastMsg = toWireMessage(msg)
		}
		if msg.To == agent && msg.ReadAt == nil {
			convo.Unread++
		}
	}

	list := make([]MsgConvo, 0, len(byPeer))
	for _, convo := range byPeer {
		list = append(list, *convo)
	}

	sort.Slice(list, func(i, j int) bool {
		li, lj := list[i].LastMsg, list[j].LastMsg
		if li == nil || lj == nil {
			if li != nil {
				return true
			}
			if lj != nil {
				return false
			}
			return list[i].With > list[j].With
		}
		if !li.CreatedAt.Equal(lj.CreatedAt) {
			return li.CreatedAt.After(lj.CreatedAt)
		}
		return list[i].With > list[j].With
	})

	return list, nil
}
