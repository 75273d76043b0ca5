/******************************************************************************
 *
 *  Description :
 *
 *    Relationship-based authorization for direct exchanges. Customers may
 *    only reach their assigned agent, agents may only reach customers
 *    assigned to them, elevated accounts may reach anyone.
 *
 *****************************************************************************/

package main

import (
	"github.com/deskline/chat/server/store"
	"github.com/deskline/chat/server/store/types"
)

// canExchange decides whether 'from' is permitted to exchange messages or
// typing events with 'to'. Returns nil when permitted, otherwise one of the
// store error values suitable for conversion to a wire response.
func canExchange(from types.Uid, fromRole types.Role, to types.Uid) error {
	if to.IsZero() {
		return types.ErrMalformed
	}
	// Talking to self is a no-op, reject before hitting the database.
	if from == to {
		return types.ErrMalformed
	}

	recipient, err := store.Users.Get(to)
	if err != nil {
		return err
	}
	if recipient == nil {
		return types.ErrUserNotFound
	}

	switch fromRole {
	case types.RoleElevated:
		return nil

	case types.RoleRegular:
		// Customers can only reach the agent they are assigned to.
		if recipient.Role != types.RoleAgent {
			return types.ErrPermissionDenied
		}
		sender, err := store.Users.Get(from)
		if err != nil {
			return err
		}
		if sender == nil {
			return types.ErrUserNotFound
		}
		if sender.Agent != to {
			return types.ErrPermissionDenied
		}
		return nil

	case types.RoleAgent:
		// Agents can only reach customers assigned to them.
		if !recipient.AssignedTo(from) {
			return types.ErrPermissionDenied
		}
		return nil
	}

	return types.ErrPermissionDenied
}
