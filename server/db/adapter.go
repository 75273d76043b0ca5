// Package adapter contains the interfaces to be implemented by the database adapter.
package adapter

import (
	"encoding/json"
	"time"

	"github.com/deskline/chat/server/auth"
	t "github.com/deskline/chat/server/store/types"
)

// Adapter is the interface that must be implemented by a database
// adapter. The current schema supports a single connection by database type.
type Adapter interface {
	// General

	// Open and configure the adapter.
	Open(config json.RawMessage) error
	// Close the adapter.
	Close() error
	// IsOpen checks if the adapter is ready for use.
	IsOpen() bool
	// GetDbVersion returns current database version.
	GetDbVersion() (int, error)
	// CheckDbVersion checks if the actual database version matches adapter version.
	CheckDbVersion() error
	// GetName returns the name of the adapter.
	GetName() string
	// SetMaxResults configures how many results can be returned in a single DB call.
	SetMaxResults(val int) error
	// CreateDb creates the database optionally dropping an existing database first.
	CreateDb(reset bool) error
	// Version returns adapter version.
	Version() int
	// Stats returns a DB connection stats object.
	Stats() interface{}

	// User management

	// UserCreate creates user record.
	UserCreate(user *t.User) error
	// UserGet returns record for a given user ID. If the user is not found
	// the call returns (nil, nil).
	UserGet(uid t.Uid) (*t.User, error)
	// UserGetAll returns user records for a given list of user IDs.
	UserGetAll(ids ...t.Uid) ([]t.User, error)
	// UserUpdate updates user record.
	UserUpdate(uid t.Uid, update map[string]interface{}) error
	// UserUpdateLastSeen updates the user's last-seen timestamp and user agent.
	UserUpdateLastSeen(uid t.Uid, userAgent string, when time.Time) error
	// UsersForAgent returns regular users assigned to the given agent.
	UsersForAgent(agent t.Uid) ([]t.User, error)

	// Authentication management

	// AuthGetUniqueRecord returns authentication record for a given unique value i.e. login.
	AuthGetUniqueRecord(unique string) (t.Uid, auth.Level, []byte, time.Time, error)
	// AuthGetRecord returns authentication record given user ID and scheme.
	AuthGetRecord(user t.Uid, scheme string) (string, auth.Level, []byte, time.Time, error)
	// AuthAddRecord creates new authentication record.
	AuthAddRecord(user t.Uid, scheme, unique string, authLvl auth.Level, secret []byte, expires time.Time) error
	// AuthUpdRecord modifies an authentication record.
	AuthUpdRecord(user t.Uid, scheme, unique string, authLvl auth.Level, secret []byte, expires time.Time) error
	// AuthDelScheme deletes an existing authentication scheme for the user.
	AuthDelScheme(user t.Uid, scheme string) error
	// AuthDelAllRecords deletes all authentication records of the given user.
	AuthDelAllRecords(uid t.Uid) (int, error)

	// Messages

	// MessageSave saves a new message to database. The message is immutable
	// once saved except for the read timestamp.
	MessageSave(msg *t.Message) error
	// MessageGetBetween returns messages exchanged between the two users,
	// in either direction, sorted by creation time ascending, ties broken
	// by id ascending.
	MessageGetBetween(uid1, uid2 t.Uid) ([]t.Message, error)
	// MessagesMarkRead stamps the read timestamp on all still-unread
	// messages sent by 'from' to 'to' as a single conditional update.
	// Returns the number of messages updated.
	MessagesMarkRead(to, from t.Uid, readAt time.Time) (int64, error)
	// MessageGetForPeers returns messages exchanged between the user and any
	// of the given peers, in either direction, sorted by creation time
	// descending, ties broken by id descending.
	MessageGetForPeers(uid t.Uid, peers []t.Uid) ([]t.Message, error)
}
