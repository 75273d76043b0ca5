// Package store provides methods for registering and accessing database adapters.
package store

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	adapter "github.com/deskline/chat/server/db"

	"github.com/deskline/chat/server/auth"
	"github.com/deskline/chat/server/store/types"
)

var adp adapter.Adapter
var availableAdapters = make(map[string]adapter.Adapter)

// Unique ID generator.
var uGen types.UidGenerator

type configType struct {
	// 16-byte key for XTEA. Used to initialize types.UidGenerator.
	UidKey []byte `json:"uid_key"`
	// Maximum number of results to return from adapter.
	MaxResults int `json:"max_results"`
	// DB adapter name to use. Should be one of those specified in `Adapters`.
	UseAdapter string `json:"use_adapter"`
	// Configurations for individual adapters.
	Adapters map[string]json.RawMessage `json:"adapters"`
}

func openAdapter(workerId int, jsonconf json.RawMessage) error {
	var config configType
	if err := json.Unmarshal(jsonconf, &config); err != nil {
		return errors.New("store: failed to parse config: " + err.Error() + "(" + string(jsonconf) + ")")
	}

	if adp == nil {
		if len(config.UseAdapter) > 0 {
			// Adapter name specified explicitly.
			if ad, ok := availableAdapters[config.UseAdapter]; ok {
				adp = ad
			} else {
				return errors.New("store: " + config.UseAdapter + " adapter is not available in this binary")
			}
		} else if len(availableAdapters) == 1 {
			// Default to the only entry in availableAdapters.
			for _, v := range availableAdapters {
				adp = v
			}
		} else {
			return errors.New("store: db adapter is not specified. Please set `store_config.use_adapter`")
		}
	}

	if adp.IsOpen() {
		return errors.New("store: connection is already opened")
	}

	// Initialize snowflake.
	if workerId < 0 || workerId > 1023 {
		return errors.New("store: invalid worker ID")
	}

	if err := uGen.Init(uint(workerId), config.UidKey); err != nil {
		return errors.New("store: failed to init snowflake: " + err.Error())
	}

	if err := adp.SetMaxResults(config.MaxResults); err != nil {
		return err
	}

	var adapterConfig json.RawMessage
	if config.Adapters != nil {
		adapterConfig = config.Adapters[adp.GetName()]
	}

	return adp.Open(adapterConfig)
}

// PersistentStorageInterface defines methods used for interaction with persistent storage.
type PersistentStorageInterface interface {
	Open(workerId int, jsonconf json.RawMessage) error
	Close() error
	IsOpen() bool
	GetAdapterName() string
	GetAdapterVersion() int
	GetDbVersion() int
	InitDb(jsonconf json.RawMessage, reset bool) error
	GetUid() types.Uid
	GetUidString() string
	DbStats() func() interface{}
	GetAuthNames() []string
	GetAuthHandler(name string) auth.AuthHandler
}

// Store is the main object for interacting with persistent storage.
var Store PersistentStorageInterface

type storeObj struct{}

// Open initializes the persistence system. Adapter holds a connection pool for a database instance.
//
//	workerId - id of this process to initialize snowflake
//	jsonconf - configuration string
func (storeObj) Open(workerId int, jsonconf json.RawMessage) error {
	if err := openAdapter(workerId, jsonconf); err != nil {
		return err
	}

	return adp.CheckDbVersion()
}

// Close terminates connection to persistent storage.
func (storeObj) Close() error {
	if adp.IsOpen() {
		return adp.Close()
	}

	return nil
}

// IsOpen checks if persistent storage connection has been initialized.
func (storeObj) IsOpen() bool {
	if adp != nil {
		return adp.IsOpen()
	}

	return false
}

// GetAdapterName returns the name of the current adapter.
func (storeObj) GetAdapterName() string {
	if adp != nil {
		return adp.GetName()
	}

	return ""
}

// GetAdapterVersion returns version of the current adapter.
func (storeObj) GetAdapterVersion() int {
	if adp != nil {
		return adp.Version()
	}

	return -1
}

// GetDbVersion returns version of the underlying database.
func (storeObj) GetDbVersion() int {
	if adp != nil {
		vers, _ := adp.GetDbVersion()
		return vers
	}

	return -1
}

// InitDb creates and configures a new database instance. If 'reset' is true it will first
// attempt to drop an existing database. If jsonconf is nil it will assume that the adapter
// is already open. If it's non-nil and the adapter is not open, it will use the config
// string to open the adapter first.
func (s storeObj) InitDb(jsonconf json.RawMessage, reset bool) error {
	if !s.IsOpen() {
		if err := openAdapter(1, jsonconf); err != nil {
			return err
		}
	}
	return adp.CreateDb(reset)
}

// RegisterAdapter makes a persistence adapter available.
// If Register is called twice or if the adapter is nil, it panics.
func RegisterAdapter(a adapter.Adapter) {
	if a == nil {
		panic("store: register adapter is nil")
	}

	adapterName := a.GetName()
	if _, ok := availableAdapters[adapterName]; ok {
		panic("store: adapter '" + adapterName + "' is already registered")
	}
	availableAdapters[adapterName] = a
}

// GetUid generates a unique ID suitable for use as a primary key.
func (storeObj) GetUid() types.Uid {
	return uGen.Get()
}

// GetUidString generates a unique ID represented as a string.
func (storeObj) GetUidString() string {
	return uGen.GetStr()
}

// DecodeUid takes an XTEA encrypted Uid and decrypts it into an int64.
// This is needed for sql compatibility. The original int64 values
// are generated by snowflake which ensures that the top bit is unset.
func DecodeUid(uid types.Uid) int64 {
	if uid.IsZero() {
		return 0
	}
	return uGen.DecodeUid(uid)
}

// EncodeUid applies XTEA encryption to an int64 value. It's the inverse of DecodeUid.
func EncodeUid(id int64) types.Uid {
	if id == 0 {
		return types.ZeroUid
	}
	return uGen.EncodeInt64(id)
}

// DbStats returns a callback returning db connection stats object.
func (s storeObj) DbStats() func() interface{} {
	if !s.IsOpen() {
		return nil
	}
	return adp.Stats
}

// Registered authentication handlers.
var authHandlers = make(map[string]auth.AuthHandler)

// RegisterAuthScheme registers an authentication scheme handler.
// The 'name' must be the hardcoded name of the handler.
func RegisterAuthScheme(name string, handler auth.AuthHandler) {
	if name == "" {
		panic("store: empty auth scheme name")
	}
	if handler == nil {
		panic("store: scheme handler is nil")
	}
	if _, dup := authHandlers[name]; dup {
		panic("store: duplicate registration of auth scheme " + name)
	}
	authHandlers[name] = handler
}

// GetAuthNames returns names of registered authentication schemes.
func (storeObj) GetAuthNames() []string {
	var names []string
	for name := range authHandlers {
		names = append(names, name)
	}
	return names
}

// GetAuthHandler returns an auth handler by scheme name.
func (storeObj) GetAuthHandler(name string) auth.AuthHandler {
	return authHandlers[name]
}

// InitAuthSchemes initializes registered authentication handlers from the
// config map "scheme name" -> handler config.
func InitAuthSchemes(conf map[string]json.RawMessage) error {
	for name, handler := range authHandlers {
		if err := handler.Init(conf[name], name); err != nil {
			return err
		}
	}
	return nil
}

// UsersPersistenceInterface is an interface which defines methods for persistent storage of user records.
type UsersPersistenceInterface interface {
	Create(user *types.User, scheme string, secret []byte) (*types.User, error)
	Get(uid types.Uid) (*types.User, error)
	GetAll(uid ...types.Uid) ([]types.User, error)
	Update(uid types.Uid, update map[string]interface{}) error
	UpdateLastSeen(uid types.Uid, userAgent string, when time.Time) error
	GetAssigned(agent types.Uid) ([]types.User, error)

	GetAuthRecord(user types.Uid, scheme string) (string, auth.Level, []byte, time.Time, error)
	GetAuthUniqueRecord(scheme, unique string) (types.Uid, auth.Level, []byte, time.Time, error)
	AddAuthRecord(uid types.Uid, authLvl auth.Level, scheme, unique string, secret []byte, expires time.Time) error
	UpdateAuthRecord(uid types.Uid, authLvl auth.Level, scheme, unique string, secret []byte, expires time.Time) error
	DelAuthRecords(uid types.Uid, scheme string) error
}

// UsersObjMapper is a users struct to hold methods for persistence mapping for the User object.
type UsersObjMapper struct{}

// Users is the ancor for storing/retrieving User objects.
var Users UsersPersistenceInterface

// Create inserts a new user record into the storage, with an optional
// authentication record when 'scheme' is not empty.
func (u UsersObjMapper) Create(user *types.User, scheme string, secret []byte) (*types.User, error) {
	user.SetUid(Store.GetUid())
	user.InitTimes()

	if err := adp.UserCreate(user); err != nil {
		return nil, err
	}

	if scheme != "" {
		authHdl := Store.GetAuthHandler(scheme)
		if authHdl == nil {
			return nil, types.ErrUnsupported
		}
		if _, err := authHdl.AddRecord(&auth.Rec{Uid: user.Uid()}, secret); err != nil {
			// Remove the dangling auth records, best effort.
			adp.AuthDelAllRecords(user.Uid())
			return nil, err
		}
	}

	return user, nil
}

// Get returns a user object for the given user id.
func (UsersObjMapper) Get(uid types.Uid) (*types.User, error) {
	return adp.UserGet(uid)
}

// GetAll returns a slice of user objects for the given user ids.
func (UsersObjMapper) GetAll(uid ...types.Uid) ([]types.User, error) {
	return adp.UserGetAll(uid...)
}

// Update changes the given user's record.
func (UsersObjMapper) Update(uid types.Uid, update map[string]interface{}) error {
	update["UpdatedAt"] = types.TimeNow()
	return adp.UserUpdate(uid, update)
}

// UpdateLastSeen updates the user's LastSeen and UserAgent values.
func (UsersObjMapper) UpdateLastSeen(uid types.Uid, userAgent string, when time.Time) error {
	return adp.UserUpdateLastSeen(uid, userAgent, when)
}

// GetAssigned returns regular users assigned to the given agent.
func (UsersObjMapper) GetAssigned(agent types.Uid) ([]types.User, error) {
	return adp.UsersForAgent(agent)
}

// GetAuthRecord takes a user ID and a scheme name, fetches unique scheme-dependent identifier and
// authentication secret.
func (UsersObjMapper) GetAuthRecord(uid types.Uid, scheme string) (string, auth.Level, []byte, time.Time, error) {
	unique, authLvl, secret, expires, err := adp.AuthGetRecord(uid, scheme)
	if err == nil {
		unique = stripScheme(unique)
	}
	return unique, authLvl, secret, expires, err
}

// GetAuthUniqueRecord takes a unique identifier and a scheme name, fetches user ID and
// authentication secret.
func (UsersObjMapper) GetAuthUniqueRecord(scheme, unique string) (types.Uid, auth.Level, []byte, time.Time, error) {
	return adp.AuthGetUniqueRecord(scheme + ":" + unique)
}

// AddAuthRecord creates a new authentication record for the given user.
func (UsersObjMapper) AddAuthRecord(uid types.Uid, authLvl auth.Level, scheme, unique string, secret []byte,
	expires time.Time) error {

	return adp.AuthAddRecord(uid, scheme, scheme+":"+unique, authLvl, secret, expires)
}

// UpdateAuthRecord updates authentication record with a new secret and expiration time.
func (UsersObjMapper) UpdateAuthRecord(uid types.Uid, authLvl auth.Level, scheme, unique string,
	secret []byte, expires time.Time) error {

	return adp.AuthUpdRecord(uid, scheme, scheme+":"+unique, authLvl, secret, expires)
}

// DelAuthRecords deletes user's auth records of the given scheme.
func (UsersObjMapper) DelAuthRecords(uid types.Uid, scheme string) error {
	return adp.AuthDelScheme(uid, scheme)
}

// Strip the scheme prefix from the stored unique value.
func stripScheme(unique string) string {
	if i := strings.Index(unique, ":"); i >= 0 {
		return unique[i+1:]
	}
	return unique
}

// MessagesPersistenceInterface is an interface which defines methods for persistent storage of messages.
type MessagesPersistenceInterface interface {
	Save(msg *types.Message) (*types.Message, error)
	GetBetween(uid1, uid2 types.Uid) ([]types.Message, error)
	MarkRead(to, from types.Uid, readAt time.Time) (int64, error)
	GetForPeers(uid types.Uid, peers []types.Uid) ([]types.Message, error)
}

// MessagesObjMapper is a struct to hold methods for persistence mapping for the Message object.
type MessagesObjMapper struct{}

// Messages is the ancor for storing/retrieving Message objects.
var Messages MessagesPersistenceInterface

// Save assigns an id to the message and stores it. The message must be
// durable before any client may observe it.
func (MessagesObjMapper) Save(msg *types.Message) (*types.Message, error) {
	msg.SetUid(Store.GetUid())
	msg.InitTimes()

	if err := adp.MessageSave(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// GetBetween loads all messages exchanged between the two users, oldest first.
func (MessagesObjMapper) GetBetween(uid1, uid2 types.Uid) ([]types.Message, error) {
	return adp.MessageGetBetween(uid1, uid2)
}

// MarkRead stamps the read timestamp on all still-unread messages sent by
// 'from' to 'to'. Returns the number of messages affected.
func (MessagesObjMapper) MarkRead(to, from types.Uid, readAt time.Time) (int64, error) {
	return adp.MessagesMarkRead(to, from, readAt)
}

// GetForPeers loads messages exchanged between the user and any of the given
// peers, newest first.
func (MessagesObjMapper) GetForPeers(uid types.Uid, peers []types.Uid) ([]types.Message, error) {
	return adp.MessageGetForPeers(uid, peers)
}

func init() {
	Store = storeObj{}
	Users = UsersObjMapper{}
	Messages = MessagesObjMapper{}
}
