// Package mongodb is a database adapter for MongoDB.
package mongodb

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strconv"
	"strings"
	"time"

	b "go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	mdb "go.mongodb.org/mongo-driver/mongo"
	mdbopts "go.mongodb.org/mongo-driver/mongo/options"

	"github.com/deskline/chat/server/auth"
	"github.com/deskline/chat/server/store"
	t "github.com/deskline/chat/server/store/types"
)

// adapter holds MongoDB connection data.
type adapter struct {
	conn       *mdb.Client
	db         *mdb.Database
	dbName     string
	maxResults int
	version    int
	ctx        context.Context
}

const (
	defaultHost     = "localhost:27017"
	defaultDatabase = "deskline"

	adpVersion  = 100
	adapterName = "mongodb"

	defaultMaxResults = 1024
)

// See https://godoc.org/go.mongodb.org/mongo-driver/mongo/options#ClientOptions for explanations.
type configType struct {
	Addresses      interface{} `json:"addresses,omitempty"`
	ConnectTimeout int         `json:"timeout,omitempty"`

	// Options separate from ClientOptions:
	Database   string `json:"database,omitempty"`
	ReplicaSet string `json:"replica_set,omitempty"`

	AuthSource string `json:"auth_source,omitempty"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
}

// Open initializes a mongodb session.
func (a *adapter) Open(jsonconfig json.RawMessage) error {
	if a.conn != nil {
		return errors.New("adapter mongodb is already connected")
	}

	var err error
	var config configType
	if err = json.Unmarshal(jsonconfig, &config); err != nil {
		return errors.New("adapter mongodb failed to parse config: " + err.Error())
	}

	var opts mdbopts.ClientOptions

	if config.Addresses == nil {
		opts.SetHosts([]string{defaultHost})
	} else if host, ok := config.Addresses.(string); ok {
		opts.SetHosts([]string{host})
	} else if hosts, ok := config.Addresses.([]string); ok {
		opts.SetHosts(hosts)
	} else {
		return errors.New("adapter mongodb failed to parse config.Addresses")
	}

	if config.Database == "" {
		a.dbName = defaultDatabase
	} else {
		a.dbName = config.Database
	}

	if config.ReplicaSet != "" {
		opts.SetReplicaSet(config.ReplicaSet)
	}

	if config.Username != "" {
		var passwordSet bool
		if config.AuthSource == "" {
			config.AuthSource = "admin"
		}
		if config.Password != "" {
			passwordSet = true
		}
		opts.SetAuth(
			mdbopts.Credential{
				AuthMechanism: "SCRAM-SHA-256",
				AuthSource:    config.AuthSource,
				Username:      config.Username,
				Password:      config.Password,
				PasswordSet:   passwordSet,
			})
	}

	if a.maxResults <= 0 {
		a.maxResults = defaultMaxResults
	}

	opts.SetRegistry(uidRegistry())

	a.ctx = context.Background()
	a.conn, err = mdb.Connect(a.ctx, &opts)
	a.db = a.conn.Database(a.dbName)
	if err != nil {
		return err
	}
	a.version = -1

	return nil
}

// Close the adapter.
func (a *adapter) Close() error {
	var err error
	if a.conn != nil {
		err = a.conn.Disconnect(a.ctx)
		a.conn = nil
		a.version = -1
	}
	return err
}

// IsOpen checks if the adapter is ready for use.
func (a *adapter) IsOpen() bool {
	return a.conn != nil
}

// GetDbVersion returns current database version.
func (a *adapter) GetDbVersion() (int, error) {
	if a.version > 0 {
		return a.version, nil
	}

	var result struct {
		Key   string `bson:"_id"`
		Value int
	}
	if err := a.db.Collection("kvmeta").FindOne(a.ctx, b.M{"_id": "version"}).Decode(&result); err != nil {
		if err == mdb.ErrNoDocuments {
			err = errors.New("Database not initialized")
		}
		return -1, err
	}

	a.version = result.Value
	return result.Value, nil
}

// CheckDbVersion checks if the actual database version matches adapter version.
func (a *adapter) CheckDbVersion() error {
	version, err := a.GetDbVersion()
	if err != nil {
		return err
	}

	if version != adpVersion {
		return errors.New("Invalid database version " + strconv.Itoa(version) +
			". Expected " + strconv.Itoa(adpVersion))
	}

	return nil
}

// Version returns adapter version.
func (a *adapter) Version() int {
	return adpVersion
}

// GetName returns the name of this adapter.
func (a *adapter) GetName() string {
	return adapterName
}

// SetMaxResults configures how many results can be returned in a single DB call.
func (a *adapter) SetMaxResults(val int) error {
	if val <= 0 {
		a.maxResults = defaultMaxResults
	} else {
		a.maxResults = val
	}
	return nil
}

// Stats returns DB connection stats object.
func (a *adapter) Stats() interface{} {
	if a.db == nil {
		return nil
	}
	var result b.M
	if err := a.db.RunCommand(a.ctx, b.D{{Key: "serverStatus", Value: 1}}).Decode(&result); err != nil {
		return nil
	}
	return result["connections"]
}

// CreateDb creates the database optionally dropping an existing database first.
func (a *adapter) CreateDb(reset bool) error {
	if reset {
		if err := a.db.Drop(a.ctx); err != nil {
			return err
		}
	} else if a.isDbInitialized() {
		return errors.New("Database already initialized")
	}
	// Collections do not need to be explicitly created since MongoDB creates
	// them with the first write operation.

	indexes := []struct {
		Collection string
		Field      string
		IndexOpts  mdb.IndexModel
	}{
		// Find customers assigned to an agent.
		{
			Collection: "users",
			Field:      "agent",
		},
		// Access user's auth records by user id.
		{
			Collection: "auth",
			Field:      "userid",
		},
		// Load a thread between two users.
		{
			Collection: "messages",
			IndexOpts: mdb.IndexModel{
				Keys: b.D{{Key: "from", Value: 1}, {Key: "to", Value: 1}, {Key: "createdat", Value: 1}},
			},
		},
		// Count unread messages addressed to a user.
		{
			Collection: "messages",
			IndexOpts: mdb.IndexModel{
				Keys: b.D{{Key: "to", Value: 1}, {Key: "readat", Value: 1}},
			},
		},
	}

	for _, idx := range indexes {
		if idx.Field != "" {
			idx.IndexOpts.Keys = b.M{idx.Field: 1}
		}
		if _, err := a.db.Collection(idx.Collection).Indexes().CreateOne(a.ctx, idx.IndexOpts); err != nil {
			return err
		}
	}

	// DB versioning.
	if _, err := a.db.Collection("kvmeta").InsertOne(a.ctx, map[string]interface{}{"_id": "version", "value": adpVersion}); err != nil {
		return err
	}

	return nil
}

// UserCreate creates user record.
func (a *adapter) UserCreate(usr *t.User) error {
	if _, err := a.db.Collection("users").InsertOne(a.ctx, &usr); err != nil {
		return err
	}

	return nil
}

// UserGet fetches a single user by user id.
func (a *adapter) UserGet(id t.Uid) (*t.User, error) {
	var user t.User

	if err := a.db.Collection("users").FindOne(a.ctx, b.M{"_id": id.String()}).Decode(&user); err != nil {
		if err == mdb.ErrNoDocuments {
			// User not found.
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// UserGetAll returns user records for a given list of user IDs.
func (a *adapter) UserGetAll(ids ...t.Uid) ([]t.User, error) {
	uids := make([]interface{}, len(ids))
	for i, id := range ids {
		uids[i] = id.String()
	}

	var users []t.User
	cur, err := a.db.Collection("users").Find(a.ctx, b.M{"_id": b.M{"$in": uids}})
	if err != nil {
		return nil, err
	}
	defer cur.Close(a.ctx)

	for cur.Next(a.ctx) {
		var user t.User
		if err = cur.Decode(&user); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, cur.Err()
}

// UserUpdate updates user record.
func (a *adapter) UserUpdate(uid t.Uid, update map[string]interface{}) error {
	// Keys in the update map use Go field names, mongo fields are lowercase.
	normalized := b.M{}
	for key, value := range update {
		normalized[strings.ToLower(key)] = value
	}
	_, err := a.db.Collection("users").UpdateOne(a.ctx, b.M{"_id": uid.String()}, b.M{"$set": normalized})
	return err
}

// UserUpdateLastSeen updates the user's last-seen timestamp and user agent.
func (a *adapter) UserUpdateLastSeen(uid t.Uid, userAgent string, when time.Time) error {
	_, err := a.db.Collection("users").UpdateOne(a.ctx,
		b.M{"_id": uid.String()},
		b.M{"$set": b.M{"lastseen": when, "useragent": userAgent}})
	return err
}

// UsersForAgent returns regular users assigned to the given agent.
func (a *adapter) UsersForAgent(agent t.Uid) ([]t.User, error) {
	filter := b.M{"role": t.RoleRegular, "agent": agent}
	findOpts := mdbopts.Find().SetLimit(int64(a.maxResults))
	cur, err := a.db.Collection("users").Find(a.ctx, filter, findOpts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(a.ctx)

	var users []t.User
	for cur.Next(a.ctx) {
		var user t.User
		if err = cur.Decode(&user); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, cur.Err()
}

// AuthGetUniqueRecord returns authentication record for a given unique value i.e. login.
func (a *adapter) AuthGetUniqueRecord(unique string) (t.Uid, auth.Level, []byte, time.Time, error) {
	var record struct {
		UserId  string
		AuthLvl auth.Level
		Secret  []byte
		Expires time.Time
	}

	findOpts := mdbopts.FindOne().SetProjection(b.M{
		"userid":  1,
		"authlvl": 1,
		"secret":  1,
		"expires": 1,
	})
	err := a.db.Collection("auth").FindOne(a.ctx, b.M{"_id": unique}, findOpts).Decode(&record)
	if err != nil {
		if err == mdb.ErrNoDocuments {
			return t.ZeroUid, 0, nil, time.Time{}, nil
		}
		return t.ZeroUid, 0, nil, time.Time{}, err
	}

	return t.ParseUid(record.UserId), record.AuthLvl, record.Secret, record.Expires, nil
}

// AuthGetRecord returns authentication record given user ID and scheme.
func (a *adapter) AuthGetRecord(uid t.Uid, scheme string) (string, auth.Level, []byte, time.Time, error) {
	var record struct {
		Id      string `bson:"_id"`
		AuthLvl auth.Level
		Secret  []byte
		Expires time.Time
	}

	filter := b.M{"userid": uid.String(), "scheme": scheme}
	findOpts := mdbopts.FindOne().SetProjection(b.M{
		"authlvl": 1,
		"secret":  1,
		"expires": 1,
	})
	err := a.db.Collection("auth").FindOne(a.ctx, filter, findOpts).Decode(&record)
	if err != nil {
		if err == mdb.ErrNoDocuments {
			return "", 0, nil, time.Time{}, t.ErrNotFound
		}
		return "", 0, nil, time.Time{}, err
	}

	return record.Id, record.AuthLvl, record.Secret, record.Expires, nil
}

// AuthAddRecord creates a new authentication record.
func (a *adapter) AuthAddRecord(uid t.Uid, scheme, unique string, authLvl auth.Level, secret []byte, expires time.Time) error {
	authRecord := b.M{
		"_id":     unique,
		"userid":  uid.String(),
		"scheme":  scheme,
		"authlvl": authLvl,
		"secret":  secret,
		"expires": expires}
	if _, err := a.db.Collection("auth").InsertOne(a.ctx, authRecord); err != nil {
		if isDuplicateErr(err) {
			return t.ErrDuplicate
		}
		return err
	}
	return nil
}

// AuthUpdRecord modifies an authentication record. Updating the unique value
// is accomplished by deleting the record and creating a new one.
func (a *adapter) AuthUpdRecord(uid t.Uid, scheme, unique string, authLvl auth.Level, secret []byte, expires time.Time) error {
	// The primary key is immutable. If the unique value has changed, we have
	// to replace the old record with a new one:
	// 1. Check if the unique already exists.
	// 2. Insert new record.
	// 3. Delete the old record.
	prevUnique, _, _, _, err := a.AuthGetRecord(uid, scheme)
	if err != nil {
		return err
	}

	if prevUnique == unique {
		upd := b.M{
			"authlvl": authLvl,
		}
		if len(secret) > 0 {
			upd["secret"] = secret
		}
		if !expires.IsZero() {
			upd["expires"] = expires
		}
		_, err = a.db.Collection("auth").UpdateOne(a.ctx, b.M{"_id": unique}, b.M{"$set": upd})
		return err
	}

	if err = a.AuthAddRecord(uid, scheme, unique, authLvl, secret, expires); err != nil {
		return err
	}
	_, err = a.db.Collection("auth").DeleteOne(a.ctx, b.M{"_id": prevUnique})
	return err
}

// AuthDelScheme deletes an existing authentication scheme for the user.
func (a *adapter) AuthDelScheme(uid t.Uid, scheme string) error {
	_, err := a.db.Collection("auth").DeleteOne(a.ctx,
		b.M{"userid": uid.String(), "scheme": scheme})
	return err
}

// AuthDelAllRecords deletes all authentication records of the given user.
func (a *adapter) AuthDelAllRecords(uid t.Uid) (int, error) {
	res, err := a.db.Collection("auth").DeleteMany(a.ctx, b.M{"userid": uid.String()})
	if err != nil {
		return 0, err
	}
	return int(res.DeletedCount), nil
}

// MessageSave saves a new message to database.
func (a *adapter) MessageSave(msg *t.Message) error {
	_, err := a.db.Collection("messages").InsertOne(a.ctx, msg)
	return err
}

// MessageGetBetween returns messages exchanged between the two users, oldest first.
func (a *adapter) MessageGetBetween(uid1, uid2 t.Uid) ([]t.Message, error) {
	filter := b.M{"$or": b.A{
		b.M{"from": uid1, "to": uid2},
		b.M{"from": uid2, "to": uid1},
	}}
	findOpts := mdbopts.Find().
		SetSort(b.D{{Key: "createdat", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(a.maxResults))
	cur, err := a.db.Collection("messages").Find(a.ctx, filter, findOpts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(a.ctx)

	return readMessages(a.ctx, cur)
}

// MessagesMarkRead stamps the read timestamp on all still-unread messages
// sent by 'from' to 'to'.
func (a *adapter) MessagesMarkRead(to, from t.Uid, readAt time.Time) (int64, error) {
	res, err := a.db.Collection("messages").UpdateMany(a.ctx,
		b.M{"from": from, "to": to, "readat": nil},
		b.M{"$set": b.M{"readat": readAt}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// MessageGetForPeers returns messages exchanged between the user and any of
// the given peers, newest first.
func (a *adapter) MessageGetForPeers(uid t.Uid, peers []t.Uid) ([]t.Message, error) {
	ids := make(b.A, len(peers))
	for i, peer := range peers {
		ids[i] = peer
	}

	filter := b.M{"$or": b.A{
		b.M{"from": uid, "to": b.M{"$in": ids}},
		b.M{"from": b.M{"$in": ids}, "to": uid},
	}}
	findOpts := mdbopts.Find().
		SetSort(b.D{{Key: "createdat", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(a.maxResults))
	cur, err := a.db.Collection("messages").Find(a.ctx, filter, findOpts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(a.ctx)

	return readMessages(a.ctx, cur)
}

func readMessages(ctx context.Context, cur *mdb.Cursor) ([]t.Message, error) {
	var msgs []t.Message
	for cur.Next(ctx) {
		var msg t.Message
		if err := cur.Decode(&msg); err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, cur.Err()
}

var uidType = reflect.TypeOf(t.ZeroUid)

// uidCodec persists t.Uid values as their base64 string form, matching the
// string '_id' convention. The driver's default codec would reject uids with
// the top bit set as an int64 overflow.
type uidCodec struct{}

// EncodeValue writes Uid as a string. Zero Uid is written as "".
func (uidCodec) EncodeValue(_ bsoncodec.EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
	if !val.IsValid() || val.Type() != uidType {
		return bsoncodec.ValueEncoderError{Name: "UidEncodeValue", Types: []reflect.Type{uidType}, Received: val}
	}
	return vw.WriteString(t.Uid(val.Uint()).String())
}

// DecodeValue reads Uid from a string or null.
func (uidCodec) DecodeValue(_ bsoncodec.DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
	if !val.CanSet() || val.Type() != uidType {
		return bsoncodec.ValueDecoderError{Name: "UidDecodeValue", Types: []reflect.Type{uidType}, Received: val}
	}

	switch vr.Type() {
	case bsontype.String:
		str, err := vr.ReadString()
		if err != nil {
			return err
		}
		val.SetUint(uint64(t.ParseUid(str)))
	case bsontype.Null:
		if err := vr.ReadNull(); err != nil {
			return err
		}
		val.SetUint(0)
	default:
		return errors.New("uid codec: cannot decode " + vr.Type().String())
	}
	return nil
}

func uidRegistry() *bsoncodec.Registry {
	registry := b.NewRegistry()
	registry.RegisterTypeEncoder(uidType, uidCodec{})
	registry.RegisterTypeDecoder(uidType, uidCodec{})
	return registry
}

func (a *adapter) isDbInitialized() bool {
	var result map[string]int

	findOpts := mdbopts.FindOneOptions{Projection: b.M{"value": 1, "_id": 0}}
	if err := a.db.Collection("kvmeta").FindOne(a.ctx, b.M{"_id": "version"}, &findOpts).Decode(&result); err != nil {
		return false
	}
	return true
}

func isDuplicateErr(err error) bool {
	if err == nil {
		return false
	}

	return strings.Contains(err.Error(), "duplicate key error")
}

func init() {
	store.RegisterAdapter(&adapter{})
}
