// Package mysql is a database adapter for MySQL.
package mysql

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	ms "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/deskline/chat/server/auth"
	"github.com/deskline/chat/server/store"
	t "github.com/deskline/chat/server/store/types"
)

// adapter holds MySQL connection data.
type adapter struct {
	db         *sqlx.DB
	dsn        string
	dbName     string
	maxResults int
	version    int
}

const (
	defaultDSN      = "root:@tcp(localhost:3306)/deskline?parseTime=true&collation=utf8mb4_unicode_ci"
	defaultDatabase = "deskline"

	adpVersion  = 100
	adapterName = "mysql"

	defaultMaxResults = 1024
)

type configType struct {
	DSN    string `json:"dsn,omitempty"`
	DBName string `json:"database,omitempty"`

	// Connection pool settings.
	MaxOpenConns    int `json:"max_open_conns,omitempty"`
	MaxIdleConns    int `json:"max_idle_conns,omitempty"`
	ConnMaxLifetime int `json:"conn_max_lifetime,omitempty"`
}

// Open initializes a mysql session.
func (a *adapter) Open(jsonconfig json.RawMessage) error {
	if a.db != nil {
		return errors.New("mysql adapter is already connected")
	}

	var err error
	var config configType
	if err = json.Unmarshal(jsonconfig, &config); err != nil {
		return errors.New("mysql adapter failed to parse config: " + err.Error())
	}

	a.dsn = config.DSN
	if a.dsn == "" {
		a.dsn = defaultDSN
	}

	a.dbName = config.DBName
	if a.dbName == "" {
		a.dbName = defaultDatabase
	}

	if a.maxResults <= 0 {
		a.maxResults = defaultMaxResults
	}

	a.db, err = sqlx.Open("mysql", a.dsn)
	if err != nil {
		return err
	}

	// sql.Open does not open the network connection.
	// Force network connection here.
	if err = a.db.Ping(); err != nil {
		return err
	}

	if config.MaxOpenConns > 0 {
		a.db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		a.db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		a.db.SetConnMaxLifetime(time.Duration(config.ConnMaxLifetime) * time.Second)
	}

	a.version = -1

	return nil
}

// Close closes the underlying database connection.
func (a *adapter) Close() error {
	var err error
	if a.db != nil {
		err = a.db.Close()
		a.db = nil
		a.version = -1
	}
	return err
}

// IsOpen returns true if connection to database has been established. It does
// not check if the connection is actually live.
func (a *adapter) IsOpen() bool {
	return a.db != nil
}

// GetDbVersion returns current database version.
func (a *adapter) GetDbVersion() (int, error) {
	if a.version > 0 {
		return a.version, nil
	}

	var vers int
	if err := a.db.Get(&vers, "SELECT `value` FROM kvmeta WHERE `key`='version'"); err != nil {
		if err == sql.ErrNoRows {
			err = errors.New("Database not initialized")
		}
		return -1, err
	}
	a.version = vers

	return a.version, nil
}

// CheckDbVersion checks whether the actual DB version matches the expected version of this adapter.
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

// GetName returns string that adapter uses to register itself with store.
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
	return a.db.Stats()
}

// CreateDb initializes the database: creates the tables and records the
// schema version.
func (a *adapter) CreateDb(reset bool) error {
	var err error
	var tx *sql.Tx

	if tx, err = a.db.Begin(); err != nil {
		return err
	}

	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if reset {
		if _, err = tx.Exec("DROP DATABASE IF EXISTS " + a.dbName); err != nil {
			return err
		}
	}

	if _, err = tx.Exec("CREATE DATABASE " + a.dbName +
		" CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci"); err != nil {
		return err
	}

	if _, err = tx.Exec("USE " + a.dbName); err != nil {
		return err
	}

	if _, err = tx.Exec(
		`CREATE TABLE kvmeta(` +
			"`key` CHAR(32)," +
			"`value` TEXT," +
			"PRIMARY KEY(`key`)" +
			`)`); err != nil {
		return err
	}
	if _, err = tx.Exec("INSERT INTO kvmeta(`key`, `value`) VALUES('version', '" +
		strconv.Itoa(adpVersion) + "')"); err != nil {
		return err
	}

	if _, err = tx.Exec(
		`CREATE TABLE users(
			id 			BIGINT NOT NULL,
			createdat 	DATETIME(3) NOT NULL,
			updatedat 	DATETIME(3) NOT NULL,
			role 		INT NOT NULL DEFAULT 0,
			agent 		BIGINT NOT NULL DEFAULT 0,
			public 		JSON,
			lastseen 	DATETIME,
			useragent 	VARCHAR(255) DEFAULT '',
			PRIMARY KEY(id),
			INDEX users_agent (agent)
		)`); err != nil {
		return err
	}

	// Authentication records.
	if _, err = tx.Exec(
		`CREATE TABLE auth(
			id 			INT NOT NULL AUTO_INCREMENT,
			uname		VARCHAR(255) NOT NULL,
			userid 		BIGINT NOT NULL,
			scheme		VARCHAR(16) NOT NULL,
			authlvl 	INT NOT NULL,
			secret 		VARBINARY(255) NOT NULL,
			expires 	DATETIME,
			PRIMARY KEY(id),
			FOREIGN KEY(userid) REFERENCES users(id),
			UNIQUE INDEX auth_uname (uname),
			UNIQUE INDEX auth_userid_scheme (userid, scheme)
		)`); err != nil {
		return err
	}

	if _, err = tx.Exec(
		`CREATE TABLE messages(
			id 			BIGINT NOT NULL,
			createdat 	DATETIME(3) NOT NULL,
			updatedat 	DATETIME(3) NOT NULL,
			sender 		BIGINT NOT NULL,
			recipient 	BIGINT NOT NULL,
			content 	TEXT NOT NULL,
			readat 		DATETIME(3),
			PRIMARY KEY(id),
			FOREIGN KEY(sender) REFERENCES users(id),
			FOREIGN KEY(recipient) REFERENCES users(id),
			INDEX messages_thread (sender, recipient, createdat),
			INDEX messages_unread (recipient, readat)
		)`); err != nil {
		return err
	}

	return tx.Commit()
}

type userRow struct {
	Id        int64
	Createdat time.Time
	Updatedat time.Time
	Role      int
	Agent     int64
	Public    []byte
	Lastseen  sql.NullTime
	Useragent string
}

func (row *userRow) toUser() t.User {
	var user t.User
	user.SetUid(store.EncodeUid(row.Id))
	user.CreatedAt = row.Createdat
	user.UpdatedAt = row.Updatedat
	user.Role = t.Role(row.Role)
	user.Agent = store.EncodeUid(row.Agent)
	user.Public = fromJSON(row.Public)
	if row.Lastseen.Valid {
		when := row.Lastseen.Time
		user.LastSeen = &when
	}
	user.UserAgent = row.Useragent
	return user
}

// UserCreate creates a new user record.
func (a *adapter) UserCreate(user *t.User) error {
	_, err := a.db.Exec(
		"INSERT INTO users(id,createdat,updatedat,role,agent,public) VALUES(?,?,?,?,?,?)",
		store.DecodeUid(user.Uid()), user.CreatedAt, user.UpdatedAt,
		int(user.Role), store.DecodeUid(user.Agent), toJSON(user.Public))
	return err
}

// UserGet fetches a single user by user id.
func (a *adapter) UserGet(uid t.Uid) (*t.User, error) {
	var row userRow
	err := a.db.Get(&row, "SELECT * FROM users WHERE id=?", store.DecodeUid(uid))
	if err == sql.ErrNoRows {
		// Clear the error if user does not exist.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	user := row.toUser()
	return &user, nil
}

// UserGetAll returns user records for a given list of user IDs.
func (a *adapter) UserGetAll(ids ...t.Uid) ([]t.User, error) {
	uids := make([]interface{}, len(ids))
	for i, id := range ids {
		uids[i] = store.DecodeUid(id)
	}

	query, args, err := sqlx.In("SELECT * FROM users WHERE id IN (?)", uids)
	if err != nil {
		return nil, err
	}

	rows, err := a.db.Queryx(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []t.User
	for rows.Next() {
		var row userRow
		if err = rows.StructScan(&row); err != nil {
			return nil, err
		}
		users = append(users, row.toUser())
	}
	return users, rows.Err()
}

// UserUpdate updates user record.
func (a *adapter) UserUpdate(uid t.Uid, update map[string]interface{}) error {
	cols, args := updateByMap(update)
	args = append(args, store.DecodeUid(uid))
	_, err := a.db.Exec("UPDATE users SET "+strings.Join(cols, ",")+" WHERE id=?", args...)
	return err
}

// UserUpdateLastSeen updates the user's last-seen timestamp and user agent.
func (a *adapter) UserUpdateLastSeen(uid t.Uid, userAgent string, when time.Time) error {
	_, err := a.db.Exec("UPDATE users SET lastseen=?,useragent=? WHERE id=?",
		when, userAgent, store.DecodeUid(uid))
	return err
}

// UsersForAgent returns regular users assigned to the given agent.
func (a *adapter) UsersForAgent(agent t.Uid) ([]t.User, error) {
	rows, err := a.db.Queryx("SELECT * FROM users WHERE role=? AND agent=? LIMIT ?",
		int(t.RoleRegular), store.DecodeUid(agent), a.maxResults)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []t.User
	for rows.Next() {
		var row userRow
		if err = rows.StructScan(&row); err != nil {
			return nil, err
		}
		users = append(users, row.toUser())
	}
	return users, rows.Err()
}

// AuthGetUniqueRecord returns authentication record for a given unique value i.e. login.
func (a *adapter) AuthGetUniqueRecord(unique string) (t.Uid, auth.Level, []byte, time.Time, error) {
	var record struct {
		Userid  int64
		Authlvl auth.Level
		Secret  []byte
		Expires sql.NullTime
	}

	err := a.db.Get(&record, "SELECT userid,authlvl,secret,expires FROM auth WHERE uname=?", unique)
	if err == sql.ErrNoRows {
		// Clear the error if the record does not exist.
		return t.ZeroUid, 0, nil, time.Time{}, nil
	}
	if err != nil {
		return t.ZeroUid, 0, nil, time.Time{}, err
	}

	var expires time.Time
	if record.Expires.Valid {
		expires = record.Expires.Time
	}
	return store.EncodeUid(record.Userid), record.Authlvl, record.Secret, expires, nil
}

// AuthGetRecord returns authentication record given user ID and scheme.
func (a *adapter) AuthGetRecord(uid t.Uid, scheme string) (string, auth.Level, []byte, time.Time, error) {
	var record struct {
		Uname   string
		Authlvl auth.Level
		Secret  []byte
		Expires sql.NullTime
	}

	err := a.db.Get(&record, "SELECT uname,authlvl,secret,expires FROM auth WHERE userid=? AND scheme=?",
		store.DecodeUid(uid), scheme)
	if err == sql.ErrNoRows {
		return "", 0, nil, time.Time{}, t.ErrNotFound
	}
	if err != nil {
		return "", 0, nil, time.Time{}, err
	}

	var expires time.Time
	if record.Expires.Valid {
		expires = record.Expires.Time
	}
	return record.Uname, record.Authlvl, record.Secret, expires, nil
}

// AuthAddRecord creates a new authentication record.
func (a *adapter) AuthAddRecord(uid t.Uid, scheme, unique string, authLvl auth.Level, secret []byte, expires time.Time) error {
	var exp *time.Time
	if !expires.IsZero() {
		exp = &expires
	}
	_, err := a.db.Exec("INSERT INTO auth(uname,userid,scheme,authlvl,secret,expires) VALUES(?,?,?,?,?,?)",
		unique, store.DecodeUid(uid), scheme, authLvl, secret, exp)
	if isDupe(err) {
		return t.ErrDuplicate
	}
	return err
}

// AuthUpdRecord modifies an authentication record.
func (a *adapter) AuthUpdRecord(uid t.Uid, scheme, unique string, authLvl auth.Level, secret []byte, expires time.Time) error {
	var exp *time.Time
	if !expires.IsZero() {
		exp = &expires
	}
	_, err := a.db.Exec("UPDATE auth SET uname=?,authlvl=?,secret=?,expires=? WHERE userid=? AND scheme=?",
		unique, authLvl, secret, exp, store.DecodeUid(uid), scheme)
	if isDupe(err) {
		return t.ErrDuplicate
	}
	return err
}

// AuthDelScheme deletes an existing authentication scheme for the user.
func (a *adapter) AuthDelScheme(uid t.Uid, scheme string) error {
	_, err := a.db.Exec("DELETE FROM auth WHERE userid=? AND scheme=?",
		store.DecodeUid(uid), scheme)
	return err
}

// AuthDelAllRecords deletes all authentication records of the given user.
func (a *adapter) AuthDelAllRecords(uid t.Uid) (int, error) {
	res, err := a.db.Exec("DELETE FROM auth WHERE userid=?", store.DecodeUid(uid))
	if err != nil {
		return 0, err
	}
	count, _ := res.RowsAffected()
	return int(count), nil
}

type messageRow struct {
	Id        int64
	Createdat time.Time
	Updatedat time.Time
	Sender    int64
	Recipient int64
	Content   string
	Readat    sql.NullTime
}

func (row *messageRow) toMessage() t.Message {
	var msg t.Message
	msg.SetUid(store.EncodeUid(row.Id))
	msg.CreatedAt = row.Createdat
	msg.UpdatedAt = row.Updatedat
	msg.From = store.EncodeUid(row.Sender)
	msg.To = store.EncodeUid(row.Recipient)
	msg.Content = row.Content
	if row.Readat.Valid {
		when := row.Readat.Time
		msg.ReadAt = &when
	}
	return msg
}

// MessageSave saves a new message to database.
func (a *adapter) MessageSave(msg *t.Message) error {
	_, err := a.db.Exec(
		"INSERT INTO messages(id,createdat,updatedat,sender,recipient,content) VALUES(?,?,?,?,?,?)",
		store.DecodeUid(msg.Uid()), msg.CreatedAt, msg.UpdatedAt,
		store.DecodeUid(msg.From), store.DecodeUid(msg.To), msg.Content)
	return err
}

// MessageGetBetween returns messages exchanged between the two users, oldest first.
func (a *adapter) MessageGetBetween(uid1, uid2 t.Uid) ([]t.Message, error) {
	id1, id2 := store.DecodeUid(uid1), store.DecodeUid(uid2)
	rows, err := a.db.Queryx(
		`SELECT * FROM messages
			WHERE (sender=? AND recipient=?) OR (sender=? AND recipient=?)
			ORDER BY createdat,id LIMIT ?`,
		id1, id2, id2, id1, a.maxResults)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return readMessages(rows)
}

// MessagesMarkRead stamps the read timestamp on all still-unread messages
// sent by 'from' to 'to'.
func (a *adapter) MessagesMarkRead(to, from t.Uid, readAt time.Time) (int64, error) {
	res, err := a.db.Exec("UPDATE messages SET readat=? WHERE sender=? AND recipient=? AND readat IS NULL",
		readAt, store.DecodeUid(from), store.DecodeUid(to))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MessageGetForPeers returns messages exchanged between the user and any of
// the given peers, newest first.
func (a *adapter) MessageGetForPeers(uid t.Uid, peers []t.Uid) ([]t.Message, error) {
	ids := make([]interface{}, len(peers))
	for i, peer := range peers {
		ids[i] = store.DecodeUid(peer)
	}

	query, args, err := sqlx.In(
		`SELECT * FROM messages
			WHERE (sender=? AND recipient IN (?)) OR (sender IN (?) AND recipient=?)
			ORDER BY createdat DESC,id DESC LIMIT ?`,
		store.DecodeUid(uid), ids, ids, store.DecodeUid(uid), a.maxResults)
	if err != nil {
		return nil, err
	}

	rows, err := a.db.Queryx(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return readMessages(rows)
}

func readMessages(rows *sqlx.Rows) ([]t.Message, error) {
	var msgs []t.Message
	for rows.Next() {
		var row messageRow
		if err := rows.StructScan(&row); err != nil {
			return nil, err
		}
		msgs = append(msgs, row.toMessage())
	}
	return msgs, rows.Err()
}

// updateByMap turns a generic update map into a list of SET assignments and
// their arguments. Keys in the map use Go field names.
func updateByMap(update map[string]interface{}) (cols []string, args []interface{}) {
	for key, value := range update {
		key = strings.ToLower(key)
		switch key {
		case "public":
			value = toJSON(value)
		case "agent":
			if uid, ok := value.(t.Uid); ok {
				value = store.DecodeUid(uid)
			}
		case "role":
			if role, ok := value.(t.Role); ok {
				value = int(role)
			}
		}
		cols = append(cols, key+"=?")
		args = append(args, value)
	}
	return
}

// Serialize an arbitrary value into JSON for storage, nil stays nil.
func toJSON(src interface{}) []byte {
	if src == nil {
		return nil
	}

	jval, _ := json.Marshal(src)
	return jval
}

// Deserialize a JSON BLOB fetched from the database.
func fromJSON(src []byte) interface{} {
	if len(src) == 0 {
		return nil
	}
	var out interface{}
	json.Unmarshal(src, &out)
	return out
}

// Check if the error is a duplicate key error.
func isDupe(err error) bool {
	if err == nil {
		return false
	}

	myerr, ok := err.(*ms.MySQLError)
	return ok && myerr.Number == 1062
}

func init() {
	store.RegisterAdapter(&adapter{})
}
