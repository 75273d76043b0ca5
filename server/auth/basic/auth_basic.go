// Package basic implements authentication by login and password.
// Used by the login endpoint to mint security tokens.
package basic

// This handler must be kept in a separate package because it's referenced by
// deskline-db.

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/deskline/chat/server/auth"
	"github.com/deskline/chat/server/store"
	"github.com/deskline/chat/server/store/types"

	"golang.org/x/crypto/bcrypt"
)

// authenticator is a singleton instance of the authenticator.
type authenticator struct {
	name              string
	minLoginLength    int
	minPasswordLength int
}

const (
	defaultMinLoginLength    = 3
	defaultMinPasswordLength = 6
)

func parseSecret(bsecret []byte) (uname, password string, err error) {
	secret := string(bsecret)

	splitAt := strings.Index(secret, ":")
	if splitAt < 1 {
		err = types.ErrMalformed
		return
	}

	uname = strings.ToLower(secret[:splitAt])
	password = secret[splitAt+1:]

	return
}

// Init initializes the basic authenticator.
func (a *authenticator) Init(jsonconf json.RawMessage, name string) error {
	if a.name != "" {
		return types.ErrInternal
	}

	type configType struct {
		MinLoginLength    int `json:"min_login_length"`
		MinPasswordLength int `json:"min_password_length"`
	}
	var config configType
	if len(jsonconf) > 0 {
		if err := json.Unmarshal(jsonconf, &config); err != nil {
			return types.ErrMalformed
		}
	}
	if config.MinLoginLength <= 0 {
		config.MinLoginLength = defaultMinLoginLength
	}
	if config.MinPasswordLength <= 0 {
		config.MinPasswordLength = defaultMinPasswordLength
	}

	a.name = name
	a.minLoginLength = config.MinLoginLength
	a.minPasswordLength = config.MinPasswordLength

	return nil
}

// AddRecord adds a basic authentication record to the database.
func (a *authenticator) AddRecord(rec *auth.Rec, secret []byte) (*auth.Rec, error) {
	uname, password, err := parseSecret(secret)
	if err != nil {
		return nil, err
	}
	if len(uname) < a.minLoginLength || len(password) < a.minPasswordLength {
		return nil, types.ErrMalformed
	}

	passhash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, types.ErrInternal
	}
	var expires time.Time
	if rec.Lifetime > 0 {
		expires = time.Now().Add(rec.Lifetime).UTC().Round(time.Millisecond)
	}
	if err := store.Users.AddAuthRecord(rec.Uid, auth.LevelAuth, a.name, uname, passhash, expires); err != nil {
		return nil, err
	}

	rec.AuthLevel = auth.LevelAuth
	return rec, nil
}

// UpdateRecord updates the password for basic authentication.
func (a *authenticator) UpdateRecord(rec *auth.Rec, secret []byte) (*auth.Rec, error) {
	uname, password, err := parseSecret(secret)
	if err != nil {
		return nil, err
	}

	storedUID, _, _, _, err := store.Users.GetAuthUniqueRecord(a.name, uname)
	if err != nil {
		return nil, err
	}
	if storedUID != rec.Uid {
		return nil, types.ErrFailed
	}
	if len(password) < a.minPasswordLength {
		return nil, types.ErrMalformed
	}

	passhash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, types.ErrInternal
	}
	var expires time.Time
	if rec.Lifetime > 0 {
		expires = time.Now().Add(rec.Lifetime).UTC().Round(time.Millisecond)
	}
	if err = store.Users.UpdateAuthRecord(rec.Uid, auth.LevelAuth, a.name, uname, passhash, expires); err != nil {
		return nil, err
	}

	return rec, nil
}

// Authenticate checks login and password.
func (a *authenticator) Authenticate(secret []byte) (*auth.Rec, []byte, error) {
	uname, password, err := parseSecret(secret)
	if err != nil {
		return nil, nil, err
	}

	uid, authLvl, passhash, expires, err := store.Users.GetAuthUniqueRecord(a.name, uname)
	if err != nil {
		return nil, nil, err
	}
	if uid.IsZero() {
		// Invalid login.
		return nil, nil, types.ErrFailed
	}
	if !expires.IsZero() && expires.Before(time.Now()) {
		// The record has expired.
		return nil, nil, types.ErrExpired
	}

	if err = bcrypt.CompareHashAndPassword(passhash, []byte(password)); err != nil {
		// Invalid password.
		return nil, nil, types.ErrFailed
	}

	var lifetime time.Duration
	if !expires.IsZero() {
		lifetime = time.Until(expires)
	}
	return &auth.Rec{
		Uid:       uid,
		AuthLevel: authLvl,
		Lifetime:  lifetime}, nil, nil
}

// GenSecret is not supported, will produce an error.
func (authenticator) GenSecret(rec *auth.Rec) ([]byte, time.Time, error) {
	return nil, time.Time{}, types.ErrUnsupported
}

// IsUnique checks login uniqueness.
func (a *authenticator) IsUnique(secret []byte) (bool, error) {
	uname, _, err := parseSecret(secret)
	if err != nil {
		return false, err
	}
	if len(uname) < a.minLoginLength {
		return false, types.ErrMalformed
	}

	uid, _, _, _, err := store.Users.GetAuthUniqueRecord(a.name, uname)
	if err != nil {
		return false, err
	}

	if uid.IsZero() {
		return true, nil
	}
	return false, types.ErrDuplicate
}

// DelRecords deletes all basic authentication records of the given user.
func (a *authenticator) DelRecords(uid types.Uid) error {
	return store.Users.DelAuthRecords(uid, a.name)
}

func init() {
	store.RegisterAuthScheme("basic", &authenticator{})
}
