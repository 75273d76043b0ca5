package basic

import (
	"encoding/json"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/deskline/chat/server/auth"
	"github.com/deskline/chat/server/store"
	"github.com/deskline/chat/server/store/mock_store"
	"github.com/deskline/chat/server/store/types"
	"github.com/golang/mock/gomock"
)

func newTestAuthenticator(t *testing.T) *authenticator {
	t.Helper()
	a := &authenticator{}
	if err := a.Init(json.RawMessage(`{"min_login_length": 3, "min_password_length": 6}`),
		"basic"); err != nil {
		t.Fatal("Failed to init authenticator:", err)
	}
	return a
}

func TestParseSecret(t *testing.T) {
	uname, password, err := parseSecret([]byte("Alice:pass:word"))
	if err != nil {
		t.Fatal("Unexpected error:", err)
	}
	if uname != "alice" {
		t.Errorf("Login expected to be lowercased, got '%s'", uname)
	}
	if password != "pass:word" {
		t.Errorf("Password: expected 'pass:word', got '%s'", password)
	}

	if _, _, err = parseSecret([]byte("nodelimiter")); err != types.ErrMalformed {
		t.Errorf("No delimiter: expected ErrMalformed, got %v", err)
	}
	if _, _, err = parseSecret([]byte(":leadingcolon")); err != types.ErrMalformed {
		t.Errorf("Empty login: expected ErrMalformed, got %v", err)
	}
}

func TestInitOnlyOnce(t *testing.T) {
	a := newTestAuthenticator(t)
	if err := a.Init(nil, "basic2"); err == nil {
		t.Error("Expected error on second Init")
	}
}

func TestAddRecord(t *testing.T) {
	ctrl := gomock.NewController(t)
	um := mock_store.NewMockUsersPersistenceInterface(ctrl)
	store.Users = um
	defer func() {
		store.Users = nil
		ctrl.Finish()
	}()

	a := newTestAuthenticator(t)
	uid := types.Uid(1001)

	var storedHash []byte
	um.EXPECT().AddAuthRecord(uid, auth.LevelAuth, "basic", "alice", gomock.Any(), time.Time{}).
		Do(func(_ types.Uid, _ auth.Level, _, _ string, secret []byte, _ time.Time) {
			storedHash = secret
		}).Return(nil)

	rec, err := a.AddRecord(&auth.Rec{Uid: uid}, []byte("alice:secret123"))
	if err != nil {
		t.Fatal("AddRecord failed:", err)
	}
	if rec.AuthLevel != auth.LevelAuth {
		t.Errorf("AuthLevel: expected LevelAuth, got %v", rec.AuthLevel)
	}
	if err = bcrypt.CompareHashAndPassword(storedHash, []byte("secret123")); err != nil {
		t.Error("Stored secret expected to be a bcrypt hash of the password.")
	}

	// Policy violations.
	if _, err = a.AddRecord(&auth.Rec{Uid: uid}, []byte("al:secret123")); err != types.ErrMalformed {
		t.Errorf("Short login: expected ErrMalformed, got %v", err)
	}
	if _, err = a.AddRecord(&auth.Rec{Uid: uid}, []byte("alice:short")); err != types.ErrMalformed {
		t.Errorf("Short password: expected ErrMalformed, got %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	ctrl := gomock.NewController(t)
	um := mock_store.NewMockUsersPersistenceInterface(ctrl)
	store.Users = um
	defer func() {
		store.Users = nil
		ctrl.Finish()
	}()

	a := newTestAuthenticator(t)
	uid := types.Uid(1001)
	passhash, _ := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.MinCost)

	um.EXPECT().GetAuthUniqueRecord("basic", "alice").
		Return(uid, auth.LevelAuth, passhash, time.Time{}, nil).Times(2)

	rec, _, err := a.Authenticate([]byte("alice:secret123"))
	if err != nil {
		t.Fatal("Authenticate failed:", err)
	}
	if rec.Uid != uid {
		t.Errorf("Uid: expected %d, got %d", uid, rec.Uid)
	}

	if _, _, err = a.Authenticate([]byte("alice:wrongpass")); err != types.ErrFailed {
		t.Errorf("Wrong password: expected ErrFailed, got %v", err)
	}

	// Unknown login.
	um.EXPECT().GetAuthUniqueRecord("basic", "nobody").
		Return(types.ZeroUid, auth.Level(0), nil, time.Time{}, nil)
	if _, _, err = a.Authenticate([]byte("nobody:secret123")); err != types.ErrFailed {
		t.Errorf("Unknown login: expected ErrFailed, got %v", err)
	}
}

func TestAuthenticateExpired(t *testing.T) {
	ctrl := gomock.NewController(t)
	um := mock_store.NewMockUsersPersistenceInterface(ctrl)
	store.Users = um
	defer func() {
		store.Users = nil
		ctrl.Finish()
	}()

	a := newTestAuthenticator(t)
	passhash, _ := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.MinCost)
	um.EXPECT().GetAuthUniqueRecord("basic", "alice").
		Return(types.Uid(1001), auth.LevelAuth, passhash, time.Now().Add(-time.Hour), nil)

	if _, _, err := a.Authenticate([]byte("alice:secret123")); err != types.ErrExpired {
		t.Errorf("Expired record: expected ErrExpired, got %v", err)
	}
}
