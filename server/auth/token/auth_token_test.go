package token

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/deskline/chat/server/auth"
	"github.com/deskline/chat/server/store/types"
)

func newTestAuthenticator(t *testing.T) *authenticator {
	t.Helper()
	ta := &authenticator{}
	conf := json.RawMessage(`{
		"key": "wfaY2RgF2S1OQI/ZlK+LSrp1KB2jwAdGAIHQ7JZn+Kc=",
		"expire_in": 3600,
		"serial_num": 1}`)
	if err := ta.Init(conf, "token"); err != nil {
		t.Fatal("Failed to init authenticator:", err)
	}
	return ta
}

func TestInitRejectsBadConfig(t *testing.T) {
	ta := &authenticator{}
	if err := ta.Init(json.RawMessage(`{"key": "dG9vc2hvcnQ="}`), "token"); err == nil {
		t.Error("Expected error with a short key")
	}

	ta = &authenticator{}
	if err := ta.Init(json.RawMessage(`{"key": "wfaY2RgF2S1OQI/ZlK+LSrp1KB2jwAdGAIHQ7JZn+Kc="}`),
		"token"); err == nil {
		t.Error("Expected error with no expiration")
	}
}

func TestInitOnlyOnce(t *testing.T) {
	ta := newTestAuthenticator(t)
	if err := ta.Init(json.RawMessage(`{}`), "token2"); err == nil {
		t.Error("Expected error on second Init")
	}
}

func TestGenSecretAuthenticate(t *testing.T) {
	ta := newTestAuthenticator(t)

	uid := types.Uid(12345)
	token, expires, err := ta.GenSecret(&auth.Rec{Uid: uid, AuthLevel: auth.LevelAuth})
	if err != nil {
		t.Fatal("GenSecret failed:", err)
	}
	if expires.Before(time.Now()) {
		t.Error("Token expected to expire in the future.")
	}

	rec, _, err := ta.Authenticate(token)
	if err != nil {
		t.Fatal("Authenticate failed:", err)
	}
	if rec.Uid != uid {
		t.Errorf("Uid: expected %d, got %d", uid, rec.Uid)
	}
	if rec.AuthLevel != auth.LevelAuth {
		t.Errorf("AuthLevel: expected %v, got %v", auth.LevelAuth, rec.AuthLevel)
	}
}

func TestAuthenticateRejects(t *testing.T) {
	ta := newTestAuthenticator(t)

	// Too short.
	if _, _, err := ta.Authenticate([]byte("short")); err != types.ErrMalformed {
		t.Errorf("Short token: expected ErrMalformed, got %v", err)
	}

	// Valid token with a flipped signature byte.
	token, _, err := ta.GenSecret(&auth.Rec{Uid: types.Uid(1), AuthLevel: auth.LevelAuth})
	if err != nil {
		t.Fatal(err)
	}
	token[len(token)-1] ^= 0xff
	if _, _, err = ta.Authenticate(token); err != types.ErrFailed {
		t.Errorf("Tampered token: expected ErrFailed, got %v", err)
	}

	// Token signed with a different serial number.
	other := &authenticator{}
	if err = other.Init(json.RawMessage(`{
		"key": "wfaY2RgF2S1OQI/ZlK+LSrp1KB2jwAdGAIHQ7JZn+Kc=",
		"expire_in": 3600,
		"serial_num": 2}`), "token"); err != nil {
		t.Fatal(err)
	}
	token, _, err = other.GenSecret(&auth.Rec{Uid: types.Uid(1), AuthLevel: auth.LevelAuth})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err = ta.Authenticate(token); err != types.ErrFailed {
		t.Errorf("Wrong serial: expected ErrFailed, got %v", err)
	}
}

func TestExpiredToken(t *testing.T) {
	ta := newTestAuthenticator(t)

	if _, _, err := ta.GenSecret(&auth.Rec{
		Uid:       types.Uid(1),
		AuthLevel: auth.LevelAuth,
		Lifetime:  -time.Hour,
	}); err != types.ErrExpired {
		t.Errorf("Negative lifetime: expected ErrExpired, got %v", err)
	}
}
