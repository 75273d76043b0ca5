package main

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/base64"
	"encoding/binary"
	"net/http"
	"net/url"
	"strings"
	"testing"
)

// makeAPIKey signs a key the same way the keygen tool does.
func makeAPIKey(salt []byte, sequence uint16, isRoot bool) string {
	data := make([]byte, apikeyLength)
	data[0] = 1 // default signature algorithm
	binary.LittleEndian.PutUint32(data[apikeyVersion:], 0xdeadbeef)
	binary.LittleEndian.PutUint16(data[apikeyVersion+apikeyAppID:], sequence)
	if isRoot {
		data[apikeyVersion+apikeyAppID+apikeySequence] = 1
	}

	hasher := hmac.New(md5.New, salt)
	hasher.Write(data[:apikeyVersion+apikeyAppID+apikeySequence+apikeyWho])
	copy(data[apikeyVersion+apikeyAppID+apikeySequence+apikeyWho:], hasher.Sum(nil))

	return base64.URLEncoding.EncodeToString(data)
}

func TestCheckAPIKey(t *testing.T) {
	globals.apiKeySalt = []byte("0123456789abcdef0123456789abcdef")

	key := makeAPIKey(globals.apiKeySalt, 1, false)
	isValid, isRoot := checkAPIKey(key)
	if !isValid {
		t.Fatal("Signed key expected to be valid.")
	}
	if isRoot {
		t.Error("Non-root key reported as root.")
	}

	rootKey := makeAPIKey(globals.apiKeySalt, 1, true)
	isValid, isRoot = checkAPIKey(rootKey)
	if !isValid || !isRoot {
		t.Error("Root key expected to be valid and root.")
	}
}

func TestCheckAPIKeyRejects(t *testing.T) {
	globals.apiKeySalt = []byte("0123456789abcdef0123456789abcdef")

	if isValid, _ := checkAPIKey(""); isValid {
		t.Error("Empty key must be invalid.")
	}
	if isValid, _ := checkAPIKey("tooshort"); isValid {
		t.Error("Short key must be invalid.")
	}

	// Key signed with a different salt.
	foreign := makeAPIKey([]byte("fedcba9876543210fedcba9876543210"), 1, false)
	if isValid, _ := checkAPIKey(foreign); isValid {
		t.Error("Key with a foreign signature must be invalid.")
	}

	// Valid signature but tampered content.
	key := makeAPIKey(globals.apiKeySalt, 1, false)
	raw, _ := base64.URLEncoding.DecodeString(key)
	raw[2] ^= 0xff
	if isValid, _ := checkAPIKey(base64.URLEncoding.EncodeToString(raw)); isValid {
		t.Error("Tampered key must be invalid.")
	}
}

func TestGetAPIKey(t *testing.T) {
	req := &http.Request{
		Header: http.Header{},
		URL:    &url.URL{RawQuery: "apikey=from-query"},
	}
	if key := getAPIKey(req); key != "from-query" {
		t.Errorf("Query key: expected 'from-query', got '%s'", key)
	}

	// The header takes precedence over the query parameter.
	req.Header.Set("X-Deskline-APIKey", "from-header")
	if key := getAPIKey(req); key != "from-header" {
		t.Errorf("Header key: expected 'from-header', got '%s'", key)
	}
}

func TestGetAPIKeyForm(t *testing.T) {
	req, err := http.NewRequest(http.MethodPost, "http://localhost/v0/login",
		strings.NewReader("apikey=posted"))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if key := getAPIKey(req); key != "posted" {
		t.Errorf("Form key: expected 'posted', got '%s'", key)
	}
}
