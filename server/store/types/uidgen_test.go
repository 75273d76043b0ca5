package types

import (
	"testing"
)

func TestUidGeneratorInit(t *testing.T) {
	ug := &UidGenerator{}
	key := []byte("testkey1testkey2") // 16 bytes for XTEA

	if err := ug.Init(1, key); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if ug.seq == nil {
		t.Error("Snowflake generator should be initialized")
	}
	if ug.cipher == nil {
		t.Error("Cipher should be initialized")
	}

	// Already initialized generator doesn't reinitialize.
	oldSeq := ug.seq
	oldCipher := ug.cipher
	if err := ug.Init(3, key); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if ug.seq != oldSeq {
		t.Error("Snowflake generator should not be reinitialized")
	}
	if ug.cipher != oldCipher {
		t.Error("Cipher should not be reinitialized")
	}
}

func TestUidGeneratorInitWithInvalidKey(t *testing.T) {
	ug := &UidGenerator{}

	// XTEA requires a 16 byte key.
	if err := ug.Init(1, []byte("short")); err == nil {
		t.Error("Expected error with short key")
	}

	ug2 := &UidGenerator{}
	if err := ug2.Init(1, nil); err == nil {
		t.Error("Expected error with nil key")
	}
}

func TestUidGeneratorGet(t *testing.T) {
	ug := &UidGenerator{}
	if err := ug.Init(1, []byte("testkey1testkey2")); err != nil {
		t.Fatalf("Failed to initialize generator: %v", err)
	}

	uid1 := ug.Get()
	if uid1 == ZeroUid {
		t.Error("Generated UID should not be zero")
	}
	uid2 := ug.Get()
	if uid2 == ZeroUid {
		t.Error("Generated UID should not be zero")
	}
	if uid1 == uid2 {
		t.Error("Consecutive UIDs should be distinct")
	}
}

func TestUidGeneratorGetStr(t *testing.T) {
	ug := &UidGenerator{}
	if err := ug.Init(1, []byte("testkey1testkey2")); err != nil {
		t.Fatalf("Failed to initialize generator: %v", err)
	}

	str := ug.GetStr()
	if str == "" {
		t.Error("Generated UID string should not be empty")
	}
	if len(str) != 11 {
		t.Errorf("UID string length: expected 11, got %d", len(str))
	}
}

func TestUidGeneratorDecodeEncode(t *testing.T) {
	ug := &UidGenerator{}
	if err := ug.Init(1, []byte("testkey1testkey2")); err != nil {
		t.Fatalf("Failed to initialize generator: %v", err)
	}

	// Decoding a generated UID produces a positive value that fits a
	// signed BIGINT, and encoding it back restores the UID exactly.
	for i := 0; i < 16; i++ {
		uid := ug.Get()
		decoded := ug.DecodeUid(uid)
		if decoded <= 0 {
			t.Errorf("Decoded value should be positive, got %d", decoded)
		}
		if back := ug.EncodeInt64(decoded); back != uid {
			t.Errorf("Roundtrip mismatch: %d != %d", back, uid)
		}
	}
}
