// Generator of API keys used by the server to identify client applications.
package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"flag"
	"fmt"
	"os"
)

// API key composition:
//
//	[1:algorithm version][4:appid][2:key sequence][1:isRoot][16:signature] = 24 bytes
//
// convertible to base64 without padding. All integers are little-endian.
// The appid field is deprecated and filled with random bytes.
const (
	apikeyVersion   = 1
	apikeyAppID     = 4
	apikeySequence  = 2
	apikeyWho       = 1
	apikeySignature = 16
	apikeyLength    = apikeyVersion + apikeyAppID + apikeySequence + apikeyWho + apikeySignature
)

func main() {
	var sequence = flag.Int("sequence", 1, "Sequential number of the API key.")
	var isRoot = flag.Int("isroot", 0, "Is this a root API key?")
	var apikey = flag.String("validate", "", "API key to validate.")
	var hmacSalt = flag.String("salt", "", "base64-encoded 32-byte salt to sign the key with, random if missing.")

	flag.Parse()

	if *apikey != "" {
		os.Exit(validate(*apikey, *hmacSalt))
	} else {
		os.Exit(generate(*sequence, *isRoot, *hmacSalt))
	}
}

func generate(sequence, isRoot int, hmacSalt string) int {
	var salt []byte
	if hmacSalt == "" {
		salt = make([]byte, 32)
		if _, err := rand.Read(salt); err != nil {
			fmt.Println("failed to generate salt", err)
			return 1
		}
	} else {
		var err error
		salt, err = base64.StdEncoding.DecodeString(hmacSalt)
		if err != nil {
			fmt.Println("failed to decode salt", err)
			return 1
		}
	}

	var data [apikeyLength]byte
	data[0] = 1 // default algorithm
	if _, err := rand.Read(data[apikeyVersion : apikeyVersion+apikeyAppID]); err != nil {
		fmt.Println("failed to generate the key", err)
		return 1
	}
	binary.LittleEndian.PutUint16(data[apikeyVersion+apikeyAppID:], uint16(sequence))
	data[apikeyVersion+apikeyAppID+apikeySequence] = uint8(isRoot)

	hasher := hmac.New(md5.New, salt)
	hasher.Write(data[:apikeyVersion+apikeyAppID+apikeySequence+apikeyWho])
	signature := hasher.Sum(nil)
	copy(data[apikeyVersion+apikeyAppID+apikeySequence+apikeyWho:], signature)

	var strIsRoot string
	if isRoot == 1 {
		strIsRoot = "ROOT"
	} else {
		strIsRoot = "ordinary"
	}

	fmt.Printf("API key v1 seq%d [%s]: %s\nHMAC salt: %s\n", sequence, strIsRoot,
		base64.URLEncoding.EncodeToString(data[:]),
		base64.StdEncoding.EncodeToString(salt))
	return 0
}

func validate(apikey, hmacSalt string) int {
	var version uint8
	var appid uint32
	var sequence uint16
	var isRoot uint8

	salt, err := base64.StdEncoding.DecodeString(hmacSalt)
	if err != nil {
		fmt.Println("failed to decode salt", err)
		return 1
	}

	if declen := base64.URLEncoding.DecodedLen(len(apikey)); declen != apikeyLength {
		fmt.Println("invalid key length", declen)
		return 1
	}

	data, err := base64.URLEncoding.DecodeString(apikey)
	if err != nil {
		fmt.Println("failed to decode key", err)
		return 1
	}

	buf := bytes.NewReader(data)
	binary.Read(buf, binary.LittleEndian, &version)

	if version != 1 {
		fmt.Println("unknown signature algorithm", data[0])
		return 1
	}

	hasher := hmac.New(md5.New, salt)
	hasher.Write(data[:apikeyVersion+apikeyAppID+apikeySequence+apikeyWho])
	signature := hasher.Sum(nil)

	if !bytes.Equal(data[apikeyVersion+apikeyAppID+apikeySequence+apikeyWho:], signature) {
		fmt.Println("invalid signature")
		return 1
	}

	binary.Read(buf, binary.LittleEndian, &appid)
	binary.Read(buf, binary.LittleEndian, &sequence)
	binary.Read(buf, binary.LittleEndian, &isRoot)

	var strIsRoot string
	if isRoot == 1 {
		strIsRoot = "ROOT"
	} else {
		strIsRoot = "ordinary"
	}

	fmt.Printf("Valid v%d seq%d, %s\n", version, sequence, strIsRoot)
	return 0
}
