// Package rec1 implements the REC1 credential envelope: a Twofish-OFB
// stream cipher over "{sid} {username} {client_key}", keyed by a session
// id and server timestamp so the same plaintext never encrypts to the
// same bytes twice.
package rec1

import (
	"crypto/cipher"
	"crypto/sha512"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/twofish"
)

// DeriveKey builds the 32-byte Twofish key for a session. Most bytes are a
// fixed ramp (0x17+i); a handful of indices are overwritten with the
// little-endian bytes of sid/timeSecs/timeMillis. The specific indices and
// the gaps between them are load-bearing and must not be "cleaned up" —
// they are exactly what the server-side decrypt expects.
func DeriveKey(sid uint16, timeSecs, timeMillis uint32) [32]byte {
	var key [32]byte
	for i := range key {
		key[i] = 0x17 + byte(i)
	}

	var sidBytes [2]byte
	binary.LittleEndian.PutUint16(sidBytes[:], sid)
	var secsBytes [4]byte
	binary.LittleEndian.PutUint32(secsBytes[:], timeSecs)
	var millisBytes [4]byte
	binary.LittleEndian.PutUint32(millisBytes[:], timeMillis)

	key[4] = sidBytes[0]
	key[5] = 0
	key[6] = sidBytes[1]
	key[8] = secsBytes[0]
	key[9] = secsBytes[2]
	key[12] = secsBytes[1]
	key[13] = secsBytes[3]
	key[14] = millisBytes[0]
	key[15] = millisBytes[1]

	return key
}

// DeriveNonce builds the fixed 16-byte OFB IV: a descending ramp from
// 0xB6. It does not depend on session state.
func DeriveNonce() [16]byte {
	var iv [16]byte
	for i := range iv {
		iv[i] = 0xB6 - byte(i)
	}
	return iv
}

// GenCK1 derives the first-stage client key from the account password and
// session parameters: base64(SHA512(base64(SHA512(password)) ++
// "{sid}{timeSecs}{timeMillis}")).
func GenCK1(password string, sid uint16, timeSecs, timeMillis uint32) string {
	passwordHash := sha512.Sum512([]byte(password))
	passwordHashB64 := base64.StdEncoding.EncodeToString(passwordHash[:])

	h := sha512.New()
	h.Write([]byte(passwordHashB64))
	fmt.Fprintf(h, "%d%d%d", sid, timeSecs, timeMillis)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func newStream(sid uint16, timeSecs, timeMillis uint32) (cipher.Stream, error) {
	key := DeriveKey(sid, timeSecs, timeMillis)
	nonce := DeriveNonce()

	block, err := twofish.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("rec1: twofish key setup: %w", err)
	}
	return cipher.NewOFB(block, nonce[:]), nil
}

// EncryptRec1 builds and encrypts the "{sid} {username} {clientKey}"
// record. OFB is a self-inverse stream cipher, so DecryptRec1 runs the
// exact same transform over already-encrypted bytes.
func EncryptRec1(sid uint16, username, clientKey string, timeSecs, timeMillis uint32) ([]byte, error) {
	record := []byte(fmt.Sprintf("%d %s %s", sid, username, clientKey))

	stream, err := newStream(sid, timeSecs, timeMillis)
	if err != nil {
		return nil, err
	}
	stream.XORKeyStream(record, record)
	return record, nil
}

// GenRec1 derives CK1 from the password and encrypts the full record in
// one call — the client-side path used to build MSG_USER_AUTHEN_V3's
// Rec1 argument.
func GenRec1(username, password string, sid uint16, timeSecs, timeMillis uint32) ([]byte, error) {
	clientKey := GenCK1(password, sid, timeSecs, timeMillis)
	return EncryptRec1(sid, username, clientKey, timeSecs, timeMillis)
}

// DecryptRec1 reverses EncryptRec1/GenRec1 into a new buffer (rec1 is left
// unchanged) and returns the decoded "{sid} {username} {clientKey}"
// string — used to recover CK2 from the server's reply.
func DecryptRec1(rec1 []byte, sid uint16, timeSecs, timeMillis uint32) (string, error) {
	stream, err := newStream(sid, timeSecs, timeMillis)
	if err != nil {
		return "", err
	}
	out := make([]byte, len(rec1))
	stream.XORKeyStream(out, rec1)
	return string(out), nil
}
