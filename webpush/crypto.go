package webpush

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/fonzu/push"
)

// aes128gcm record layout: salt (16) || rs (4) || idlen (1) || keyid (65 for
// an uncompressed P-256 point), then the sealed record.
const headerLen = 16 + 4 + 1 + 65

// encrypt seals plaintext for the subscription keys per RFC 8291 (aes128gcm,
// single record). A fresh ephemeral server key and salt are generated per
// message.
func encrypt(keys push.Keys, plaintext []byte) ([]byte, error) {
	clientPub, authSecret, err := decodeKeys(keys)
	if err != nil {
		return nil, err
	}

	serverPriv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating ephemeral key: %w", err)
	}
	serverPub := serverPriv.PublicKey()

	shared, err := serverPriv.ECDH(clientPub)
	if err != nil {
		return nil, fmt.Errorf("computing shared secret: %w", err)
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}

	// PRK = HKDF(auth_secret, ecdh_secret, "WebPush: info" || client || server)
	info := append([]byte("WebPush: info\x00"), clientPub.Bytes()...)
	info = append(info, serverPub.Bytes()...)
	prk, err := derive(shared, authSecret, info, 32)
	if err != nil {
		return nil, fmt.Errorf("deriving PRK: %w", err)
	}

	cek, err := derive(prk, salt, []byte("Content-Encoding: aes128gcm\x00"), 16)
	if err != nil {
		return nil, fmt.Errorf("deriving CEK: %w", err)
	}
	nonce, err := derive(prk, salt, []byte("Content-Encoding: nonce\x00"), 12)
	if err != nil {
		return nil, fmt.Errorf("deriving nonce: %w", err)
	}

	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	// 0x02 delimiter marks the last (only) record.
	sealed := gcm.Seal(nil, nonce, append(plaintext, 0x02), nil)

	out := make([]byte, 0, headerLen+len(sealed))
	out = append(out, salt...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(sealed)+headerLen))
	out = append(out, byte(len(serverPub.Bytes())))
	out = append(out, serverPub.Bytes()...)
	return append(out, sealed...), nil
}

// decodeKeys parses the subscription's base64url key material.
func decodeKeys(keys push.Keys) (*ecdh.PublicKey, []byte, error) {
	p256dh, err := base64.RawURLEncoding.DecodeString(keys.P256dh)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding p256dh: %w", err)
	}
	auth, err := base64.RawURLEncoding.DecodeString(keys.Auth)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding auth: %w", err)
	}
	pub, err := ecdh.P256().NewPublicKey(p256dh)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing client public key: %w", err)
	}
	return pub, auth, nil
}

func derive(secret, salt, info []byte, n int) ([]byte, error) {
	out := make([]byte, n)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, info), out); err != nil {
		return nil, err
	}
	return out, nil
}
