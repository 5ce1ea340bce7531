// Package keys provides VAPID key material: ECDSA P-256 signers backed by a
// PEM file, a raw base64 key, or Google Cloud KMS.
package keys

import (
	"context"
	"encoding/base64"
)

// Signer provides VAPID signing functionality.
// This mirrors the webpush.Signer interface to avoid import cycles.
type Signer interface {
	// Sign signs the given data and returns the signature.
	Sign(ctx context.Context, data []byte) ([]byte, error)
	// PublicKey returns the ECDSA public key in uncompressed format.
	PublicKey() []byte
}

// ApplicationServerKey returns the VAPID public key formatted for the
// JavaScript PushManager.subscribe() applicationServerKey option.
func ApplicationServerKey(publicKey []byte) string {
	return base64.RawURLEncoding.EncodeToString(publicKey)
}

// DecodeApplicationServerKey decodes a base64url-encoded application server key.
func DecodeApplicationServerKey(key string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(key)
}

// p1363 converts an ECDSA signature's r and s to IEEE P1363 format
// (r || s, each 32 bytes for P-256), as Web Push JWTs require.
func p1363(rBytes, sBytes []byte) []byte {
	sig := make([]byte, 64)
	copy(sig[32-len(rBytes):32], rBytes)
	copy(sig[64-len(sBytes):64], sBytes)
	return sig
}
