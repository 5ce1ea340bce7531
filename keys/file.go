package keys

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
)

// FileSigner signs with an ECDSA P-256 private key held in process memory,
// loaded from a PEM file or a base64-encoded raw key.
type FileSigner struct {
	privateKey *ecdsa.PrivateKey
	publicKey  []byte // uncompressed format
}

// NewFileSigner loads a VAPID private key from a PEM file.
func NewFileSigner(path string) (*FileSigner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading private key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	privKey, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing EC private key: %w", err)
	}
	if privKey.Curve != elliptic.P256() {
		return nil, fmt.Errorf("key must be P-256 curve")
	}

	return newFileSigner(privKey), nil
}

// NewFileSignerFromBase64 creates a FileSigner from a base64url-encoded
// 32-byte private key, the format GenerateKeyPair emits.
func NewFileSignerFromBase64(privateKeyB64 string) (*FileSigner, error) {
	raw, err := base64.RawURLEncoding.DecodeString(privateKeyB64)
	if err != nil {
		return nil, fmt.Errorf("decoding private key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(raw))
	}

	privKey := new(ecdsa.PrivateKey)
	privKey.Curve = elliptic.P256()
	privKey.D = new(big.Int).SetBytes(raw)
	privKey.X, privKey.Y = privKey.Curve.ScalarBaseMult(raw)

	return newFileSigner(privKey), nil
}

func newFileSigner(privKey *ecdsa.PrivateKey) *FileSigner {
	return &FileSigner{
		privateKey: privKey,
		publicKey:  elliptic.Marshal(privKey.Curve, privKey.X, privKey.Y),
	}
}

// Sign signs the given data using ECDSA and returns the signature in IEEE
// P1363 format.
func (s *FileSigner) Sign(_ context.Context, data []byte) ([]byte, error) {
	r, ss, err := ecdsa.Sign(rand.Reader, s.privateKey, data)
	if err != nil {
		return nil, fmt.Errorf("signing: %w", err)
	}
	return p1363(r.Bytes(), ss.Bytes()), nil
}

// PublicKey returns the ECDSA public key in uncompressed format.
func (s *FileSigner) PublicKey() []byte {
	return s.publicKey
}

// PublicKeyBase64 returns the public key as a base64url-encoded string.
func (s *FileSigner) PublicKeyBase64() string {
	return ApplicationServerKey(s.publicKey)
}

// GenerateKey generates a new ECDSA P-256 key pair and saves the private key
// to a PEM file readable only by the owner.
func GenerateKey(path string) (*FileSigner, error) {
	privKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}

	der, err := x509.MarshalECPrivateKey(privKey)
	if err != nil {
		return nil, fmt.Errorf("marshaling private key: %w", err)
	}
	block := &pem.Block{Type: "EC PRIVATE KEY", Bytes: der}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		return nil, fmt.Errorf("writing private key: %w", err)
	}

	return newFileSigner(privKey), nil
}

// GenerateKeyPair generates a new key pair and returns both keys in
// base64url format: the private key as a raw 32-byte integer, the public key
// as an uncompressed point.
func GenerateKeyPair() (privateKeyB64, publicKeyB64 string, err error) {
	privKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generating key: %w", err)
	}

	d := privKey.D.Bytes()
	padded := make([]byte, 32)
	copy(padded[32-len(d):], d)

	pub := elliptic.Marshal(privKey.Curve, privKey.X, privKey.Y)
	return base64.RawURLEncoding.EncodeToString(padded), base64.RawURLEncoding.EncodeToString(pub), nil
}
