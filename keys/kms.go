package keys

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"encoding/asn1"
	"encoding/pem"
	"fmt"
	"math/big"

	kms "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
)

// KMSSigner signs VAPID JWTs with a key held in Google Cloud KMS, so the
// private key never enters process memory.
type KMSSigner struct {
	client    *kms.KeyManagementClient
	keyName   string
	publicKey []byte // uncompressed format
}

// NewKMSSigner creates a KMS-backed signer. keyName is the full version path:
// projects/{project}/locations/{location}/keyRings/{keyRing}/cryptoKeys/{key}/cryptoKeyVersions/{version}
func NewKMSSigner(ctx context.Context, keyName string) (*KMSSigner, error) {
	client, err := kms.NewKeyManagementClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating KMS client: %w", err)
	}

	resp, err := client.GetPublicKey(ctx, &kmspb.GetPublicKeyRequest{Name: keyName})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("getting public key: %w", err)
	}

	block, _ := pem.Decode([]byte(resp.Pem))
	if block == nil {
		client.Close()
		return nil, fmt.Errorf("failed to parse public key PEM")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	pubKey, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		client.Close()
		return nil, fmt.Errorf("key is not ECDSA")
	}
	if pubKey.Curve != elliptic.P256() {
		client.Close()
		return nil, fmt.Errorf("key must be P-256 curve")
	}

	return &KMSSigner{
		client:    client,
		keyName:   keyName,
		publicKey: elliptic.Marshal(pubKey.Curve, pubKey.X, pubKey.Y),
	}, nil
}

// Sign signs the given digest using KMS and returns the signature in IEEE
// P1363 format.
func (s *KMSSigner) Sign(ctx context.Context, data []byte) ([]byte, error) {
	resp, err := s.client.AsymmetricSign(ctx, &kmspb.AsymmetricSignRequest{
		Name: s.keyName,
		Digest: &kmspb.Digest{
			Digest: &kmspb.Digest_Sha256{Sha256: data},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("signing with KMS: %w", err)
	}

	// KMS returns a DER-encoded signature.
	var sig struct {
		R, S *big.Int
	}
	if _, err := asn1.Unmarshal(resp.Signature, &sig); err != nil {
		return nil, fmt.Errorf("parsing DER signature: %w", err)
	}
	return p1363(sig.R.Bytes(), sig.S.Bytes()), nil
}

// PublicKey returns the ECDSA public key in uncompressed format.
func (s *KMSSigner) PublicKey() []byte {
	return s.publicKey
}

// PublicKeyBase64 returns the public key as a base64url-encoded string.
func (s *KMSSigner) PublicKeyBase64() string {
	return ApplicationServerKey(s.publicKey)
}

// Close closes the underlying KMS client.
func (s *KMSSigner) Close() error {
	return s.client.Close()
}
