// Package ecc wraps the ECDHE key agreement the TLS cipher needs:
// per-curve ephemeral key generation, SEC1 public-point export, and
// shared-secret computation. The point arithmetic itself is delegated to
// crypto/ecdh's constant-time P-256/P-384 implementations; hand-rolling
// prime-field math buys nothing here but side-channel risk.
package ecc

import (
	"crypto/ecdh"
	"crypto/rand"

	"github.com/yourusername/pirtls/pkg/pir/pirerr"
)

// Curve identifies which named_group TlsClient negotiated.
type Curve int

const (
	P256 Curve = iota
	P384
)

func (c Curve) ecdhCurve() ecdh.Curve {
	if c == P384 {
		return ecdh.P384()
	}
	return ecdh.P256()
}

// KeyPair is an ephemeral ECDHE key pair scoped to one connection.
type KeyPair struct {
	curve   Curve
	private *ecdh.PrivateKey
}

// NewKeyPair generates a fresh ephemeral key pair on curve.
func NewKeyPair(curve Curve) (*KeyPair, error) {
	priv, err := curve.ecdhCurve().GenerateKey(rand.Reader)
	if err != nil {
		return nil, pirerr.Wrap(err, pirerr.EccInitFailed)
	}
	return &KeyPair{curve: curve, private: priv}, nil
}

// PublicKeyBytes returns the uncompressed point encoding to place in the
// ClientHello key_share extension.
func (k *KeyPair) PublicKeyBytes() []byte {
	return k.private.PublicKey().Bytes()
}

// ComputeSharedSecret derives the ECDH shared secret from the server's
// key_share point; for the NIST curves this is the big-endian X coordinate
// of the scalar product.
func (k *KeyPair) ComputeSharedSecret(peerPublic []byte) ([]byte, error) {
	peer, err := k.curve.ecdhCurve().NewPublicKey(peerPublic)
	if err != nil {
		return nil, pirerr.Wrap(err, pirerr.EccSharedSecretFailed)
	}
	secret, err := k.private.ECDH(peer)
	if err != nil {
		return nil, pirerr.Wrap(err, pirerr.EccSharedSecretFailed)
	}
	return secret, nil
}
