// Package tlscipher implements the TLS 1.3 key schedule and per-record
// AEAD framing: the glue between the from-scratch hash/hkdf/
// chacha20poly1305 primitives and the handshake state machine in
// tlsclient.
package tlscipher

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/yourusername/pirtls/pkg/pir/chacha20poly1305"
	"github.com/yourusername/pirtls/pkg/pir/ecc"
	"github.com/yourusername/pirtls/pkg/pir/hash"
	"github.com/yourusername/pirtls/pkg/pir/hkdf"
	"github.com/yourusername/pirtls/pkg/pir/pirerr"
)

// HashSize is the transcript and key-schedule hash length: this client
// only negotiates TLS_CHACHA20_POLY1305_SHA256, so it is always 32.
const HashSize = 32

// KeySize is the ChaCha20 key length.
const KeySize = chacha20poly1305.KeySize

// IVSize is the per-direction ChaCha20-Poly1305 nonce length.
const IVSize = 12

func newDigest() hash.Digest { return hash.NewSHA256() }

// contentTypeApplicationData is the outer record content type TLS 1.3
// always uses once encryption is active (RFC 8446 §5.2) — the true
// content type is the trailing byte of the plaintext instead.
const contentTypeApplicationData = 0x17

// Cipher holds the running transcript hash, the per-curve ephemeral ECDHE
// key pairs, and the derived traffic keys for one TLS connection. The zero
// value is not usable; construct with New.
type Cipher struct {
	keyPairs [2]*ecc.KeyPair // indexed by ecc.Curve, created lazily on first use

	transcript hash.Digest

	clientRandom [32]byte

	pseudoRandomKey     []byte // running PRK: Early Secret -> Handshake Secret -> Master Secret
	clientTrafficSecret []byte // c hs traffic, then c ap traffic after the key change
	serverTrafficSecret []byte // s hs traffic, then s ap traffic after the key change

	localKey, localIV   []byte
	remoteKey, remoteIV []byte

	clientSeqNum uint64
	serverSeqNum uint64

	encoding bool
}

// New returns a fresh Cipher with an initialised transcript hash.
func New() *Cipher {
	return &Cipher{transcript: hash.NewSHA256()}
}

// Reset clears all derived key material and the transcript hash. Secret
// bytes are zeroed in place before the slices are dropped.
func (c *Cipher) Reset() {
	c.zeroSecrets()
	c.keyPairs = [2]*ecc.KeyPair{}
	c.transcript = hash.NewSHA256()
	c.clientRandom = [32]byte{}
	c.pseudoRandomKey = nil
	c.clientTrafficSecret = nil
	c.serverTrafficSecret = nil
	c.localKey, c.localIV = nil, nil
	c.remoteKey, c.remoteIV = nil, nil
	c.clientSeqNum, c.serverSeqNum = 0, 0
	c.encoding = false
}

// Destroy is Reset plus the guarantee that no derived secret survives in
// this Cipher's memory. Call it when the connection is done with the
// Cipher for good.
func (c *Cipher) Destroy() {
	c.Reset()
}

func (c *Cipher) zeroSecrets() {
	for _, s := range [][]byte{
		c.pseudoRandomKey,
		c.clientTrafficSecret, c.serverTrafficSecret,
		c.localKey, c.localIV,
		c.remoteKey, c.remoteIV,
	} {
		for i := range s {
			s[i] = 0
		}
	}
}

// CreateClientRandom fills and returns the 32-byte ClientHello random.
// The bytes are retained so the handshake layer can reference them after
// the hello is built.
func (c *Cipher) CreateClientRandom() ([]byte, error) {
	if _, err := rand.Read(c.clientRandom[:]); err != nil {
		return nil, pirerr.Wrap(err, pirerr.TlsClientHelloFailed)
	}
	return c.clientRandom[:], nil
}

// UpdateHash feeds a handshake message into the running transcript hash.
// Every handshake message must pass through here in wire order, record
// header excluded, before any derived secret depends on it.
func (c *Cipher) UpdateHash(p []byte) {
	c.transcript.Write(p)
}

// TranscriptHash returns Hash(messages written so far). Calling it does
// not consume or reset the running transcript.
func (c *Cipher) TranscriptHash() []byte {
	return c.transcript.Sum(nil)
}

// ComputePublicKey returns the uncompressed SEC1 public point for curve,
// generating the ephemeral key pair on first use. Both curves' points go
// into the ClientHello key_share; only the one the server selects is ever
// used for the shared secret.
func (c *Cipher) ComputePublicKey(curve ecc.Curve) ([]byte, error) {
	if c.keyPairs[curve] == nil {
		kp, err := ecc.NewKeyPair(curve)
		if err != nil {
			return nil, pirerr.Wrap(err, pirerr.TlsCipherComputePublicKeyFailed)
		}
		c.keyPairs[curve] = kp
	}
	return c.keyPairs[curve].PublicKeyBytes(), nil
}

func emptyHash() []byte {
	d := hash.NewSHA256()
	return d.Sum(nil)
}

// ComputeHandshakeKeys derives the client/server handshake traffic keys
// from the server's key_share public value on the curve the server
// selected. It must be called once, right after ServerHello is hashed into
// the transcript and before EncryptedExtensions is parsed.
func (c *Cipher) ComputeHandshakeKeys(curve ecc.Curve, serverPublic []byte) error {
	if c.keyPairs[curve] == nil {
		return pirerr.New(pirerr.TlsCipherComputeKeyFailed)
	}

	premaster, err := c.keyPairs[curve].ComputeSharedSecret(serverPublic)
	if err != nil {
		return pirerr.Wrap(err, pirerr.TlsCipherComputePreKeyFailed)
	}

	earlySecret := hkdf.Extract(newDigest, nil, make([]byte, HashSize))
	derivedSalt := hkdf.ExpandLabel(newDigest, earlySecret, "derived", emptyHash(), HashSize)
	c.pseudoRandomKey = hkdf.Extract(newDigest, derivedSalt, premaster)

	transcriptHash := c.TranscriptHash()
	c.clientTrafficSecret = hkdf.ExpandLabel(newDigest, c.pseudoRandomKey, "c hs traffic", transcriptHash, HashSize)
	c.serverTrafficSecret = hkdf.ExpandLabel(newDigest, c.pseudoRandomKey, "s hs traffic", transcriptHash, HashSize)

	return c.installTrafficKeys()
}

// ComputeApplicationKeys derives the client/server application traffic
// keys from the Master Secret. finishedHash is the transcript hash snapshot at
// the point the server's Finished message was fully processed
// (Transcript-Hash(ClientHello..ServerFinished), RFC 8446 §7.1) — it is
// passed explicitly rather than read live because by the time application
// keys are installed the running transcript may already include the
// client's own Finished message.
func (c *Cipher) ComputeApplicationKeys(finishedHash []byte) error {
	if c.pseudoRandomKey == nil {
		return pirerr.New(pirerr.TlsCipherComputeKeyFailed)
	}

	derivedSalt := hkdf.ExpandLabel(newDigest, c.pseudoRandomKey, "derived", emptyHash(), HashSize)
	c.pseudoRandomKey = hkdf.Extract(newDigest, derivedSalt, make([]byte, HashSize))

	for _, s := range [][]byte{c.clientTrafficSecret, c.serverTrafficSecret} {
		for i := range s {
			s[i] = 0
		}
	}
	c.clientTrafficSecret = hkdf.ExpandLabel(newDigest, c.pseudoRandomKey, "c ap traffic", finishedHash, HashSize)
	c.serverTrafficSecret = hkdf.ExpandLabel(newDigest, c.pseudoRandomKey, "s ap traffic", finishedHash, HashSize)

	return c.installTrafficKeys()
}

func (c *Cipher) installTrafficKeys() error {
	// Handshake keys being replaced by application keys must not linger.
	for _, s := range [][]byte{c.localKey, c.localIV, c.remoteKey, c.remoteIV} {
		for i := range s {
			s[i] = 0
		}
	}
	c.localKey = hkdf.ExpandLabel(newDigest, c.clientTrafficSecret, "key", nil, KeySize)
	c.localIV = hkdf.ExpandLabel(newDigest, c.clientTrafficSecret, "iv", nil, IVSize)
	c.remoteKey = hkdf.ExpandLabel(newDigest, c.serverTrafficSecret, "key", nil, KeySize)
	c.remoteIV = hkdf.ExpandLabel(newDigest, c.serverTrafficSecret, "iv", nil, IVSize)
	c.encoding = true
	c.clientSeqNum, c.serverSeqNum = 0, 0
	return nil
}

// IsEncoding reports whether traffic keys are installed: Encode/Decode
// pass data through unchanged before the first call to
// ComputeHandshakeKeys.
func (c *Cipher) IsEncoding() bool { return c.encoding }

// ComputeVerify computes the HMAC Finished-message verify data for either
// side: local selects the client-traffic-secret-derived finished key,
// !local the server side.
func (c *Cipher) ComputeVerify(local bool) []byte {
	var finishedKey []byte
	if local {
		finishedKey = hkdf.ExpandLabel(newDigest, c.clientTrafficSecret, "finished", nil, HashSize)
	} else {
		finishedKey = hkdf.ExpandLabel(newDigest, c.serverTrafficSecret, "finished", nil, HashSize)
	}
	return hash.Sum(newDigest, finishedKey, c.TranscriptHash())
}

// recordAAD builds the 13-byte ChaCha20-Poly1305 associated data for one
// TLS 1.3 record: outer content type, legacy record version, ciphertext
// length, and the 8-byte big-endian sequence number.
func recordAAD(version uint16, ciphertextLen int, seqNum uint64) []byte {
	aad := make([]byte, 13)
	aad[0] = contentTypeApplicationData
	binary.BigEndian.PutUint16(aad[1:], version)
	binary.BigEndian.PutUint16(aad[3:], uint16(ciphertextLen))
	binary.BigEndian.PutUint64(aad[5:], seqNum)
	return aad
}

func nonceFor(iv []byte, seqNum uint64) []byte {
	nonce := make([]byte, len(iv))
	copy(nonce, iv)
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], seqNum)
	for i := 0; i < 8; i++ {
		nonce[len(nonce)-8+i] ^= seqBytes[i]
	}
	return nonce
}

// Encode seals one TLS inner plaintext (handshake/application data bytes
// followed by the trailing content-type byte, RFC 8446 §5.2) into a
// ciphertext ready to follow the 5-byte record header. version is the
// record layer's legacy version field (0x0303).
func (c *Cipher) Encode(innerPlaintext []byte, version uint16) []byte {
	if !c.encoding {
		return innerPlaintext
	}
	ciphertextLen := len(innerPlaintext) + chacha20poly1305.TagSize
	aad := recordAAD(version, ciphertextLen, c.clientSeqNum)
	nonce := nonceFor(c.localIV, c.clientSeqNum)
	c.clientSeqNum++
	return chacha20poly1305.Seal(c.localKey, nonce, innerPlaintext, aad)
}

// Decode opens one received TLS record body, stripping the Poly1305 tag
// and returning the inner plaintext (still carrying its trailing real
// content-type byte).
func (c *Cipher) Decode(recordBody []byte, version uint16) ([]byte, error) {
	if !c.encoding {
		return recordBody, nil
	}
	aad := recordAAD(version, len(recordBody), c.serverSeqNum)
	nonce := nonceFor(c.remoteIV, c.serverSeqNum)
	c.serverSeqNum++
	plaintext, err := chacha20poly1305.Open(c.remoteKey, nonce, recordBody, aad)
	if err != nil {
		return nil, pirerr.Wrap(err, pirerr.TlsCipherDecodeFailed)
	}
	return plaintext, nil
}
