package tlsclient

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"
	"log"
	"net"
	"testing"

	"github.com/yourusername/pirtls/pkg/pir/chacha20poly1305"
	"github.com/yourusername/pirtls/pkg/pir/ecc"
	"github.com/yourusername/pirtls/pkg/pir/hash"
	"github.com/yourusername/pirtls/pkg/pir/hkdf"
	"github.com/yourusername/pirtls/pkg/pir/pirerr"
	"github.com/yourusername/pirtls/pkg/pir/tlscipher"
)

var quiet = log.New(io.Discard, "", 0)

func newDigest() hash.Digest { return hash.NewSHA256() }

// --- record-layer helpers shared by the test server ---

func readRecordFrom(conn net.Conn) (byte, []byte, error) {
	hdr := make([]byte, 5)
	if _, err := io.ReadFull(conn, hdr); err != nil {
		return 0, nil, err
	}
	n := int(binary.BigEndian.Uint16(hdr[3:5]))
	body := make([]byte, n)
	if _, err := io.ReadFull(conn, body); err != nil {
		return 0, nil, err
	}
	return hdr[0], body, nil
}

func writeRecordTo(conn net.Conn, recordType byte, body []byte) error {
	out := make([]byte, 0, 5+len(body))
	out = append(out, recordType, 0x03, 0x03, byte(len(body)>>8), byte(len(body)))
	out = append(out, body...)
	_, err := conn.Write(out)
	return err
}

func aad13(ciphertextLen int, seq uint64) []byte {
	aad := make([]byte, 13)
	aad[0] = contentApplicationData
	binary.BigEndian.PutUint16(aad[1:], legacyRecordVersion)
	binary.BigEndian.PutUint16(aad[3:], uint16(ciphertextLen))
	binary.BigEndian.PutUint64(aad[5:], seq)
	return aad
}

func xorNonce(iv []byte, seq uint64) []byte {
	nonce := make([]byte, len(iv))
	copy(nonce, iv)
	var sb [8]byte
	binary.BigEndian.PutUint64(sb[:], seq)
	for i := 0; i < 8; i++ {
		nonce[len(nonce)-8+i] ^= sb[i]
	}
	return nonce
}

// testServerKeys is one direction pair of record-protection keys for the
// in-test TLS 1.3 server, derived independently of the tlscipher package
// so the test cross-checks the client against a second implementation of
// the same schedule.
type testServerKeys struct {
	sendKey, sendIV []byte // server -> client
	recvKey, recvIV []byte // client -> server
	sendSeq, recvSeq uint64
}

func trafficKeys(secret []byte) ([]byte, []byte) {
	key := hkdf.ExpandLabel(newDigest, secret, "key", nil, 32)
	iv := hkdf.ExpandLabel(newDigest, secret, "iv", nil, 12)
	return key, iv
}

func (k *testServerKeys) sealTo(conn net.Conn, innerType byte, msg []byte, tamper bool) error {
	inner := make([]byte, 0, len(msg)+1)
	inner = append(inner, msg...)
	inner = append(inner, innerType)
	ct := chacha20poly1305.Seal(k.sendKey, xorNonce(k.sendIV, k.sendSeq), inner, aad13(len(inner)+16, k.sendSeq))
	k.sendSeq++
	if tamper {
		ct[0] ^= 0x01
	}
	return writeRecordTo(conn, contentApplicationData, ct)
}

func (k *testServerKeys) openFrom(conn net.Conn) (byte, []byte, error) {
	recordType, body, err := readRecordFrom(conn)
	if err != nil {
		return 0, nil, err
	}
	if recordType != contentApplicationData {
		return recordType, body, nil
	}
	inner, err := chacha20poly1305.Open(k.recvKey, xorNonce(k.recvIV, k.recvSeq), body, aad13(len(body), k.recvSeq))
	if err != nil {
		return 0, nil, err
	}
	k.recvSeq++
	if len(inner) == 0 {
		return 0, nil, errors.New("empty inner plaintext")
	}
	return inner[len(inner)-1], inner[:len(inner)-1], nil
}

// clientHelloKeyShare walks a raw ClientHello handshake message and
// returns the client's key_share public value for group 0x0017.
func clientHelloKeyShare(msg []byte) ([]byte, error) {
	if len(msg) < 4 || msg[0] != handshakeClientHello {
		return nil, errors.New("not a ClientHello")
	}
	p := msg[4:]
	p = p[2:]  // legacy_version
	p = p[32:] // random
	sidLen := int(p[0])
	p = p[1+sidLen:]
	csLen := int(binary.BigEndian.Uint16(p))
	p = p[2+csLen:]
	compLen := int(p[0])
	p = p[1+compLen:]
	extLen := int(binary.BigEndian.Uint16(p))
	p = p[2:]
	if len(p) != extLen {
		return nil, errors.New("extensions length mismatch")
	}
	for len(p) >= 4 {
		extType := binary.BigEndian.Uint16(p)
		ln := int(binary.BigEndian.Uint16(p[2:]))
		body := p[4 : 4+ln]
		p = p[4+ln:]
		if extType != extKeyShare {
			continue
		}
		shares := body[2:]
		for len(shares) >= 4 {
			group := binary.BigEndian.Uint16(shares)
			kl := int(binary.BigEndian.Uint16(shares[2:]))
			key := shares[4 : 4+kl]
			shares = shares[4+kl:]
			if namedGroup(group) == groupSecp256r1 {
				return key, nil
			}
		}
	}
	return nil, errors.New("no secp256r1 key_share")
}

type serverBehavior struct {
	swapCertBeforeEE bool // violate the handshake order the client enforces
	tamperEcho       bool // corrupt one ciphertext byte on the echoed record
	echoRecords      int  // application records to echo after the handshake
}

// serveTLS13 is a minimal TLS 1.3 server speaking exactly the profile the
// client offers: TLS_CHACHA20_POLY1305_SHA256 over secp256r1. It derives
// its key schedule straight from the hkdf/chacha20poly1305 primitives so
// any disagreement with the tlscipher package shows up as a handshake
// failure rather than two copies of the same bug agreeing with each other.
func serveTLS13(conn net.Conn, behavior serverBehavior) error {
	transcript := hash.NewSHA256()

	// ClientHello.
	recordType, chMsg, err := readRecordFrom(conn)
	if err != nil {
		return err
	}
	if recordType != contentHandshake {
		return errors.New("expected ClientHello record")
	}
	transcript.Write(chMsg)
	clientPub, err := clientHelloKeyShare(chMsg)
	if err != nil {
		return err
	}

	serverKP, err := ecc.NewKeyPair(ecc.P256)
	if err != nil {
		return err
	}
	shared, err := serverKP.ComputeSharedSecret(clientPub)
	if err != nil {
		return err
	}

	// ServerHello: echo the profile, carry supported_versions and our
	// key_share.
	serverPub := serverKP.PublicKeyBytes()
	shBody := make([]byte, 0, 128)
	shBody = append(shBody, 0x03, 0x03)
	var rnd [32]byte
	if _, err := rand.Read(rnd[:]); err != nil {
		return err
	}
	shBody = append(shBody, rnd[:]...)
	shBody = append(shBody, 0)          // session id, empty
	shBody = append(shBody, 0x13, 0x03) // TLS_CHACHA20_POLY1305_SHA256
	shBody = append(shBody, 0)          // null compression
	ksLen := 4 + len(serverPub)
	extLen := 6 + 4 + ksLen
	shBody = append(shBody, byte(extLen>>8), byte(extLen))
	shBody = append(shBody, 0x00, 0x2b, 0x00, 0x02, 0x03, 0x04) // supported_versions: 1.3
	shBody = append(shBody, 0x00, 0x33, byte(ksLen>>8), byte(ksLen))
	shBody = append(shBody, 0x00, 0x17, byte(len(serverPub)>>8), byte(len(serverPub)))
	shBody = append(shBody, serverPub...)

	shMsg := append([]byte{handshakeServerHello, byte(len(shBody) >> 16), byte(len(shBody) >> 8), byte(len(shBody))}, shBody...)
	transcript.Write(shMsg)
	if err := writeRecordTo(conn, contentHandshake, shMsg); err != nil {
		return err
	}

	// Handshake key schedule, server side.
	zeros := make([]byte, 32)
	emptyHash := hash.NewSHA256().Sum(nil)
	early := hkdf.Extract(newDigest, nil, zeros)
	derived := hkdf.ExpandLabel(newDigest, early, "derived", emptyHash, 32)
	hsSecret := hkdf.Extract(newDigest, derived, shared)
	th := transcript.Sum(nil)
	chts := hkdf.ExpandLabel(newDigest, hsSecret, "c hs traffic", th, 32)
	shts := hkdf.ExpandLabel(newDigest, hsSecret, "s hs traffic", th, 32)

	keys := &testServerKeys{}
	keys.sendKey, keys.sendIV = trafficKeys(shts)
	keys.recvKey, keys.recvIV = trafficKeys(chts)

	if err := writeRecordTo(conn, contentChangeCipherSpec, []byte{0x01}); err != nil {
		return err
	}

	eeMsg := []byte{handshakeEncryptedExtensions, 0, 0, 2, 0, 0}

	certBody := make([]byte, 0, 45)
	certBody = append(certBody, 0)          // certificate_request_context, empty
	certBody = append(certBody, 0, 0, 37)   // certificate_list length
	certBody = append(certBody, 0, 0, 32)   // cert_data length
	certBody = append(certBody, make([]byte, 32)...)
	certBody = append(certBody, 0, 0) // per-entry extensions, empty
	certMsg := append([]byte{handshakeCertificate, 0, 0, byte(len(certBody))}, certBody...)

	cvBody := make([]byte, 0, 68)
	cvBody = append(cvBody, 0x04, 0x03, 0x00, 0x40) // ecdsa_secp256r1_sha256, 64-byte signature
	cvBody = append(cvBody, make([]byte, 64)...)
	cvMsg := append([]byte{handshakeCertificateVerify, 0, 0, byte(len(cvBody))}, cvBody...)

	flight := [][]byte{eeMsg, certMsg, cvMsg}
	if behavior.swapCertBeforeEE {
		flight = [][]byte{certMsg, eeMsg, cvMsg}
	}
	for _, msg := range flight {
		transcript.Write(msg)
		if err := keys.sealTo(conn, contentHandshake, msg, false); err != nil {
			return err
		}
	}

	serverFK := hkdf.ExpandLabel(newDigest, shts, "finished", nil, 32)
	verify := hash.Sum(newDigest, serverFK, transcript.Sum(nil))
	finMsg := append([]byte{handshakeFinished, 0, 0, byte(len(verify))}, verify...)
	transcript.Write(finMsg)
	if err := keys.sealTo(conn, contentHandshake, finMsg, false); err != nil {
		return err
	}
	finishedHash := transcript.Sum(nil)

	// Client ChangeCipherSpec, then client Finished under handshake keys.
	recordType, body, err := readRecordFrom(conn)
	if err != nil {
		return err
	}
	if recordType != contentChangeCipherSpec || len(body) != 1 || body[0] != 0x01 {
		return errors.New("expected client ChangeCipherSpec")
	}
	innerType, finished, err := keys.openFrom(conn)
	if err != nil {
		return err
	}
	if innerType != contentHandshake || len(finished) != 4+32 || finished[0] != handshakeFinished {
		return errors.New("expected client Finished")
	}
	clientFK := hkdf.ExpandLabel(newDigest, chts, "finished", nil, 32)
	wantVerify := hash.Sum(newDigest, clientFK, finishedHash)
	if !bytes.Equal(finished[4:], wantVerify) {
		return errors.New("client Finished verify data mismatch")
	}

	// Application key schedule.
	derived2 := hkdf.ExpandLabel(newDigest, hsSecret, "derived", emptyHash, 32)
	master := hkdf.Extract(newDigest, derived2, zeros)
	caps := hkdf.ExpandLabel(newDigest, master, "c ap traffic", finishedHash, 32)
	saps := hkdf.ExpandLabel(newDigest, master, "s ap traffic", finishedHash, 32)
	keys.sendKey, keys.sendIV = trafficKeys(saps)
	keys.recvKey, keys.recvIV = trafficKeys(caps)
	keys.sendSeq, keys.recvSeq = 0, 0

	for i := 0; i < behavior.echoRecords; i++ {
		innerType, payload, err := keys.openFrom(conn)
		if err != nil {
			return err
		}
		if innerType != contentApplicationData {
			return errors.New("expected application data")
		}
		if err := keys.sealTo(conn, contentApplicationData, payload, behavior.tamperEcho); err != nil {
			return err
		}
	}
	return nil
}

// --- tests ---

// A full handshake against the independently-implemented test server,
// followed by a two-round echo exercising sequence numbers 0 and 1 in
// both directions under the application traffic keys.
func TestHandshakeAndEchoRoundTrip(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- serveTLS13(serverConn, serverBehavior{echoRecords: 2})
	}()

	c, err := New(clientConn, Options{ServerName: "example.com", Logger: quiet})
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if !c.IsSecure() {
		t.Fatal("IsSecure() = false for a TLS connection")
	}
	if !c.TrustGap() {
		t.Fatal("TrustGap() must report true: nothing was validated")
	}

	for round, payload := range []string{"PING", "second record"} {
		if _, err := c.Write([]byte(payload)); err != nil {
			t.Fatalf("round %d: Write: %v", round, err)
		}
		buf := make([]byte, len(payload))
		got := 0
		for got < len(payload) {
			n, err := c.Read(buf[got:])
			if err != nil {
				t.Fatalf("round %d: Read: %v", round, err)
			}
			got += n
		}
		if string(buf) != payload {
			t.Fatalf("round %d: echoed %q, want %q", round, buf, payload)
		}
	}

	if err := <-serverErr; err != nil {
		t.Fatalf("test server: %v", err)
	}
}

// Swapping two records of the server flight must trip the state table
// with TlsOnPacketFailed before any Finished processing happens.
func TestHandshakeRejectsReorderedFlight(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	go func() {
		// The server will error out once the client hangs up; that error
		// is the expected outcome here, not a test failure.
		_ = serveTLS13(serverConn, serverBehavior{swapCertBeforeEE: true})
	}()

	_, err := New(clientConn, Options{ServerName: "example.com", Logger: quiet})
	if err == nil {
		t.Fatal("handshake accepted a Certificate before EncryptedExtensions")
	}
	if !errors.Is(err, pirerr.New(pirerr.TlsOnPacketFailed)) {
		t.Fatalf("reordered flight error = %v, want TlsOnPacketFailed", err)
	}
}

// A single flipped ciphertext byte on an echoed record must surface as a
// read failure, never as plaintext.
func TestReadRejectsTamperedRecord(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	go func() {
		_ = serveTLS13(serverConn, serverBehavior{echoRecords: 1, tamperEcho: true})
	}()

	c, err := New(clientConn, Options{ServerName: "example.com", Logger: quiet})
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if _, err := c.Write([]byte("PING")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	buf := make([]byte, 4)
	if _, err := c.Read(buf); err == nil {
		t.Fatal("Read returned data decrypted from a tampered record")
	} else if !errors.Is(err, pirerr.New(pirerr.TlsReadFailedReceive)) {
		t.Fatalf("tampered record error = %v, want TlsReadFailedReceive", err)
	}
}

// The ClientHello must be internally consistent: the record length covers
// the handshake message, the handshake length covers the body, the
// extensions length covers the extensions, and both offered groups appear
// in supported_groups and key_share.
func TestClientHelloFraming(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	type result struct {
		recordType byte
		msg        []byte
		err        error
	}
	got := make(chan result, 1)
	go func() {
		rt, msg, err := readRecordFrom(serverConn)
		got <- result{rt, msg, err}
	}()

	c := &Client{opts: Options{ServerName: "example.com"}, log: quiet, conn: clientConn, cipher: tlscipher.New()}
	if err := c.sendClientHello(); err != nil {
		t.Fatalf("sendClientHello: %v", err)
	}

	r := <-got
	if r.err != nil {
		t.Fatalf("read ClientHello record: %v", r.err)
	}
	if r.recordType != contentHandshake {
		t.Fatalf("record type = %d, want handshake", r.recordType)
	}
	msg := r.msg
	if msg[0] != handshakeClientHello {
		t.Fatalf("msg_type = %d, want ClientHello", msg[0])
	}
	bodyLen := int(msg[1])<<16 | int(msg[2])<<8 | int(msg[3])
	if bodyLen != len(msg)-4 {
		t.Fatalf("handshake length = %d, want %d", bodyLen, len(msg)-4)
	}

	// Walk to the extensions block and verify its length covers exactly
	// the rest of the message.
	p := msg[4:]
	p = p[2+32:] // version, random
	sidLen := int(p[0])
	p = p[1+sidLen:]
	csLen := int(binary.BigEndian.Uint16(p))
	if csLen != 2 {
		t.Fatalf("cipher_suites length = %d, want 2 (single suite)", csLen)
	}
	if binary.BigEndian.Uint16(p[2:]) != cipherSuiteChaCha20Poly1305SHA256 {
		t.Fatal("cipher suite is not TLS_CHACHA20_POLY1305_SHA256")
	}
	p = p[2+csLen:]
	compLen := int(p[0])
	p = p[1+compLen:]
	extLen := int(binary.BigEndian.Uint16(p))
	p = p[2:]
	if extLen != len(p) {
		t.Fatalf("extensions length = %d, want %d", extLen, len(p))
	}

	var sawGroups, sawKeyShareP256, sawKeyShareP384, sawSNI, sawVersions, sawSigAlgs bool
	for len(p) >= 4 {
		extType := binary.BigEndian.Uint16(p)
		ln := int(binary.BigEndian.Uint16(p[2:]))
		body := p[4 : 4+ln]
		p = p[4+ln:]
		switch extType {
		case extServerName:
			sawSNI = bytes.Contains(body, []byte("example.com"))
		case extSupportedVersions:
			sawVersions = bytes.Equal(body, []byte{0x02, 0x03, 0x04})
		case extSignatureAlgorithms:
			sawSigAlgs = int(binary.BigEndian.Uint16(body)) == 2*len(signatureAlgorithms)
		case extSupportedGroups:
			sawGroups = bytes.Equal(body, []byte{0x00, 0x04, 0x00, 0x17, 0x00, 0x18})
		case extKeyShare:
			shares := body[2:]
			for len(shares) >= 4 {
				group := binary.BigEndian.Uint16(shares)
				kl := int(binary.BigEndian.Uint16(shares[2:]))
				shares = shares[4+kl:]
				switch namedGroup(group) {
				case groupSecp256r1:
					sawKeyShareP256 = kl == 65
				case groupSecp384r1:
					sawKeyShareP384 = kl == 97
				}
			}
		}
	}
	if len(p) != 0 {
		t.Fatalf("%d trailing bytes after the last extension", len(p))
	}
	for name, saw := range map[string]bool{
		"server_name":          sawSNI,
		"supported_versions":   sawVersions,
		"signature_algorithms": sawSigAlgs,
		"supported_groups":     sawGroups,
		"key_share secp256r1":  sawKeyShareP256,
		"key_share secp384r1":  sawKeyShareP384,
	} {
		if !saw {
			t.Errorf("ClientHello missing or malformed %s extension", name)
		}
	}
}

// Plaintext mode must behave as a transparent byte pipe: no records, no
// handshake, bytes in are bytes out.
func TestPlaintextModePassesBytesThrough(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	c, err := New(clientConn, Options{Plaintext: true, Logger: quiet})
	if err != nil {
		t.Fatalf("New plaintext: %v", err)
	}
	if c.IsSecure() {
		t.Fatal("IsSecure() = true in plaintext mode")
	}

	go func() {
		buf := make([]byte, 5)
		if _, err := io.ReadFull(serverConn, buf); err == nil {
			serverConn.Write(bytes.ToUpper(buf))
		}
	}()

	if _, err := c.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	buf := make([]byte, 5)
	if _, err := io.ReadFull(clientReaderAdapter{c}, buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf) != "HELLO" {
		t.Fatalf("read %q, want %q", buf, "HELLO")
	}
}

type clientReaderAdapter struct{ c *Client }

func (a clientReaderAdapter) Read(p []byte) (int, error) { return a.c.Read(p) }

// Read and Write before a completed handshake must refuse with the
// NotReady codes rather than leaking plaintext onto the socket.
func TestReadWriteNotReady(t *testing.T) {
	clientConn, _ := net.Pipe()
	defer clientConn.Close()

	c := &Client{opts: Options{ServerName: "x"}, log: quiet, conn: clientConn, cipher: tlscipher.New()}
	if _, err := c.Write([]byte("x")); !errors.Is(err, pirerr.New(pirerr.TlsWriteFailedNotReady)) {
		t.Fatalf("Write before handshake = %v, want TlsWriteFailedNotReady", err)
	}
	if _, err := c.Read(make([]byte, 1)); !errors.Is(err, pirerr.New(pirerr.TlsReadFailedNotReady)) {
		t.Fatalf("Read before handshake = %v, want TlsReadFailedNotReady", err)
	}
}
