// Package tlsclient implements the TLS 1.3 client handshake and record
// layer over a plain net.Conn: a single cipher suite
// (TLS_CHACHA20_POLY1305_SHA256), ECDHE over P-256/P-384, and nothing
// older than TLS 1.3. It performs no certificate validation — see
// TrustGap.
package tlsclient

import (
	"context"
	"encoding/binary"
	"log"
	"net"

	"github.com/yourusername/pirtls/pkg/pir/ecc"
	"github.com/yourusername/pirtls/pkg/pir/pirerr"
	"github.com/yourusername/pirtls/pkg/pir/socket"
	"github.com/yourusername/pirtls/pkg/pir/tlscipher"
	"github.com/yourusername/pirtls/pkg/pir/wirebuf"
)

// Record content types, RFC 8446 §5.1.
const (
	contentChangeCipherSpec = 20
	contentAlert            = 21
	contentHandshake        = 22
	contentApplicationData  = 23
)

// Handshake message types, RFC 8446 §4.
const (
	handshakeClientHello         = 1
	handshakeServerHello         = 2
	handshakeNewSessionTicket    = 4
	handshakeEncryptedExtensions = 8
	handshakeCertificate         = 11
	handshakeCertificateVerify   = 15
	handshakeFinished            = 20
)

// Extension types this client emits or parses.
const (
	extServerName          = 0x0000
	extSupportedGroups     = 0x000a
	extSignatureAlgorithms = 0x000d
	extSupportedVersions   = 0x002b
	extKeyShare            = 0x0033
)

// legacyRecordVersion is the record-layer version field TLS 1.3 freezes
// at {3,3} for backward compatibility.
const legacyRecordVersion = 0x0303

// tls13Version is the supported_versions extension value for TLS 1.3.
const tls13Version = 0x0304

// namedGroup identifies a key_share/supported_groups curve, RFC 8446 §4.2.7.
type namedGroup uint16

const (
	groupSecp256r1 namedGroup = 0x0017
	groupSecp384r1 namedGroup = 0x0018
)

// offeredGroups is every curve the ClientHello advertises, in preference
// order. A key_share entry is generated for each so the server never has
// to HelloRetryRequest for a group change.
var offeredGroups = []namedGroup{groupSecp256r1, groupSecp384r1}

// signatureAlgorithms is the fixed list the ClientHello always offers.
// The client never checks a signature (see TrustGap), but servers refuse
// to pick a certificate without this extension.
var signatureAlgorithms = []uint16{
	0x0403, 0x0503, 0x0603, // ecdsa_secp{256,384,521}r1_sha{256,384,512}
	0x0804, 0x0805, 0x0806, // rsa_pss_rsae_sha{256,384,512}
	0x0401, 0x0501, 0x0601, // rsa_pkcs1_sha{256,384,512}
	0x0203, 0x0201, // ecdsa_sha1, rsa_pkcs1_sha1
}

// cipherSuiteChaCha20Poly1305SHA256 is the only suite this client offers.
const cipherSuiteChaCha20Poly1305SHA256 = 0x1303

// maxFragment is the largest plaintext TLS 1.3 permits per record
// (RFC 8446 §5.1), and the chunk size Write fragments at.
const maxFragment = 16384

// maxRecvRecord bounds a single record body plus its 5-byte header,
// guarding processReceive's buffer against a runaway peer. The slack over
// maxFragment covers the inner content-type byte and the AEAD tag.
const maxRecvRecord = maxFragment + 5 + 256

// Handshake progress: a monotonic counter gating which record the client
// will accept next. Each entry of stateSeq is the (record type, handshake
// type) pair expected while stateIndex holds that value; any other record
// fails with TlsOnPacketFailed.
const (
	stateServerHello = iota
	stateChangeCipherSpec
	stateEncryptedExtensions
	stateCertificate
	stateCertificateVerify
	stateServerFinished
	stateEstablished
)

var stateSeq = [stateEstablished]struct {
	record    byte
	handshake byte
}{
	{contentHandshake, handshakeServerHello},
	{contentChangeCipherSpec, 0},
	{contentHandshake, handshakeEncryptedExtensions},
	{contentHandshake, handshakeCertificate},
	{contentHandshake, handshakeCertificateVerify},
	{contentHandshake, handshakeFinished},
}

// channelCompactMin and channelCompactFrac control when Read shifts the
// undrained tail of the channel buffer back to the front: once the buffer
// exceeds channelCompactMin bytes and more than 3/4 of it has been
// drained, or whenever it is fully drained.
const (
	channelCompactMin  = 1 << 20
	channelCompactFrac = 4 // drain > size*3/4
)

// Options configures a Client.
type Options struct {
	// ServerName is sent in the server_name (SNI) extension. Empty omits
	// the extension.
	ServerName string

	// Plaintext turns the client into a transparent TCP byte pipe: no
	// handshake, Read/Write forward straight to the socket.
	Plaintext bool

	// Logger receives one line per received alert and per completed
	// handshake. Nil means log.Default().
	Logger *log.Logger

	// SocketTuning overrides the TCP options Open applies after dialing.
	// Nil means socket.DefaultTuning().
	SocketTuning *socket.Tuning
}

// Client is one TLS 1.3 connection: handshake state machine plus the
// record-layer Read/Write surface applications use once the handshake is
// done. Not safe for concurrent use.
type Client struct {
	opts Options
	log  *log.Logger
	conn net.Conn

	cipher *tlscipher.Cipher

	stateIndex int
	closed     bool

	recvBuf     []byte // raw bytes read from conn, not yet framed into records
	channel     []byte // decrypted application data waiting for Read
	channelRead int    // drain cursor into channel

	serverFinishedHash []byte // transcript snapshot at ServerFinished, for application key derivation
}

// Open dials addr, applies socket tuning, and drives the full TLS 1.3
// handshake to completion. With opts.Plaintext the handshake is skipped
// and the returned client forwards bytes as-is.
func Open(ctx context.Context, network, addr string, opts Options) (*Client, error) {
	conn, err := socket.Dial(ctx, network, addr, opts.SocketTuning)
	if err != nil {
		return nil, pirerr.Wrap(err, pirerr.TlsOpenFailedSocket)
	}
	c, err := New(conn, opts)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// New wraps an already-connected conn and, unless opts.Plaintext is set,
// runs the TLS 1.3 handshake over it before returning. On handshake
// failure conn is left open for the caller to close.
func New(conn net.Conn, opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	c := &Client{
		opts:   opts,
		log:    logger,
		conn:   conn,
		cipher: tlscipher.New(),
	}
	if opts.Plaintext {
		c.stateIndex = stateEstablished
		return c, nil
	}
	if err := c.handshake(); err != nil {
		return nil, err
	}
	return c, nil
}

// IsSecure reports whether this client runs the TLS record layer rather
// than the transparent byte-pipe mode.
func (c *Client) IsSecure() bool { return !c.opts.Plaintext }

// TrustGap reports that this client never validates the server's
// certificate chain against any root store, and never checks
// CertificateVerify against the certificate's public key — it only feeds
// both messages into the transcript hash. Callers that need real
// authentication must pin the peer out-of-band.
func (c *Client) TrustGap() bool { return c.IsSecure() }

// Close zeros the cipher state, resets buffers and counters, and closes
// the socket.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.cipher.Destroy()
	c.recvBuf = nil
	c.channel = nil
	c.channelRead = 0
	if err := c.conn.Close(); err != nil {
		return pirerr.Wrap(err, pirerr.TlsCloseFailedSocket)
	}
	return nil
}

func (c *Client) handshake() error {
	c.cipher.Reset()
	if err := c.sendClientHello(); err != nil {
		return pirerr.Wrap(err, pirerr.TlsClientHelloFailed)
	}
	for c.stateIndex != stateEstablished {
		if err := c.processReceive(); err != nil {
			return err
		}
	}
	c.log.Printf("tlsclient: handshake with %q complete", c.opts.ServerName)
	return nil
}

// sendRecord frames payload as one TLS record. keepOriginal bypasses the
// record cipher even when it is active — ChangeCipherSpec must go out in
// the clear after handshake keys are installed.
func (c *Client) sendRecord(recordType byte, payload []byte, keepOriginal bool) error {
	out := make([]byte, 0, 5+len(payload)+32)
	if c.cipher.IsEncoding() && !keepOriginal {
		inner := make([]byte, 0, len(payload)+1)
		inner = append(inner, payload...)
		inner = append(inner, recordType)
		ciphertext := c.cipher.Encode(inner, legacyRecordVersion)
		out = append(out, contentApplicationData, legacyRecordVersion>>8, legacyRecordVersion&0xff)
		out = append(out, byte(len(ciphertext)>>8), byte(len(ciphertext)))
		out = append(out, ciphertext...)
	} else {
		out = append(out, recordType, legacyRecordVersion>>8, legacyRecordVersion&0xff)
		out = append(out, byte(len(payload)>>8), byte(len(payload)))
		out = append(out, payload...)
	}
	if _, err := c.conn.Write(out); err != nil {
		return pirerr.Wrap(err, pirerr.TlsSendPacketFailed)
	}
	return nil
}

// sendClientHello builds and sends the ClientHello: client random, a
// single cipher suite, and the server_name, supported_groups, supported_versions,
// signature_algorithms, and key_share extensions, with the three length
// prefixes (extensions, handshake body, record) back-patched once their
// contents are known.
func (c *Client) sendClientHello() error {
	b := wirebuf.New()
	defer b.Release()

	b.AppendByte(handshakeClientHello)
	bodyLenOff := b.AppendSize(3)

	b.AppendUint16BE(legacyRecordVersion) // legacy_version

	random, err := c.cipher.CreateClientRandom()
	if err != nil {
		return err
	}
	b.Append(random)

	b.AppendByte(0) // legacy_session_id, empty

	b.AppendUint16BE(2) // cipher_suites length
	b.AppendUint16BE(cipherSuiteChaCha20Poly1305SHA256)

	b.AppendByte(1) // legacy_compression_methods length
	b.AppendByte(0) // null compression

	extLenOff := b.AppendSize(2)
	extStart := b.Size()

	c.appendServerNameExtension(b)
	c.appendSupportedGroupsExtension(b)
	c.appendSupportedVersionsExtension(b)
	c.appendSignatureAlgorithmsExtension(b)
	if err := c.appendKeyShareExtension(b); err != nil {
		return err
	}

	b.PatchUint16BE(extLenOff, uint16(b.Size()-extStart))
	b.PatchUint24BE(bodyLenOff, uint32(b.Size()-bodyLenOff-3))

	c.cipher.UpdateHash(b.Bytes())
	return c.sendRecord(contentHandshake, b.Bytes(), false)
}

func (c *Client) appendServerNameExtension(b *wirebuf.Buffer) {
	if c.opts.ServerName == "" {
		return
	}
	b.AppendUint16BE(extServerName)
	lenOff := b.AppendSize(2)
	listLenOff := b.AppendSize(2)
	b.AppendByte(0) // host_name
	b.AppendUint16BE(uint16(len(c.opts.ServerName)))
	b.Append([]byte(c.opts.ServerName))
	b.PatchUint16BE(listLenOff, uint16(b.Size()-listLenOff-2))
	b.PatchUint16BE(lenOff, uint16(b.Size()-lenOff-2))
}

func (c *Client) appendSupportedGroupsExtension(b *wirebuf.Buffer) {
	b.AppendUint16BE(extSupportedGroups)
	b.AppendUint16BE(uint16(2 + 2*len(offeredGroups)))
	b.AppendUint16BE(uint16(2 * len(offeredGroups)))
	for _, g := range offeredGroups {
		b.AppendUint16BE(uint16(g))
	}
}

func (c *Client) appendSupportedVersionsExtension(b *wirebuf.Buffer) {
	b.AppendUint16BE(extSupportedVersions)
	b.AppendUint16BE(3)
	b.AppendByte(2)
	b.AppendUint16BE(tls13Version)
}

func (c *Client) appendSignatureAlgorithmsExtension(b *wirebuf.Buffer) {
	b.AppendUint16BE(extSignatureAlgorithms)
	b.AppendUint16BE(uint16(2 + 2*len(signatureAlgorithms)))
	b.AppendUint16BE(uint16(2 * len(signatureAlgorithms)))
	for _, a := range signatureAlgorithms {
		b.AppendUint16BE(a)
	}
}

func (c *Client) appendKeyShareExtension(b *wirebuf.Buffer) error {
	b.AppendUint16BE(extKeyShare)
	lenOff := b.AppendSize(2)
	listLenOff := b.AppendSize(2)
	for _, g := range offeredGroups {
		pub, err := c.cipher.ComputePublicKey(curveForGroup(g))
		if err != nil {
			return pirerr.Wrap(err, pirerr.TlsCipherComputePublicKeyFailed)
		}
		b.AppendUint16BE(uint16(g))
		b.AppendUint16BE(uint16(len(pub)))
		b.Append(pub)
	}
	b.PatchUint16BE(listLenOff, uint16(b.Size()-listLenOff-2))
	b.PatchUint16BE(lenOff, uint16(b.Size()-lenOff-2))
	return nil
}

func curveForGroup(g namedGroup) ecc.Curve {
	if g == groupSecp384r1 {
		return ecc.P384
	}
	return ecc.P256
}

// sendClientFinished computes and sends the client Finished message. It
// must run while the handshake traffic keys are still installed.
func (c *Client) sendClientFinished() error {
	verify := c.cipher.ComputeVerify(true)

	b := wirebuf.New()
	defer b.Release()
	b.AppendByte(handshakeFinished)
	lenOff := b.AppendSize(3)
	b.Append(verify)
	b.PatchUint24BE(lenOff, uint32(len(verify)))

	c.cipher.UpdateHash(b.Bytes())
	return c.sendRecord(contentHandshake, b.Bytes(), false)
}

// processReceive reads one TLS record off the wire, accumulating partial
// reads in recvBuf until the 5-byte header and the full body are present,
// then dispatches it.
func (c *Client) processReceive() error {
	for len(c.recvBuf) < 5 {
		if err := c.readMore(); err != nil {
			return err
		}
	}
	recordLen := int(binary.BigEndian.Uint16(c.recvBuf[3:5]))
	total := 5 + recordLen
	if total > maxRecvRecord {
		return pirerr.New(pirerr.TlsProcessReceiveFailed)
	}
	for len(c.recvBuf) < total {
		if err := c.readMore(); err != nil {
			return err
		}
	}

	recordType := c.recvBuf[0]
	body := c.recvBuf[5:total]
	err := c.onRecord(recordType, body)
	c.recvBuf = c.recvBuf[total:]
	return err
}

func (c *Client) readMore() error {
	buf := make([]byte, 4096)
	n, err := c.conn.Read(buf)
	if n > 0 {
		c.recvBuf = append(c.recvBuf, buf[:n]...)
		return nil
	}
	if err != nil {
		return pirerr.Wrap(err, pirerr.TlsReadFailedReceive)
	}
	return pirerr.New(pirerr.TlsReadFailedReceive)
}

// onRecord dispatches one framed record. ChangeCipherSpec and Alert are
// exempt from decryption; everything else is opened by the record cipher
// once it is active, and the trailing inner content-type byte replaces the
// outer type.
func (c *Client) onRecord(recordType byte, body []byte) error {
	if recordType != contentChangeCipherSpec && recordType != contentAlert && c.cipher.IsEncoding() {
		plaintext, err := c.cipher.Decode(body, legacyRecordVersion)
		if err != nil {
			return pirerr.Wrap(err, pirerr.TlsOnPacketFailed)
		}
		// Strip trailing zero padding, then the inner content type.
		n := len(plaintext)
		for n > 0 && plaintext[n-1] == 0 {
			n--
		}
		if n == 0 {
			return pirerr.New(pirerr.TlsOnPacketFailed)
		}
		recordType = plaintext[n-1]
		body = plaintext[:n-1]
	}

	switch recordType {
	case contentHandshake:
		return c.onHandshakeFlight(body)
	case contentChangeCipherSpec:
		return c.onChangeCipherSpec(body)
	case contentAlert:
		if len(body) >= 2 {
			c.log.Printf("tlsclient: alert from peer: level=%d code=%d", body[0], body[1])
		}
		return pirerr.New(pirerr.TlsOnPacketFailed)
	case contentApplicationData:
		if c.stateIndex != stateEstablished {
			return pirerr.New(pirerr.TlsOnPacketFailed)
		}
		c.channel = append(c.channel, body...)
		return nil
	default:
		return pirerr.New(pirerr.TlsOnPacketFailed)
	}
}

// onChangeCipherSpec handles the middlebox-compatibility marker: exactly
// one 0x01 byte, accepted only where the state table expects it and
// ignored after the handshake is done.
func (c *Client) onChangeCipherSpec(body []byte) error {
	if len(body) != 1 || body[0] != 0x01 {
		return pirerr.New(pirerr.TlsChangeCipherSpecFailed)
	}
	if c.stateIndex == stateEstablished {
		return nil
	}
	if stateSeq[c.stateIndex].record != contentChangeCipherSpec {
		return pirerr.New(pirerr.TlsOnPacketFailed)
	}
	c.stateIndex++
	return nil
}

// onHandshakeFlight iterates the one-or-more handshake messages a single
// record may carry (TLS 1.3 commonly coalesces EncryptedExtensions,
// Certificate, CertificateVerify, and Finished into one flight), checking
// each against the state table before dispatching it.
func (c *Client) onHandshakeFlight(body []byte) error {
	for len(body) > 0 {
		if len(body) < 4 {
			return pirerr.New(pirerr.TlsProcessReceiveFailed)
		}
		msgType := body[0]
		msgLen := int(body[1])<<16 | int(body[2])<<8 | int(body[3])
		if len(body) < 4+msgLen {
			return pirerr.New(pirerr.TlsProcessReceiveFailed)
		}
		full := body[:4+msgLen]
		msgBody := body[4 : 4+msgLen]
		body = body[4+msgLen:]

		if c.stateIndex == stateEstablished {
			// Post-handshake messages: tickets are read and discarded
			// (resumption is out of scope); anything else is fatal.
			if msgType != handshakeNewSessionTicket {
				return pirerr.New(pirerr.TlsOnPacketFailed)
			}
			continue
		}

		expect := stateSeq[c.stateIndex]
		if expect.record != contentHandshake || expect.handshake != msgType {
			return pirerr.New(pirerr.TlsOnPacketFailed)
		}

		switch msgType {
		case handshakeServerHello:
			if err := c.onServerHello(full, msgBody); err != nil {
				return err
			}
		case handshakeEncryptedExtensions, handshakeCertificate, handshakeCertificateVerify:
			// Trust gap: fed into the transcript, never validated.
			c.cipher.UpdateHash(full)
			c.stateIndex++
		case handshakeFinished:
			if err := c.onServerFinished(msgBody); err != nil {
				return err
			}
			// finishedHash is Transcript-Hash(ClientHello..ServerFinished)
			// per RFC 8446 §7.1, so the snapshot is taken after the
			// Finished message itself is hashed in.
			c.cipher.UpdateHash(full)
			c.serverFinishedHash = c.cipher.TranscriptHash()
			c.stateIndex++
			if err := c.completeHandshake(); err != nil {
				return err
			}
		}
	}
	return nil
}

// onServerHello parses the ServerHello body, requires a TLS 1.3
// supported_versions extension, locates the server's key_share, and hands
// its public value to the cipher to derive handshake keys. full (the
// message with its 4-byte header) is hashed into the transcript only after
// the body parses, keeping a garbage ServerHello out of the key schedule.
func (c *Client) onServerHello(full, msgBody []byte) error {
	if len(msgBody) < 2+32+1 {
		return pirerr.New(pirerr.TlsServerHelloFailed)
	}
	r := wirebuf.Wrap(msgBody)
	r.Skip(2)  // legacy_version
	r.Skip(32) // server random
	sessionIDLen := int(r.ReadByte())
	if r.Remaining() < sessionIDLen+2+1+2 {
		return pirerr.New(pirerr.TlsServerHelloFailed)
	}
	r.Skip(sessionIDLen)
	suite := r.ReadUint16BE()
	if suite != cipherSuiteChaCha20Poly1305SHA256 {
		return pirerr.New(pirerr.TlsServerHelloFailed)
	}
	r.Skip(1) // legacy_compression_method

	extTotal := int(r.ReadUint16BE())
	if extTotal > r.Remaining() {
		return pirerr.New(pirerr.TlsServerHelloFailed)
	}
	end := r.Off() + extTotal

	var selectedVersion uint16
	var serverGroup namedGroup
	var serverKeyShare []byte
	for r.Off() < end {
		if end-r.Off() < 4 {
			return pirerr.New(pirerr.TlsServerHelloFailed)
		}
		extType := r.ReadUint16BE()
		extLen := int(r.ReadUint16BE())
		if extLen > end-r.Off() {
			return pirerr.New(pirerr.TlsServerHelloFailed)
		}
		extBody := r.ReadN(extLen)
		switch extType {
		case extSupportedVersions:
			if len(extBody) == 2 {
				selectedVersion = binary.BigEndian.Uint16(extBody)
			}
		case extKeyShare:
			if len(extBody) < 4 {
				return pirerr.New(pirerr.TlsServerHelloFailed)
			}
			er := wirebuf.Wrap(extBody)
			serverGroup = namedGroup(er.ReadUint16BE())
			kl := int(er.ReadUint16BE())
			if kl > er.Remaining() {
				return pirerr.New(pirerr.TlsServerHelloFailed)
			}
			serverKeyShare = er.ReadN(kl)
		}
	}

	if selectedVersion != tls13Version || serverKeyShare == nil {
		return pirerr.New(pirerr.TlsServerHelloFailed)
	}
	if serverGroup != groupSecp256r1 && serverGroup != groupSecp384r1 {
		return pirerr.New(pirerr.TlsServerHelloFailed)
	}

	c.cipher.UpdateHash(full)

	if err := c.cipher.ComputeHandshakeKeys(curveForGroup(serverGroup), serverKeyShare); err != nil {
		return pirerr.Wrap(err, pirerr.TlsServerHelloFailed)
	}
	c.stateIndex++
	return nil
}

// onServerFinished verifies the server's Finished verify_data against the
// locally computed expectation. The comparison is constant-time even
// though a mismatch kills the connection either way.
func (c *Client) onServerFinished(verifyData []byte) error {
	expected := c.cipher.ComputeVerify(false)
	if !constantTimeEqual(expected, verifyData) {
		return pirerr.New(pirerr.TlsVerifyFinishedFailed)
	}
	return nil
}

// completeHandshake sends the client's ChangeCipherSpec and Finished under
// the handshake keys, then installs the application traffic keys — in
// that order: CCS, client Finished, key change (which resets both
// sequence numbers).
func (c *Client) completeHandshake() error {
	if err := c.sendRecord(contentChangeCipherSpec, []byte{0x01}, true); err != nil {
		return pirerr.Wrap(err, pirerr.TlsChangeCipherSpecFailed)
	}
	if err := c.sendClientFinished(); err != nil {
		return pirerr.Wrap(err, pirerr.TlsClientFinishedFailed)
	}
	if err := c.cipher.ComputeApplicationKeys(c.serverFinishedHash); err != nil {
		return pirerr.Wrap(err, pirerr.TlsServerFinishedFailed)
	}
	return nil
}

// Write fragments p into <=16KB application_data records and sends them.
// In plaintext mode bytes forward straight to the socket.
func (c *Client) Write(p []byte) (int, error) {
	if c.opts.Plaintext {
		n, err := c.conn.Write(p)
		if err != nil {
			return n, pirerr.Wrap(err, pirerr.TlsWriteFailedSend)
		}
		return n, nil
	}
	if c.closed || c.stateIndex != stateEstablished {
		return 0, pirerr.New(pirerr.TlsWriteFailedNotReady)
	}
	sent := 0
	for sent < len(p) {
		n := len(p) - sent
		if n > maxFragment {
			n = maxFragment
		}
		if err := c.sendRecord(contentApplicationData, p[sent:sent+n], false); err != nil {
			return sent, pirerr.Wrap(err, pirerr.TlsWriteFailedSend)
		}
		sent += n
	}
	return sent, nil
}

// Read drains decrypted application data into p, blocking on the
// underlying socket to pull more records when none is buffered, and
// compacting the channel buffer as it drains.
func (c *Client) Read(p []byte) (int, error) {
	if c.opts.Plaintext {
		n, err := c.conn.Read(p)
		if err != nil {
			return n, pirerr.Wrap(err, pirerr.TlsReadFailedReceive)
		}
		return n, nil
	}
	if c.closed || c.stateIndex != stateEstablished {
		return 0, pirerr.New(pirerr.TlsReadFailedNotReady)
	}
	for c.channelRead == len(c.channel) {
		if err := c.processReceive(); err != nil {
			return 0, pirerr.Wrap(err, pirerr.TlsReadFailedReceive)
		}
	}
	n := copy(p, c.channel[c.channelRead:])
	c.channelRead += n
	c.compactChannel()
	if n == 0 {
		return 0, pirerr.New(pirerr.TlsReadFailedChannel)
	}
	return n, nil
}

// compactChannel applies the drain rule: reset when fully drained, or
// shift the tail forward once the buffer tops 1 MiB with more than 75% of
// it consumed — keeping a long-lived connection from pinning every record
// it ever received.
func (c *Client) compactChannel() {
	if c.channelRead == len(c.channel) {
		c.channel = c.channel[:0]
		c.channelRead = 0
		return
	}
	if len(c.channel) > channelCompactMin && c.channelRead > len(c.channel)/channelCompactFrac*3 {
		rem := copy(c.channel, c.channel[c.channelRead:])
		c.channel = c.channel[:rem]
		c.channelRead = 0
	}
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}
