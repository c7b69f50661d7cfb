// Package chacha20poly1305 hand-rolls RFC 8439 ChaCha20-Poly1305 AEAD: the
// chacha20 block function, the Poly1305 one-time MAC, and Seal/Open built
// on top. No golang.org/x/crypto/chacha20poly1305 and no crypto/cipher.AEAD:
// the block math is done by hand.
package chacha20poly1305

import "github.com/yourusername/pirtls/pkg/pir/pirerr"

// KeySize is the ChaCha20 key length in bytes.
const KeySize = 32

// TagSize is the Poly1305 authentication tag length in bytes.
const TagSize = 16

var sigma = [4]uint32{0x61707865, 0x3320646e, 0x79622d32, 0x6b206574}

func rotl32(x uint32, n uint) uint32 {
	return (x << n) | (x >> (32 - n))
}

func quarterRound(a, b, c, d *uint32) {
	*a += *b
	*d ^= *a
	*d = rotl32(*d, 16)
	*c += *d
	*b ^= *c
	*b = rotl32(*b, 12)
	*a += *b
	*d ^= *a
	*d = rotl32(*d, 8)
	*c += *d
	*b ^= *c
	*b = rotl32(*b, 7)
}

// chacha20Block runs the 20-round ChaCha20 block function for the given
// key, a 12-byte nonce, and a 32-bit block counter, producing 64 bytes of
// keystream. Nonces shorter than 12 bytes (the original RFC 7539 8-byte
// form some callers still pass) are left-zero-padded.
func chacha20Block(key []byte, counter uint32, nonce []byte) [64]byte {
	var n [12]byte
	copy(n[12-len(nonce):], nonce)

	var state [16]uint32
	state[0], state[1], state[2], state[3] = sigma[0], sigma[1], sigma[2], sigma[3]
	for i := 0; i < 8; i++ {
		state[4+i] = uint32(key[i*4]) | uint32(key[i*4+1])<<8 | uint32(key[i*4+2])<<16 | uint32(key[i*4+3])<<24
	}
	state[12] = counter
	state[13] = uint32(n[0]) | uint32(n[1])<<8 | uint32(n[2])<<16 | uint32(n[3])<<24
	state[14] = uint32(n[4]) | uint32(n[5])<<8 | uint32(n[6])<<16 | uint32(n[7])<<24
	state[15] = uint32(n[8]) | uint32(n[9])<<8 | uint32(n[10])<<16 | uint32(n[11])<<24

	working := state
	for round := 0; round < 10; round++ {
		// column rounds
		quarterRound(&working[0], &working[4], &working[8], &working[12])
		quarterRound(&working[1], &working[5], &working[9], &working[13])
		quarterRound(&working[2], &working[6], &working[10], &working[14])
		quarterRound(&working[3], &working[7], &working[11], &working[15])
		// diagonal rounds
		quarterRound(&working[0], &working[5], &working[10], &working[15])
		quarterRound(&working[1], &working[6], &working[11], &working[12])
		quarterRound(&working[2], &working[7], &working[8], &working[13])
		quarterRound(&working[3], &working[4], &working[9], &working[14])
	}

	var out [64]byte
	for i := 0; i < 16; i++ {
		v := working[i] + state[i]
		out[i*4] = byte(v)
		out[i*4+1] = byte(v >> 8)
		out[i*4+2] = byte(v >> 16)
		out[i*4+3] = byte(v >> 24)
	}
	return out
}

// chacha20XOR encrypts (or decrypts — the cipher is symmetric) src into a
// freshly allocated buffer, starting the block counter at startCounter.
func chacha20XOR(key []byte, startCounter uint32, nonce, src []byte) []byte {
	out := make([]byte, len(src))
	counter := startCounter
	for off := 0; off < len(src); off += 64 {
		ks := chacha20Block(key, counter, nonce)
		n := len(src) - off
		if n > 64 {
			n = 64
		}
		for i := 0; i < n; i++ {
			out[off+i] = src[off+i] ^ ks[i]
		}
		counter++
	}
	return out
}

// poly1305KeyGen derives the one-time Poly1305 key from the ChaCha20 block
// at counter 0 for this (key, nonce) pair, per RFC 8439 §2.6.
func poly1305KeyGen(key, nonce []byte) [32]byte {
	ks := chacha20Block(key, 0, nonce)
	var out [32]byte
	copy(out[:], ks[:32])
	return out
}

// poly1305Mac computes the Poly1305 tag over msg with the given 32-byte
// one-time key, per RFC 8439 §2.5. Implemented with a little-endian
// 130-bit accumulator built out of five 26-bit limbs, the textbook
// radix-2^26 layout.
func poly1305Mac(key [32]byte, msg []byte) [16]byte {
	var r [5]uint32
	t0 := uint32(key[0]) | uint32(key[1])<<8 | uint32(key[2])<<16 | uint32(key[3])<<24
	t1 := uint32(key[4]) | uint32(key[5])<<8 | uint32(key[6])<<16 | uint32(key[7])<<24
	t2 := uint32(key[8]) | uint32(key[9])<<8 | uint32(key[10])<<16 | uint32(key[11])<<24
	t3 := uint32(key[12]) | uint32(key[13])<<8 | uint32(key[14])<<16 | uint32(key[15])<<24

	r[0] = t0 & 0x3ffffff
	r[1] = ((t0 >> 26) | (t1 << 6)) & 0x3ffff03
	r[2] = ((t1 >> 20) | (t2 << 12)) & 0x3ffc0ff
	r[3] = ((t2 >> 14) | (t3 << 18)) & 0x3f03fff
	r[4] = (t3 >> 8) & 0x00fffff

	var s0, s1, s2, s3 uint32
	s0 = uint32(key[16]) | uint32(key[17])<<8 | uint32(key[18])<<16 | uint32(key[19])<<24
	s1 = uint32(key[20]) | uint32(key[21])<<8 | uint32(key[22])<<16 | uint32(key[23])<<24
	s2 = uint32(key[24]) | uint32(key[25])<<8 | uint32(key[26])<<16 | uint32(key[27])<<24
	s3 = uint32(key[28]) | uint32(key[29])<<8 | uint32(key[30])<<16 | uint32(key[31])<<24

	var acc [5]uint64

	add := func(block []byte, hibit uint64) {
		b0 := uint64(block[0]) | uint64(block[1])<<8 | uint64(block[2])<<16 | uint64(block[3])<<24
		b1 := uint64(block[4]) | uint64(block[5])<<8 | uint64(block[6])<<16 | uint64(block[7])<<24
		b2 := uint64(block[8]) | uint64(block[9])<<8 | uint64(block[10])<<16 | uint64(block[11])<<24
		b3 := uint64(block[12]) | uint64(block[13])<<8 | uint64(block[14])<<16 | uint64(block[15])<<24

		acc[0] += b0 & 0x3ffffff
		acc[1] += ((b0 >> 26) | (b1 << 6)) & 0x3ffffff
		acc[2] += ((b1 >> 20) | (b2 << 12)) & 0x3ffffff
		acc[3] += ((b2 >> 14) | (b3 << 18)) & 0x3ffffff
		acc[4] += (b3 >> 8) | (hibit << 24)

		multiplyByR(&acc, r)
	}

	msgLen := len(msg)
	for msgLen >= 16 {
		add(msg[:16], 1)
		msg = msg[16:]
		msgLen -= 16
	}
	if msgLen > 0 {
		var last [16]byte
		copy(last[:], msg)
		last[msgLen] = 1
		add(last[:], 0)
	}

	// Final reduction mod 2^130-5, then add s, then serialize the low
	// 128 bits — the standard Poly1305 finish. Two carry passes leave every
	// limb under 2^26; h-p then replaces h when h >= p, chosen by mask.
	for pass := 0; pass < 2; pass++ {
		carry := uint64(0)
		for i := 0; i < 5; i++ {
			acc[i] += carry
			carry = acc[i] >> 26
			acc[i] &= 0x3ffffff
		}
		acc[0] += carry * 5
	}
	var g [5]uint64
	carry := uint64(5)
	for i := 0; i < 5; i++ {
		g[i] = acc[i] + carry
		carry = g[i] >> 26
		g[i] &= 0x3ffffff
	}
	sel := -carry // all ones when h+5 >= 2^130, i.e. h >= p
	for i := 0; i < 5; i++ {
		acc[i] = (acc[i] &^ sel) | (g[i] & sel)
	}

	h0 := uint32(acc[0]) | uint32(acc[1])<<26
	h1 := uint32(acc[1]>>6) | uint32(acc[2])<<20
	h2 := uint32(acc[2]>>12) | uint32(acc[3])<<14
	h3 := uint32(acc[3]>>18) | uint32(acc[4])<<8

	sum0 := uint64(h0) + uint64(s0)
	sum1 := uint64(h1) + uint64(s1) + (sum0 >> 32)
	sum2 := uint64(h2) + uint64(s2) + (sum1 >> 32)
	sum3 := uint64(h3) + uint64(s3) + (sum2 >> 32)

	h0, h1, h2, h3 = uint32(sum0), uint32(sum1), uint32(sum2), uint32(sum3)

	var tag [16]byte
	tag[0], tag[1], tag[2], tag[3] = byte(h0), byte(h0>>8), byte(h0>>16), byte(h0>>24)
	tag[4], tag[5], tag[6], tag[7] = byte(h1), byte(h1>>8), byte(h1>>16), byte(h1>>24)
	tag[8], tag[9], tag[10], tag[11] = byte(h2), byte(h2>>8), byte(h2>>16), byte(h2>>24)
	tag[12], tag[13], tag[14], tag[15] = byte(h3), byte(h3>>8), byte(h3>>16), byte(h3>>24)
	return tag
}

// multiplyByR multiplies the 130-bit accumulator by r and reduces mod
// 2^130-5 using the standard 5x5-limb schoolbook product with the r*5
// trick for the high limbs.
func multiplyByR(acc *[5]uint64, r [5]uint32) {
	r0, r1, r2, r3, r4 := uint64(r[0]), uint64(r[1]), uint64(r[2]), uint64(r[3]), uint64(r[4])
	s1, s2, s3, s4 := r1*5, r2*5, r3*5, r4*5

	a0, a1, a2, a3, a4 := acc[0], acc[1], acc[2], acc[3], acc[4]

	d0 := a0*r0 + a1*s4 + a2*s3 + a3*s2 + a4*s1
	d1 := a0*r1 + a1*r0 + a2*s4 + a3*s3 + a4*s2
	d2 := a0*r2 + a1*r1 + a2*r0 + a3*s4 + a4*s3
	d3 := a0*r3 + a1*r2 + a2*r1 + a3*r0 + a4*s4
	d4 := a0*r4 + a1*r3 + a2*r2 + a3*r1 + a4*r0

	carry := d0 >> 26
	acc[0] = d0 & 0x3ffffff
	d1 += carry
	carry = d1 >> 26
	acc[1] = d1 & 0x3ffffff
	d2 += carry
	carry = d2 >> 26
	acc[2] = d2 & 0x3ffffff
	d3 += carry
	carry = d3 >> 26
	acc[3] = d3 & 0x3ffffff
	d4 += carry
	carry = d4 >> 26
	acc[4] = d4 & 0x3ffffff
	acc[0] += carry * 5
}

// poly1305PadAndTrail builds the Poly1305 MAC-input trailer for AEAD
// associated data and ciphertext blocks: aad || pad16(aad) || ciphertext
// || pad16(ciphertext) || len(aad) || len(ciphertext), per RFC 8439
// §2.8.1. Each length is written as a 4-byte little-endian word followed
// by 4 zero bytes rather than one 8-byte little-endian word — the two are
// identical for any length under 2^32, which every record this client
// ever builds satisfies.
func poly1305PadAndTrail(aad, ciphertext []byte) []byte {
	pad := func(n int) int {
		if n%16 == 0 {
			return 0
		}
		return 16 - n%16
	}

	out := make([]byte, 0, len(aad)+pad(len(aad))+len(ciphertext)+pad(len(ciphertext))+16)
	out = append(out, aad...)
	out = append(out, make([]byte, pad(len(aad)))...)
	out = append(out, ciphertext...)
	out = append(out, make([]byte, pad(len(ciphertext)))...)

	var trail [16]byte
	aadLen := uint32(len(aad))
	ctLen := uint32(len(ciphertext))
	trail[0], trail[1], trail[2], trail[3] = byte(aadLen), byte(aadLen>>8), byte(aadLen>>16), byte(aadLen>>24)
	trail[8], trail[9], trail[10], trail[11] = byte(ctLen), byte(ctLen>>8), byte(ctLen>>16), byte(ctLen>>24)
	out = append(out, trail[:]...)
	return out
}

// constantTimeEqual compares two equal-length byte slices without
// branching on their contents.
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

// Seal encrypts plaintext and appends a 16-byte Poly1305 tag, returning
// ciphertext||tag. key must be 32 bytes; nonce is 12 bytes for the TLS 1.3
// record cipher (8-byte RFC 7539-legacy nonces are accepted too, though
// nothing in this module drives that path).
func Seal(key, nonce, plaintext, aad []byte) []byte {
	otk := poly1305KeyGen(key, nonce)
	ciphertext := chacha20XOR(key, 1, nonce, plaintext)
	macInput := poly1305PadAndTrail(aad, ciphertext)
	tag := poly1305Mac(otk, macInput)
	out := make([]byte, 0, len(ciphertext)+TagSize)
	out = append(out, ciphertext...)
	out = append(out, tag[:]...)
	return out
}

// Open verifies the trailing 16-byte Poly1305 tag on in (ciphertext||tag)
// and, if it matches, returns the decrypted plaintext. A mismatch returns
// ChaCha20DecodeFailed; the record layer treats every AEAD failure as fatal
// to the connection.
func Open(key, nonce, in, aad []byte) ([]byte, error) {
	if len(in) < TagSize {
		return nil, pirerr.New(pirerr.ChaCha20DecodeFailed)
	}
	ciphertext := in[:len(in)-TagSize]
	wantTag := in[len(in)-TagSize:]

	otk := poly1305KeyGen(key, nonce)
	macInput := poly1305PadAndTrail(aad, ciphertext)
	gotTag := poly1305Mac(otk, macInput)

	if !constantTimeEqual(gotTag[:], wantTag) {
		return nil, pirerr.New(pirerr.ChaCha20DecodeFailed)
	}
	return chacha20XOR(key, 1, nonce, ciphertext), nil
}
