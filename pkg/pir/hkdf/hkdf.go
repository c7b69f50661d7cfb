// Package hkdf implements RFC 5869 HKDF-Extract/Expand and the RFC 8446
// §7.1 HKDF-Expand-Label wire format. It builds entirely on the
// hand-rolled hash.HMAC rather than crypto/hmac or golang.org/x/crypto/hkdf,
// since both of those would pull in the stdlib hash implementations this
// module keeps out of the product path.
package hkdf

import "github.com/yourusername/pirtls/pkg/pir/hash"

// NewDigest selects the hash constructor (hash.NewSHA256 or
// hash.NewSHA384) that every call in a given key-schedule uses.
type NewDigest func() hash.Digest

// Extract implements HKDF-Extract(salt, ikm) = HMAC-Hash(salt, ikm).
// salt may be nil, in which case it is treated as a zero-filled Hash.Size()
// string per RFC 5869 §2.2 — the TLS key schedule's first Extract call uses
// exactly this zero-salt form.
func Extract(newDigest NewDigest, salt, ikm []byte) []byte {
	if len(salt) == 0 {
		salt = make([]byte, newDigest().Size())
	}
	return hash.Sum(newDigest, salt, ikm)
}

// Expand implements HKDF-Expand(prk, info, length) per RFC 5869 §2.3.
func Expand(newDigest NewDigest, prk, info []byte, length int) []byte {
	hashLen := newDigest().Size()
	n := (length + hashLen - 1) / hashLen
	out := make([]byte, 0, n*hashLen)

	var t []byte
	for i := 1; i <= n; i++ {
		h := hash.NewHMAC(newDigest, prk)
		h.Update(t)
		h.Update(info)
		h.Update([]byte{byte(i)})
		t = h.Final()
		out = append(out, t...)
	}
	return out[:length]
}

// label builds the HkdfLabel structure RFC 8446 §7.1 defines:
//
//	uint16 length
//	opaque label<7..255>  = "tls13 " + label
//	opaque context<0..255>
func label(length int, labelStr string, context []byte) []byte {
	full := "tls13 " + labelStr
	out := make([]byte, 0, 2+1+len(full)+1+len(context))
	out = append(out, byte(length>>8), byte(length))
	out = append(out, byte(len(full)))
	out = append(out, full...)
	out = append(out, byte(len(context)))
	out = append(out, context...)
	return out
}

// ExpandLabel implements HKDF-Expand-Label(secret, label, context, length).
func ExpandLabel(newDigest NewDigest, secret []byte, labelStr string, context []byte, length int) []byte {
	info := label(length, labelStr, context)
	return Expand(newDigest, secret, info, length)
}
