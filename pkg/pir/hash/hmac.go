package hash

// HMAC implements RFC 2104 keyed hashing over any Digest from this package.
// The HKDF layer builds Extract/Expand entirely out of this type, so it
// exposes an incremental Init/Update/Final shape rather than a single
// hmac.New(...).Sum() call.
type HMAC struct {
	newDigest func() Digest
	inner     Digest
	outer     Digest
	opad      []byte
}

// NewHMAC returns an HMAC keyed with key, hashing with digests produced by
// newDigest (NewSHA256 or NewSHA384).
func NewHMAC(newDigest func() Digest, key []byte) *HMAC {
	h := &HMAC{newDigest: newDigest}
	h.Init(key)
	return h
}

// Init (re)keys the HMAC, discarding any in-progress Update state.
func (h *HMAC) Init(key []byte) {
	d := h.newDigest()
	blockSize := d.BlockSize()

	k := key
	if len(k) > blockSize {
		d.Write(key)
		k = d.Sum(nil)
		d.Reset()
	}

	ipad := make([]byte, blockSize)
	opad := make([]byte, blockSize)
	copy(ipad, k)
	copy(opad, k)
	for i := range ipad {
		ipad[i] ^= 0x36
		opad[i] ^= 0x5c
	}

	h.inner = h.newDigest()
	h.inner.Write(ipad)
	h.outer = h.newDigest()
	h.opad = opad
}

// Update feeds message bytes into the inner hash.
func (h *HMAC) Update(p []byte) {
	h.inner.Write(p)
}

// Final returns the MAC. It does not reset the inner hash: further Update
// calls keep extending the same message, so call Init before reusing the
// instance for a new one.
func (h *HMAC) Final() []byte {
	innerSum := h.inner.Sum(nil)
	h.outer.Reset()
	h.outer.Write(h.opad)
	h.outer.Write(innerSum)
	return h.outer.Sum(nil)
}

// Sum is a one-shot convenience: Init, Update(msg), Final.
func Sum(newDigest func() Digest, key, msg []byte) []byte {
	h := NewHMAC(newDigest, key)
	h.Update(msg)
	return h.Final()
}
