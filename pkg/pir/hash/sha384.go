package hash

var sha512K = [80]uint64{
	0x428a2f98d728ae22, 0x7137449123ef65cd, 0xb5c0fbcfec4d3b2f, 0xe9b5dba58189dbbc,
	0x3956c25bf348b538, 0x59f111f1b605d019, 0x923f82a4af194f9b, 0xab1c5ed5da6d8118,
	0xd807aa98a3030242, 0x12835b0145706fbe, 0x243185be4ee4b28c, 0x550c7dc3d5ffb4e2,
	0x72be5d74f27b896f, 0x80deb1fe3b1696b1, 0x9bdc06a725c71235, 0xc19bf174cf692694,
	0xe49b69c19ef14ad2, 0xefbe4786384f25e3, 0x0fc19dc68b8cd5b5, 0x240ca1cc77ac9c65,
	0x2de92c6f592b0275, 0x4a7484aa6ea6e483, 0x5cb0a9dcbd41fbd4, 0x76f988da831153b5,
	0x983e5152ee66dfab, 0xa831c66d2db43210, 0xb00327c898fb213f, 0xbf597fc7beef0ee4,
	0xc6e00bf33da88fc2, 0xd5a79147930aa725, 0x06ca6351e003826f, 0x142929670a0e6e70,
	0x27b70a8546d22ffc, 0x2e1b21385c26c926, 0x4d2c6dfc5ac42aed, 0x53380d139d95b3df,
	0x650a73548baf63de, 0x766a0abb3c77b2a8, 0x81c2c92e47edaee6, 0x92722c851482353b,
	0xa2bfe8a14cf10364, 0xa81a664bbc423001, 0xc24b8b70d0f89791, 0xc76c51a30654be30,
	0xd192e819d6ef5218, 0xd69906245565a910, 0xf40e35855771202a, 0x106aa07032bbd1b8,
	0x19a4c116b8d2d0c8, 0x1e376c085141ab53, 0x2748774cdf8eeb99, 0x34b0bcb5e19b48a8,
	0x391c0cb3c5c95a63, 0x4ed8aa4ae3418acb, 0x5b9cca4f7763e373, 0x682e6ff3d6b2b8a3,
	0x748f82ee5defb2fc, 0x78a5636f43172f60, 0x84c87814a1f0ab72, 0x8cc702081a6439ec,
	0x90befffa23631e28, 0xa4506cebde82bde9, 0xbef9a3f7b2c67915, 0xc67178f2e372532b,
	0xca273eceea26619c, 0xd186b8c721c0c207, 0xeada7dd6cde0eb1e, 0xf57d4f7fee6ed178,
	0x06f067aa72176fba, 0x0a637dc5a2c898a6, 0x113f9804bef90dae, 0x1b710b35131c471b,
	0x28db77f523047d84, 0x32caab7b40c72493, 0x3c9ebe0a15c9bebc, 0x431d67c49c100d4c,
	0x4cc5d4becb3e42b6, 0x597f299cfc657e2a, 0x5fcb6fab3ad6faec, 0x6c44198c4a475817,
}

var sha384Init = [8]uint64{
	0xcbbb9d5dc1059ed8, 0x629a292a367cd507, 0x9159015a3070dd17, 0x152fecd8f70e5939,
	0x67332667ffc00b31, 0x8eb44a8768581511, 0xdb0c2e0d64f98fa7, 0x47b5481dbefa4fa4,
}

// SHA384 computes the SHA-384 digest of msg in one call.
func SHA384(msg []byte) [48]byte {
	var d sha384Digest
	d.Reset()
	d.Write(msg)
	var out [48]byte
	d.Sum(out[:0])
	return out
}

type sha384Digest struct {
	h      [8]uint64
	buf    [128]byte
	nbuf   int
	length uint64
}

// NewSHA384 returns a fresh SHA-384 Digest.
func NewSHA384() Digest { d := &sha384Digest{}; d.Reset(); return d }

func (d *sha384Digest) Reset() {
	d.h = sha384Init
	d.nbuf = 0
	d.length = 0
}

func (d *sha384Digest) Size() int      { return 48 }
func (d *sha384Digest) BlockSize() int { return 128 }

func (d *sha384Digest) Write(p []byte) {
	d.length += uint64(len(p))
	if d.nbuf > 0 {
		n := copy(d.buf[d.nbuf:], p)
		d.nbuf += n
		p = p[n:]
		if d.nbuf == 128 {
			sha512Block(&d.h, d.buf[:])
			d.nbuf = 0
		}
	}
	for len(p) >= 128 {
		sha512Block(&d.h, p[:128])
		p = p[128:]
	}
	if len(p) > 0 {
		d.nbuf = copy(d.buf[:], p)
	}
}

func (d *sha384Digest) Sum(out []byte) []byte {
	cp := *d
	cp.pad()
	for i := 0; i < 6; i++ {
		v := cp.h[i]
		out = append(out, byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32), byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	}
	return out
}

func (d *sha384Digest) pad() {
	lenBits := d.length * 8
	d.Write([]byte{0x80})
	for d.nbuf != 112 {
		d.Write([]byte{0x00})
	}
	var lb [16]byte
	// SHA-384/512 use a 128-bit length field; the high 64 bits are always
	// zero for any message this client could ever buffer.
	for i := 0; i < 8; i++ {
		lb[8+i] = byte(lenBits >> (56 - 8*i))
	}
	copy(d.buf[112:], lb[:])
	sha512Block(&d.h, d.buf[:])
	d.nbuf = 0
}

func sha512Block(h *[8]uint64, block []byte) {
	var w [80]uint64
	for i := 0; i < 16; i++ {
		j := i * 8
		w[i] = uint64(block[j])<<56 | uint64(block[j+1])<<48 | uint64(block[j+2])<<40 | uint64(block[j+3])<<32 |
			uint64(block[j+4])<<24 | uint64(block[j+5])<<16 | uint64(block[j+6])<<8 | uint64(block[j+7])
	}
	for i := 16; i < 80; i++ {
		s0 := rotr64(w[i-15], 1) ^ rotr64(w[i-15], 8) ^ (w[i-15] >> 7)
		s1 := rotr64(w[i-2], 19) ^ rotr64(w[i-2], 61) ^ (w[i-2] >> 6)
		w[i] = w[i-16] + s0 + w[i-7] + s1
	}

	a, b, c, dd, e, f, g, hh := h[0], h[1], h[2], h[3], h[4], h[5], h[6], h[7]
	for i := 0; i < 80; i++ {
		s1 := rotr64(e, 14) ^ rotr64(e, 18) ^ rotr64(e, 41)
		ch := (e & f) ^ (^e & g)
		t1 := hh + s1 + ch + sha512K[i] + w[i]
		s0 := rotr64(a, 28) ^ rotr64(a, 34) ^ rotr64(a, 39)
		maj := (a & b) ^ (a & c) ^ (b & c)
		t2 := s0 + maj

		hh, g, f, e = g, f, e, dd+t1
		dd, c, b, a = c, b, a, t1+t2
	}
	h[0] += a
	h[1] += b
	h[2] += c
	h[3] += dd
	h[4] += e
	h[5] += f
	h[6] += g
	h[7] += hh
}

func rotr64(x uint64, n uint) uint64 {
	return (x >> n) | (x << (64 - n))
}
