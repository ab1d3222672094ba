package ws

import "encoding/binary"

// Cipher applies XOR cipher to the payload using mask.
// Offset is used to cipher chunked data (e.g. in streaming writers).
//
// To convert masked data into unmasked data, or vice versa, the same
// algorithm is applied regardless of the direction of the translation.
// See https://tools.ietf.org/html/rfc6455#section-5.3
func Cipher(payload []byte, mask [4]byte, offset int) {
	n := len(payload)
	if n < 8 {
		for i := 0; i < n; i++ {
			payload[i] ^= mask[(offset+i)%4]
		}
		return
	}

	// Expand the mask, rotated by the offset position, into an 8-byte key so
	// the bulk of the payload is processed a word at a time.
	mpos := offset % 4
	var key [8]byte
	for i := range key {
		key[i] = mask[(mpos+i)%4]
	}
	k := binary.NativeEndian.Uint64(key[:])

	var i int
	for ; i+8 <= n; i += 8 {
		v := binary.NativeEndian.Uint64(payload[i:])
		binary.NativeEndian.PutUint64(payload[i:], v^k)
	}
	for ; i < n; i++ {
		payload[i] ^= mask[(mpos+i)%4]
	}
}
