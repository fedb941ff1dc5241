package vromfs

import "encoding/binary"

var obfsKey = [4]uint32{0xAA55AA55, 0xF00FF00F, 0xAA55AA55, 0x12481248}

// Deobfuscate undoes the XOR masking applied to packed container bodies. The
// transform is an involution, so the same call also obfuscates. The input is
// not modified.
func Deobfuscate(data []byte) []byte {
	out := append([]byte(nil), data...)
	if len(out) < 16 {
		return out
	}
	xorBlock(out[0:16], obfsKey[0], obfsKey[1], obfsKey[2], obfsKey[3])

	if len(out) < 32 {
		return out
	}
	end := len(out) & 0x03FFFFFC
	xorBlock(out[end-16:end], obfsKey[3], obfsKey[2], obfsKey[1], obfsKey[0])
	return out
}

func xorBlock(b []byte, keys ...uint32) {
	for i, k := range keys {
		w := binary.LittleEndian.Uint32(b[i*4:])
		binary.LittleEndian.PutUint32(b[i*4:], w^k)
	}
}
