package vromfs

import (
	"encoding/binary"
	"fmt"

	wterrors "github.com/flaneur2020/wtunpack/wtunpack/errors"
)

const (
	HeaderSize    = 16
	ExtHeaderSize = 8

	packedSizeMask = 0x03FFFFFF
	packTypeShift  = 26
)

// Magic identifies the container flavour.
type Magic string

const (
	MagicVRFs Magic = "VRFs"
	MagicVRFx Magic = "VRFx"
)

// PackType describes how the container body is stored.
type PackType uint8

const (
	ZstdObfsNoCheck PackType = 0x10
	NotPacked       PackType = 0x20
	ZstdObfs        PackType = 0x30
)

func (p PackType) String() string {
	switch p {
	case ZstdObfsNoCheck:
		return "zstd_obfs_nocheck"
	case NotPacked:
		return "not_packed"
	case ZstdObfs:
		return "zstd_obfs"
	default:
		return fmt.Sprintf("pack_type(0x%02x)", uint8(p))
	}
}

// Packed reports whether the body is zstd compressed.
func (p PackType) Packed() bool {
	return p == ZstdObfsNoCheck || p == ZstdObfs
}

// HasDigest reports whether an MD5 of the unpacked body trails the packed bytes.
func (p PackType) HasDigest() bool {
	return p == ZstdObfs
}

var platforms = map[string]string{
	"\x00\x00PC": "pc",
	"\x00iOS":    "ios",
	"\x00and":    "android",
}

// Header is the fixed 16-byte container header.
type Header struct {
	Magic        Magic
	Platform     string
	OriginalSize uint32
	PackedSize   uint32
	PackType     PackType
}

// ExtHeader follows Header in VRFx containers.
type ExtHeader struct {
	Size    uint16
	Flags   uint16
	Version [4]byte
}

// VersionString renders the build version, most significant part first.
func (e ExtHeader) VersionString() string {
	v := e.Version
	return fmt.Sprintf("%d.%d.%d.%d", v[3], v[2], v[1], v[0])
}

// ParseHeader decodes the fixed header at the start of data.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, wterrors.Formatf("container header truncated: %d bytes", len(data))
	}

	magic := Magic(data[0:4])
	if magic != MagicVRFs && magic != MagicVRFx {
		return Header{}, wterrors.Formatf("bad container magic %q", string(data[0:4]))
	}

	platform, ok := platforms[string(data[4:8])]
	if !ok {
		platform = string(data[4:8])
	}

	word := binary.LittleEndian.Uint32(data[12:16])
	h := Header{
		Magic:        magic,
		Platform:     platform,
		OriginalSize: binary.LittleEndian.Uint32(data[8:12]),
		PackedSize:   word & packedSizeMask,
		PackType:     PackType(word >> packTypeShift),
	}

	switch h.PackType {
	case NotPacked, ZstdObfsNoCheck, ZstdObfs:
	default:
		return Header{}, wterrors.Formatf("unknown pack type 0x%02x", uint8(h.PackType))
	}

	return h, nil
}

func parseExtHeader(data []byte) (ExtHeader, error) {
	if len(data) < ExtHeaderSize {
		return ExtHeader{}, wterrors.Formatf("extended header truncated: %d bytes", len(data))
	}
	var e ExtHeader
	e.Size = binary.LittleEndian.Uint16(data[0:2])
	e.Flags = binary.LittleEndian.Uint16(data[2:4])
	copy(e.Version[:], data[4:8])
	return e, nil
}
