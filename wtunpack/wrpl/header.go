// Package wrpl reads client replay files: a fixed header followed by the
// mission settings block, the opaque replay stream and the results block.
package wrpl

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"

	wterrors "github.com/flaneur2020/wtunpack/wtunpack/errors"
)

// HeaderSize is the size of the fixed replay header.
const HeaderSize = 1220

// Magic opens every replay file.
var Magic = [4]byte{0xe5, 0xac, 0x00, 0x10}

// Header is the fixed-layout replay header. Reserved spans are skipped.
type Header struct {
	Version       uint32
	Level         string
	LevelSettings string
	BattleType    string
	Environment   string
	Visibility    string
	RezOffset     uint32
	SessionID     uint64
	MSetSize      uint32
	LocName       string
	StartTime     uint32
	TimeLimit     uint32
	ScoreLimit    uint32
	BattleType2   string
	KillStreak    string
}

// headerReader walks the header in field order. Bounds are checked once up
// front, so reads never fail.
type headerReader struct {
	buf []byte
	pos int
}

func (r *headerReader) skip(n int) {
	r.pos += n
}

func (r *headerReader) u32() uint32 {
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v
}

func (r *headerReader) u64() uint64 {
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v
}

// cstr reads a NUL-padded field of n bytes, stopping at the first NUL.
func (r *headerReader) cstr(n int) string {
	field := r.buf[r.pos : r.pos+n]
	r.pos += n
	if i := bytes.IndexByte(field, 0); i >= 0 {
		field = field[:i]
	}
	return string(field)
}

// ParseHeader decodes the first HeaderSize bytes of buf.
func ParseHeader(buf []byte) (Header, error) {
	var h Header
	if len(buf) < HeaderSize {
		return h, wterrors.Formatf("wrpl: header truncated: %d of %d bytes", len(buf), HeaderSize)
	}
	if !bytes.Equal(buf[:4], Magic[:]) {
		return h, wterrors.ErrFormat.WithMessage("wrpl: bad magic").WithDetail("magic", hex.EncodeToString(buf[:4]))
	}

	r := &headerReader{buf: buf[:HeaderSize], pos: 4}
	h.Version = r.u32()
	h.Level = r.cstr(128)
	h.LevelSettings = r.cstr(260)
	h.BattleType = r.cstr(128)
	h.Environment = r.cstr(128)
	h.Visibility = r.cstr(32)
	h.RezOffset = r.u32()
	r.skip(40)
	h.SessionID = r.u64()
	r.skip(8)
	h.MSetSize = r.u32()
	r.skip(28)
	h.LocName = r.cstr(128)
	h.StartTime = r.u32()
	h.TimeLimit = r.u32()
	h.ScoreLimit = r.u32()
	r.skip(48)
	h.BattleType2 = r.cstr(128)
	h.KillStreak = r.cstr(128)
	return h, nil
}

// WRPLUOffset is the stream position right after the settings block.
func (h Header) WRPLUOffset() int64 {
	return HeaderSize + int64(h.MSetSize)
}
