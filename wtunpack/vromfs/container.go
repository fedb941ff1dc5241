package vromfs

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"fmt"

	wterrors "github.com/flaneur2020/wtunpack/wtunpack/errors"
	"github.com/klauspost/compress/zstd"
)

const (
	tableHeaderSize = 16
	dataRecordSize  = 16
	nameOffsetSize  = 8
	digestSize      = md5.Size
)

// Entry is one record of the data table.
type Entry struct {
	Data []byte
}

// Container is a parsed vromfs archive. Names and Entries are index aligned:
// Names[i] is the internal path of Entries[i].
type Container struct {
	Header  Header
	Ext     *ExtHeader
	Names   []string
	Entries []Entry
}

// Len returns the number of entries.
func (c *Container) Len() int {
	return len(c.Entries)
}

// Parse decodes a complete vromfs container held in memory.
func Parse(data []byte) (*Container, error) {
	header, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}

	c := &Container{Header: header}
	pos := HeaderSize

	if header.Magic == MagicVRFx {
		ext, err := parseExtHeader(data[pos:])
		if err != nil {
			return nil, err
		}
		c.Ext = &ext
		pos += ExtHeaderSize
	}

	body, err := readBody(header, data[pos:])
	if err != nil {
		return nil, err
	}

	names, entries, err := parseTables(body)
	if err != nil {
		return nil, err
	}
	c.Names = names
	c.Entries = entries
	return c, nil
}

func readBody(h Header, rest []byte) ([]byte, error) {
	if !h.PackType.Packed() {
		if uint64(h.OriginalSize) > uint64(len(rest)) {
			return nil, wterrors.Formatf("body truncated: want %d bytes, have %d", h.OriginalSize, len(rest))
		}
		return rest[:h.OriginalSize], nil
	}

	need := uint64(h.PackedSize)
	if h.PackType.HasDigest() {
		need += digestSize
	}
	if need > uint64(len(rest)) {
		return nil, wterrors.Formatf("packed body truncated: want %d bytes, have %d", need, len(rest))
	}

	packed := Deobfuscate(rest[:h.PackedSize])
	body, err := unpackBody(packed, h.OriginalSize)
	if err != nil {
		return nil, err
	}

	if h.PackType.HasDigest() {
		want := rest[h.PackedSize : h.PackedSize+digestSize]
		got := md5.Sum(body)
		if !bytes.Equal(got[:], want) {
			return nil, wterrors.Formatf("body digest mismatch: got %x, want %x", got, want)
		}
	}
	return body, nil
}

// minDecoderMemory is the smallest zstd memory limit handed to a decoder. The
// limit also caps the frame window, so it cannot track small body sizes.
const minDecoderMemory = 8 << 20

func unpackBody(packed []byte, originalSize uint32) ([]byte, error) {
	limit := max(uint64(originalSize), minDecoderMemory)
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1), zstd.WithDecoderMaxMemory(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer dec.Close()

	body, err := dec.DecodeAll(packed, nil)
	if err != nil {
		return nil, wterrors.ErrFormat.WithMessage("failed to unpack container body").WithCause(err)
	}
	if uint64(len(body)) != uint64(originalSize) {
		return nil, wterrors.Formatf("unpacked body is %d bytes, header says %d", len(body), originalSize)
	}
	return body, nil
}

type tableHeader struct {
	offset uint32
	count  uint32
}

func readTableHeader(body []byte, at int, what string) (tableHeader, error) {
	if at+tableHeaderSize > len(body) {
		return tableHeader{}, wterrors.Formatf("%s table header truncated", what)
	}
	return tableHeader{
		offset: binary.LittleEndian.Uint32(body[at:]),
		count:  binary.LittleEndian.Uint32(body[at+4:]),
	}, nil
}

// span checks that [off, off+n) lies within a buffer of size limit.
func span(off, n uint64, limit int) bool {
	end := off + n
	return end >= off && end <= uint64(limit)
}

func parseTables(body []byte) ([]string, []Entry, error) {
	namesHdr, err := readTableHeader(body, 0, "filename")
	if err != nil {
		return nil, nil, err
	}
	dataHdr, err := readTableHeader(body, tableHeaderSize, "data")
	if err != nil {
		return nil, nil, err
	}

	if namesHdr.count != dataHdr.count {
		return nil, nil, wterrors.Formatf("filename table has %d names, data table has %d entries",
			namesHdr.count, dataHdr.count)
	}

	names, err := parseNames(body, namesHdr)
	if err != nil {
		return nil, nil, err
	}
	entries, err := parseEntries(body, dataHdr)
	if err != nil {
		return nil, nil, err
	}
	return names, entries, nil
}

func parseNames(body []byte, h tableHeader) ([]string, error) {
	count := uint64(h.count)
	if !span(uint64(h.offset), count*nameOffsetSize, len(body)) {
		return nil, wterrors.Formatf("filename table at %d with %d names exceeds body of %d bytes",
			h.offset, h.count, len(body))
	}

	names := make([]string, 0, h.count)
	for i := uint64(0); i < count; i++ {
		at := uint64(h.offset) + i*nameOffsetSize
		off := binary.LittleEndian.Uint64(body[at:])
		if off >= uint64(len(body)) {
			return nil, wterrors.ErrFormat.WithMessage("filename offset past end of body").
				WithDetail("index", i).WithDetail("offset", off)
		}
		end := bytes.IndexByte(body[off:], 0)
		if end < 0 {
			return nil, wterrors.ErrFormat.WithMessage("unterminated filename").WithDetail("index", i)
		}
		names = append(names, string(body[off:off+uint64(end)]))
	}
	return names, nil
}

func parseEntries(body []byte, h tableHeader) ([]Entry, error) {
	count := uint64(h.count)
	if !span(uint64(h.offset), count*dataRecordSize, len(body)) {
		return nil, wterrors.Formatf("data table at %d with %d entries exceeds body of %d bytes",
			h.offset, h.count, len(body))
	}

	entries := make([]Entry, 0, h.count)
	for i := uint64(0); i < count; i++ {
		at := uint64(h.offset) + i*dataRecordSize
		off := uint64(binary.LittleEndian.Uint32(body[at:]))
		size := uint64(binary.LittleEndian.Uint32(body[at+4:]))
		if !span(off, size, len(body)) {
			return nil, wterrors.ErrFormat.WithMessage("data entry past end of body").
				WithDetail("index", i).WithDetail("offset", off).WithDetail("size", size)
		}
		entries = append(entries, Entry{Data: body[off : off+size : off+size]})
	}
	return entries, nil
}
