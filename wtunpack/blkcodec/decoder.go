package blkcodec

import (
	"errors"
	"fmt"

	wterrors "github.com/flaneur2020/wtunpack/wtunpack/errors"
	"github.com/klauspost/compress/zstd"
)

// DefaultMaxOutputSize bounds the decompressed size of a single entry.
const DefaultMaxOutputSize = 5_000_000

const (
	fatZstdHeaderSize   = 4
	sharedNamesHdrSize  = 40
	sharedNamesIDOffset = 8
	sharedNamesIDSize   = 32

	// zstd applies the memory limit to the frame window as well; the output
	// ceiling is enforced on the decoded length instead.
	minDecoderMemory = 8 << 20
)

// Decoder turns raw entry bytes into their decoded content. A Decoder owns a
// zstd decompression context and is not safe for concurrent use; give every
// worker its own, usually through a DecoderPool.
type Decoder struct {
	zd    *zstd.Decoder
	dict  *Dictionary
	limit int
}

// NewDecoder creates a decoder bound to dict (nil for none). maxOutput <= 0
// selects DefaultMaxOutputSize.
func NewDecoder(dict *Dictionary, maxOutput int) (*Decoder, error) {
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutputSize
	}

	opts := []zstd.DOption{
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(uint64(max(maxOutput, minDecoderMemory))),
	}
	if dict != nil {
		opts = append(opts, dict.decoderOption())
	}

	zd, err := zstd.NewReader(nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &Decoder{zd: zd, dict: dict, limit: maxOutput}, nil
}

// Dictionary returns the dictionary this decoder was built with.
func (d *Decoder) Dictionary() *Dictionary {
	return d.dict
}

// Limit returns the output ceiling in bytes.
func (d *Decoder) Limit() int {
	return d.limit
}

// Close releases the zstd context.
func (d *Decoder) Close() {
	d.zd.Close()
}

// Decode dispatches on the tag byte of data. Empty input decodes to empty
// output.
func (d *Decoder) Decode(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}

	tag := Tag(data[0])
	switch tag {
	case TagFat, TagSlim:
		return data[1:], nil

	case TagFatZstd:
		if len(data) < fatZstdHeaderSize {
			return nil, wterrors.Formatf("FAT_ZSTD entry too short: %d bytes", len(data))
		}
		size := int(data[1]) | int(data[2])<<8 | int(data[3])<<16
		if fatZstdHeaderSize+size > len(data) {
			return nil, wterrors.ErrFormat.WithMessage("FAT_ZSTD packed size exceeds entry").
				WithDetail("packed_size", size).WithDetail("entry_size", len(data))
		}
		out, err := d.decompress(data[fatZstdHeaderSize : fatZstdHeaderSize+size])
		if err != nil {
			return nil, err
		}
		if len(out) == 0 {
			return out, nil
		}
		return out[1:], nil

	case TagSlimZstd:
		return d.decompress(data[1:])

	case TagSlimZstdDict:
		if d.dict == nil {
			return nil, wterrors.ErrMissingDictionary.WithDetail("tag", tag.String())
		}
		return d.decompress(data[1:])

	default:
		return nil, wterrors.ErrFormat.WithMessage("unknown entry tag").WithDetail("tag", uint8(tag))
	}
}

// DecodeSharedNames decodes the nm entry: a 40-byte private header followed
// by a zstd stream, decoded with whatever dictionary this decoder carries.
func (d *Decoder) DecodeSharedNames(data []byte) ([]byte, error) {
	if len(data) < sharedNamesHdrSize {
		return nil, wterrors.Formatf("%s entry too short: %d bytes", SharedNamesEntry, len(data))
	}
	return d.decompress(data[sharedNamesHdrSize:])
}

func (d *Decoder) decompress(src []byte) ([]byte, error) {
	out, err := d.zd.DecodeAll(src, nil)
	if err != nil {
		if errors.Is(err, zstd.ErrDecoderSizeExceeded) || errors.Is(err, zstd.ErrWindowSizeExceeded) {
			return nil, wterrors.ErrOutputTooLarge.WithDetail("limit", d.limit).WithCause(err)
		}
		return nil, wterrors.ErrFormat.WithMessage("zstd decompression failed").WithCause(err)
	}
	if len(out) > d.limit {
		return nil, wterrors.ErrOutputTooLarge.WithDetail("limit", d.limit).WithDetail("size", len(out))
	}
	return out, nil
}
