package wrpl

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/flaneur2020/wtunpack/wtunpack/blk"
	wterrors "github.com/flaneur2020/wtunpack/wtunpack/errors"
	"github.com/flaneur2020/wtunpack/wtunpack/logger"
	"github.com/klauspost/compress/zlib"
)

// DefaultMaxInflatedSize bounds every zlib stream in a replay.
const DefaultMaxInflatedSize = 256 << 20

// Variant tells how the results block was stored.
type Variant int

const (
	// VariantRaw stores the results block as a plain fat block.
	VariantRaw Variant = iota
	// VariantZlib wraps the results block in a zlib stream.
	VariantZlib
)

func (v Variant) String() string {
	switch v {
	case VariantRaw:
		return "raw"
	case VariantZlib:
		return "zlib"
	default:
		return fmt.Sprintf("variant(%d)", int(v))
	}
}

// Replay is a parsed replay file.
type Replay struct {
	Header      Header
	MSet        *blk.Section
	WRPLU       []byte
	Rez         *blk.Section
	Variant     Variant
	WRPLUOffset int64
}

type options struct {
	decoder     blk.Decoder
	maxInflated int64
}

// Option configures Parse.
type Option func(*options)

// WithDecoder replaces the block decoder used for the settings and results
// blocks. The default is blk.FatDecoder.
func WithDecoder(d blk.Decoder) Option {
	return func(o *options) {
		o.decoder = d
	}
}

// WithMaxInflatedSize bounds the size of each inflated stream. n <= 0 keeps
// the default.
func WithMaxInflatedSize(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxInflated = n
		}
	}
}

// Parse reads a whole replay from r.
func Parse(r io.Reader, opts ...Option) (*Replay, error) {
	o := options{decoder: blk.FatDecoder{}, maxInflated: DefaultMaxInflatedSize}
	for _, opt := range opts {
		opt(&o)
	}

	buf := make([]byte, HeaderSize)
	if err := readFull(r, buf, "header"); err != nil {
		return nil, err
	}
	h, err := ParseHeader(buf)
	if err != nil {
		return nil, err
	}
	rp := &Replay{Header: h, WRPLUOffset: h.WRPLUOffset()}

	raw, err := readN(r, int64(h.MSetSize), "m_set")
	if err != nil {
		return nil, err
	}
	if rp.MSet, err = o.decoder.Decode(raw); err != nil {
		return nil, wterrors.ErrFormat.WithMessage("wrpl: bad m_set block").WithCause(err)
	}

	if int64(h.RezOffset) < rp.WRPLUOffset {
		return nil, wterrors.ErrFormat.WithMessage("wrpl: rez offset precedes replay stream").
			WithDetail("rez_offset", h.RezOffset).WithDetail("wrplu_offset", rp.WRPLUOffset)
	}
	size := int64(h.RezOffset) - rp.WRPLUOffset
	raw, err = readN(r, size, "wrplu")
	if err != nil {
		return nil, err
	}
	rp.WRPLU = []byte{}
	if size > 0 {
		if rp.WRPLU, err = inflate(raw, o.maxInflated); err != nil {
			if errors.Is(err, wterrors.ErrOutputTooLarge) {
				return nil, err
			}
			return nil, wterrors.ErrFormat.WithMessage("wrpl: bad wrplu stream").WithCause(err)
		}
	}

	rest, err := io.ReadAll(io.LimitReader(r, o.maxInflated+1))
	if err != nil {
		return nil, wterrors.ErrIO.WithMessage("wrpl: read rez").WithCause(err)
	}
	if int64(len(rest)) > o.maxInflated {
		return nil, wterrors.ErrOutputTooLarge.WithMessage("wrpl: rez block too large").WithDetail("limit", o.maxInflated)
	}
	if rp.Rez, rp.Variant, err = decodeRez(o, rest); err != nil {
		return nil, err
	}
	return rp, nil
}

// decodeRez tries the block as stored first and falls back to a zlib wrapper.
func decodeRez(o options, data []byte) (*blk.Section, Variant, error) {
	s, rawErr := o.decoder.Decode(data)
	if rawErr == nil {
		return s, VariantRaw, nil
	}
	logger.Debug("rez is not a raw block (%v), trying zlib", rawErr)

	inflated, err := inflate(data, o.maxInflated)
	if err != nil {
		if errors.Is(err, wterrors.ErrOutputTooLarge) {
			return nil, 0, err
		}
		return nil, 0, wterrors.ErrFormat.WithMessage("wrpl: rez is neither a raw nor a zlib block").
			WithDetail("raw_error", rawErr.Error()).WithCause(err)
	}
	if s, err = o.decoder.Decode(inflated); err != nil {
		return nil, 0, wterrors.ErrFormat.WithMessage("wrpl: bad rez block").WithCause(err)
	}
	return s, VariantZlib, nil
}

func inflate(src []byte, limit int64) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(out)) > limit {
		return nil, wterrors.ErrOutputTooLarge.WithDetail("limit", limit)
	}
	return out, nil
}

func readFull(r io.Reader, buf []byte, what string) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return wterrors.Formatf("wrpl: %s truncated", what)
		}
		return wterrors.ErrIO.WithMessage("wrpl: read " + what).WithCause(err)
	}
	return nil
}

// readN reads exactly n bytes without trusting n for the allocation.
func readN(r io.Reader, n int64, what string) ([]byte, error) {
	var buf bytes.Buffer
	got, err := io.Copy(&buf, io.LimitReader(r, n))
	if err != nil {
		return nil, wterrors.ErrIO.WithMessage("wrpl: read " + what).WithCause(err)
	}
	if got != n {
		return nil, wterrors.ErrFormat.WithMessage("wrpl: "+what+" runs past end of file").
			WithDetail("want", n).WithDetail("got", got)
	}
	return buf.Bytes(), nil
}
