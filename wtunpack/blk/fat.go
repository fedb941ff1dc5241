package blk

import (
	"bytes"
	"encoding/binary"
	"math"

	wterrors "github.com/flaneur2020/wtunpack/wtunpack/errors"
)

// Decoder turns a binary block into a Section.
type Decoder interface {
	Decode(data []byte) (*Section, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(data []byte) (*Section, error)

func (f DecoderFunc) Decode(data []byte) (*Section, error) {
	return f(data)
}

// Param types of the fat format.
const (
	TypeStr     = 0x01
	TypeInt     = 0x02
	TypeFloat   = 0x03
	TypeFloat2  = 0x04
	TypeFloat3  = 0x05
	TypeFloat4  = 0x06
	TypeInt2    = 0x07
	TypeInt3    = 0x08
	TypeBool    = 0x09
	TypeColor   = 0x0a
	TypeFloat12 = 0x0b
	TypeLong    = 0x0c
)

const (
	paramSize     = 8
	maxBlockDepth = 256
	sharedNameBit = 0x80000000
)

// FatDecoder decodes self-contained blocks that carry their own name table.
type FatDecoder struct{}

type block struct {
	nameID      uint64
	paramsCount uint64
	blocksCount uint64
	firstBlock  uint64
	paramStart  uint64
}

type param struct {
	nameID uint32
	typ    uint8
	value  uint32
}

type fatReader struct {
	data []byte
	pos  int
}

func (r *fatReader) uvarint(what string) (uint64, error) {
	v, n := binary.Uvarint(r.data[r.pos:])
	if n <= 0 {
		return 0, wterrors.Formatf("blk: bad varint for %s at offset %d", what, r.pos)
	}
	r.pos += n
	return v, nil
}

func (r *fatReader) take(n uint64, what string) ([]byte, error) {
	if n > uint64(len(r.data)-r.pos) {
		return nil, wterrors.Formatf("blk: %s of %d bytes at offset %d exceeds input", what, n, r.pos)
	}
	b := r.data[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, nil
}

// Decode parses a fat block. Empty input is an empty section; leftover bytes
// after the block table are an error.
func (FatDecoder) Decode(data []byte) (*Section, error) {
	if len(data) == 0 {
		return &Section{}, nil
	}
	r := &fatReader{data: data}

	names, err := r.names()
	if err != nil {
		return nil, err
	}

	blocksCount, err := r.uvarint("blocks count")
	if err != nil {
		return nil, err
	}
	paramsCount, err := r.uvarint("params count")
	if err != nil {
		return nil, err
	}
	dataSize, err := r.uvarint("params data size")
	if err != nil {
		return nil, err
	}
	paramsData, err := r.take(dataSize, "params data")
	if err != nil {
		return nil, err
	}

	if paramsCount > uint64(len(data))/paramSize {
		return nil, wterrors.Formatf("blk: %d params cannot fit in %d bytes", paramsCount, len(data))
	}
	raw, err := r.take(paramsCount*paramSize, "params")
	if err != nil {
		return nil, err
	}
	params := make([]param, paramsCount)
	for i := range params {
		head := binary.LittleEndian.Uint32(raw[i*paramSize:])
		params[i] = param{
			nameID: head & 0x00FFFFFF,
			typ:    uint8(head >> 24),
			value:  binary.LittleEndian.Uint32(raw[i*paramSize+4:]),
		}
	}

	if blocksCount > uint64(len(data)) {
		return nil, wterrors.Formatf("blk: %d blocks cannot fit in %d bytes", blocksCount, len(data))
	}
	blocks := make([]block, blocksCount)
	var assigned uint64
	for i := range blocks {
		b := &blocks[i]
		if b.nameID, err = r.uvarint("block name"); err != nil {
			return nil, err
		}
		if b.paramsCount, err = r.uvarint("block params count"); err != nil {
			return nil, err
		}
		if b.blocksCount, err = r.uvarint("block children count"); err != nil {
			return nil, err
		}
		if b.blocksCount > 0 {
			if b.firstBlock, err = r.uvarint("first child"); err != nil {
				return nil, err
			}
		}
		b.paramStart = assigned
		assigned += b.paramsCount
		if assigned > paramsCount {
			return nil, wterrors.Formatf("blk: blocks claim more than %d params", paramsCount)
		}
	}

	if r.pos != len(data) {
		return nil, wterrors.Formatf("blk: %d trailing bytes", len(data)-r.pos)
	}
	if assigned != paramsCount {
		return nil, wterrors.Formatf("blk: %d of %d params unassigned", paramsCount-assigned, paramsCount)
	}
	if blocksCount == 0 {
		return &Section{}, nil
	}

	c := &composer{
		names:  names,
		params: params,
		blocks: blocks,
		data:   paramsData,
		seen:   make([]bool, len(blocks)),
	}
	return c.compose(0, 0)
}

func (r *fatReader) names() ([]string, error) {
	count, err := r.uvarint("names count")
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	size, err := r.uvarint("names size")
	if err != nil {
		return nil, err
	}
	blob, err := r.take(size, "names")
	if err != nil {
		return nil, err
	}
	if len(blob) == 0 || blob[len(blob)-1] != 0 {
		return nil, wterrors.Formatf("blk: names table not NUL terminated")
	}
	parts := bytes.Split(blob[:len(blob)-1], []byte{0})
	if uint64(len(parts)) != count {
		return nil, wterrors.Formatf("blk: names table holds %d names, header says %d", len(parts), count)
	}
	names := make([]string, len(parts))
	for i, p := range parts {
		names[i] = string(p)
	}
	return names, nil
}

type composer struct {
	names  []string
	params []param
	blocks []block
	data   []byte
	seen   []bool
}

func (c *composer) name(id uint64) (string, error) {
	if id >= uint64(len(c.names)) {
		return "", wterrors.Formatf("blk: name id %d out of range", id)
	}
	return c.names[id], nil
}

func (c *composer) compose(idx uint64, depth int) (*Section, error) {
	if depth > maxBlockDepth {
		return nil, wterrors.Formatf("blk: blocks nested deeper than %d", maxBlockDepth)
	}
	if c.seen[idx] {
		return nil, wterrors.Formatf("blk: block %d referenced twice", idx)
	}
	c.seen[idx] = true

	b := c.blocks[idx]
	end := b.firstBlock + b.blocksCount
	if b.blocksCount > 0 && (b.firstBlock <= idx || end < b.firstBlock || end > uint64(len(c.blocks))) {
		return nil, wterrors.Formatf("blk: block %d children [%d, %d) out of range", idx, b.firstBlock, end)
	}

	s := &Section{Fields: make([]Field, 0, b.paramsCount+b.blocksCount)}
	for _, p := range c.params[b.paramStart : b.paramStart+b.paramsCount] {
		name, err := c.name(uint64(p.nameID))
		if err != nil {
			return nil, err
		}
		v, err := c.value(p)
		if err != nil {
			return nil, wterrors.ErrFormat.WithMessage("blk: bad param").WithDetail("name", name).WithCause(err)
		}
		s.Add(name, v)
	}

	for child := b.firstBlock; child < end; child++ {
		nameID := c.blocks[child].nameID
		if nameID == 0 {
			return nil, wterrors.Formatf("blk: nested block %d has no name", child)
		}
		name, err := c.name(nameID - 1)
		if err != nil {
			return nil, err
		}
		sub, err := c.compose(child, depth+1)
		if err != nil {
			return nil, err
		}
		s.Add(name, sub)
	}
	return s, nil
}

func (c *composer) at(off uint32, n int) ([]byte, error) {
	if uint64(off)+uint64(n) > uint64(len(c.data)) {
		return nil, wterrors.Formatf("blk: value at %d+%d exceeds params data", off, n)
	}
	return c.data[off : int(off)+n], nil
}

func (c *composer) floats(off uint32, n int) ([]float32, error) {
	b, err := c.at(off, n*4)
	if err != nil {
		return nil, err
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

func (c *composer) ints(off uint32, n int) ([]int32, error) {
	b, err := c.at(off, n*4)
	if err != nil {
		return nil, err
	}
	out := make([]int32, n)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

func (c *composer) value(p param) (interface{}, error) {
	switch p.typ {
	case TypeStr:
		if p.value&sharedNameBit != 0 {
			return nil, wterrors.Formatf("blk: shared name reference in fat block")
		}
		if p.value >= uint32(len(c.data)) {
			return nil, wterrors.Formatf("blk: string offset %d exceeds params data", p.value)
		}
		rest := c.data[p.value:]
		end := bytes.IndexByte(rest, 0)
		if end < 0 {
			return nil, wterrors.Formatf("blk: unterminated string at %d", p.value)
		}
		return string(rest[:end]), nil
	case TypeInt:
		return int32(p.value), nil
	case TypeFloat:
		return math.Float32frombits(p.value), nil
	case TypeBool:
		return p.value != 0, nil
	case TypeColor:
		return Color{B: uint8(p.value), G: uint8(p.value >> 8), R: uint8(p.value >> 16), A: uint8(p.value >> 24)}, nil
	case TypeFloat2:
		f, err := c.floats(p.value, 2)
		if err != nil {
			return nil, err
		}
		return [2]float32{f[0], f[1]}, nil
	case TypeFloat3:
		f, err := c.floats(p.value, 3)
		if err != nil {
			return nil, err
		}
		return [3]float32{f[0], f[1], f[2]}, nil
	case TypeFloat4:
		f, err := c.floats(p.value, 4)
		if err != nil {
			return nil, err
		}
		return [4]float32{f[0], f[1], f[2], f[3]}, nil
	case TypeFloat12:
		f, err := c.floats(p.value, 12)
		if err != nil {
			return nil, err
		}
		var m Float12
		copy(m[:], f)
		return m, nil
	case TypeInt2:
		v, err := c.ints(p.value, 2)
		if err != nil {
			return nil, err
		}
		return [2]int32{v[0], v[1]}, nil
	case TypeInt3:
		v, err := c.ints(p.value, 3)
		if err != nil {
			return nil, err
		}
		return [3]int32{v[0], v[1], v[2]}, nil
	case TypeLong:
		b, err := c.at(p.value, 8)
		if err != nil {
			return nil, err
		}
		return int64(binary.LittleEndian.Uint64(b)), nil
	default:
		return nil, wterrors.Formatf("blk: unknown param type 0x%02x", p.typ)
	}
}
