package blkcodec

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"

	wterrors "github.com/flaneur2020/wtunpack/wtunpack/errors"
	"github.com/flaneur2020/wtunpack/wtunpack/vromfs"
	"github.com/klauspost/compress/zstd"
)

func nmEntry(id []byte, payload []byte) []byte {
	nm := make([]byte, sharedNamesHdrSize)
	copy(nm[sharedNamesIDOffset:], id)
	return append(nm, payload...)
}

func container(names []string, datas ...[]byte) *vromfs.Container {
	c := &vromfs.Container{Names: names}
	for _, d := range datas {
		c.Entries = append(c.Entries, vromfs.Entry{Data: d})
	}
	return c
}

func TestResolveDictionary(t *testing.T) {
	id := bytes.Repeat([]byte{0xab}, sharedNamesIDSize)
	dictName := hex.EncodeToString(id) + ".dict"
	dictContent := []byte("dictionary content")

	tests := []struct {
		name     string
		c        *vromfs.Container
		wantName string
		wantErr  *wterrors.Error
	}{
		{
			name: "no nm entry",
			c:    container([]string{"a.blk"}, []byte("\x01a")),
		},
		{
			name: "nm not last",
			c:    container([]string{"nm", "a.blk"}, nmEntry(id, nil), []byte("\x01a")),
		},
		{
			name: "zero id",
			c:    container([]string{"a.blk", "nm"}, []byte("\x05x"), nmEntry(nil, nil)),
		},
		{
			name:     "found",
			c:        container([]string{dictName, "a.blk", "nm"}, dictContent, []byte("\x05x"), nmEntry(id, nil)),
			wantName: dictName,
		},
		{
			name:    "not found",
			c:       container([]string{"other.dict", "nm"}, dictContent, nmEntry(id, nil)),
			wantErr: wterrors.ErrDictionaryNotFound,
		},
		{
			name:    "nm too short",
			c:       container([]string{"nm"}, []byte("short")),
			wantErr: wterrors.ErrFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dict, err := ResolveDictionary(tt.c)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ResolveDictionary() error = %v, want %s", err, tt.wantErr.Code)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveDictionary() error = %v", err)
			}
			if tt.wantName == "" {
				if dict != nil {
					t.Fatalf("ResolveDictionary() = %+v, want nil", dict)
				}
				return
			}
			if dict == nil || dict.Name != tt.wantName {
				t.Fatalf("ResolveDictionary() = %+v, want name %s", dict, tt.wantName)
			}
			if !bytes.Equal(dict.Content, dictContent) {
				t.Fatalf("Content = %q", dict.Content)
			}
			if dict.Formatted() {
				t.Fatal("Formatted() = true for raw content")
			}
		})
	}
}

func TestZeroIDMeansNoDictionary(t *testing.T) {
	c := container([]string{"a.blk", "nm"}, []byte("\x05payload"), nmEntry(nil, nil))

	dict, err := ResolveDictionary(c)
	if err != nil || dict != nil {
		t.Fatalf("ResolveDictionary() = %v, %v; want nil, nil", dict, err)
	}
	if got := DictionaryIndex(c); got != -1 {
		t.Fatalf("DictionaryIndex() = %d, want -1", got)
	}

	_, err = newDecoder(t, dict, 0).Decode(c.Entries[0].Data)
	if !errors.Is(err, wterrors.ErrMissingDictionary) {
		t.Fatalf("Decode() error = %v, want MISSING_DICTIONARY", err)
	}
}

func TestDictionaryIndex(t *testing.T) {
	id := bytes.Repeat([]byte{1}, sharedNamesIDSize)
	name := hex.EncodeToString(id) + ".dict"

	tests := []struct {
		name string
		c    *vromfs.Container
		want int
	}{
		{"no nm", container([]string{name}, []byte("dict")), -1},
		{"missing", container([]string{"a.blk", "nm"}, []byte("\x01a"), nmEntry(id, nil)), -1},
		{"nm too short", container([]string{name, "nm"}, []byte("dict"), []byte("short")), -1},
		{"found", container([]string{"a.blk", name, "nm"}, []byte("\x01a"), []byte("dict"), nmEntry(id, nil)), 1},
		{"last of duplicates", container([]string{name, name, "nm"}, []byte("old"), []byte("new"), nmEntry(id, nil)), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DictionaryIndex(tt.c); got != tt.want {
				t.Fatalf("DictionaryIndex() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSharedNamesUseDictionary(t *testing.T) {
	dictContent := bytes.Repeat([]byte("vehicle_name_"), 50)
	plain := []byte("vehicle_name_a\x00vehicle_name_b\x00")
	packed := compress(t, plain, zstd.WithEncoderDictRaw(0, dictContent))

	id := bytes.Repeat([]byte{0x42}, sharedNamesIDSize)
	name := hex.EncodeToString(id) + ".dict"
	c := container([]string{name, "nm"}, dictContent, nmEntry(id, packed))

	dict, err := ResolveDictionary(c)
	if err != nil {
		t.Fatalf("ResolveDictionary() error = %v", err)
	}
	got, err := newDecoder(t, dict, 0).DecodeSharedNames(c.Entries[1].Data)
	if err != nil {
		t.Fatalf("DecodeSharedNames() error = %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("DecodeSharedNames() = %q", got)
	}
}

func buildFormattedDictionary(t *testing.T) []byte {
	t.Helper()
	var samples [][]byte
	var history bytes.Buffer
	kinds := []string{"tank", "plane", "ship", "heli", "boat"}
	for i := 0; i < 64; i++ {
		sample := fmt.Sprintf("gamedata/units/%s_%d.blk weapon=%d ammo=%d crew=%d\n",
			kinds[i%len(kinds)], i, i*7, i*13%97, i%5+1)
		samples = append(samples, []byte(sample))
		if i%2 == 0 {
			history.WriteString(sample)
		}
	}

	dict, err := zstd.BuildDict(zstd.BuildDictOptions{
		ID:       4242,
		Contents: samples,
		History:  history.Bytes(),
		Offsets:  [3]int{1, 4, 8},
	})
	if err != nil {
		t.Fatalf("BuildDict() error = %v", err)
	}
	return dict
}

func TestFormattedDictionary(t *testing.T) {
	dictContent := buildFormattedDictionary(t)
	blkPlain := []byte("gamedata/units/tank_3.blk weapon=21 ammo=39 crew=4\n")
	namesPlain := []byte("tank_3\x00plane_4\x00")

	id := bytes.Repeat([]byte{0x37}, sharedNamesIDSize)
	name := hex.EncodeToString(id) + ".dict"
	c := container([]string{name, "a.blk", "nm"},
		dictContent,
		append([]byte{byte(TagSlimZstdDict)}, compress(t, blkPlain, zstd.WithEncoderDict(dictContent))...),
		nmEntry(id, compress(t, namesPlain, zstd.WithEncoderDict(dictContent))),
	)

	dict, err := ResolveDictionary(c)
	if err != nil {
		t.Fatalf("ResolveDictionary() error = %v", err)
	}
	if !dict.Formatted() {
		t.Fatal("Formatted() = false for a zstd dictionary")
	}

	d := newDecoder(t, dict, 0)
	got, err := d.Decode(c.Entries[1].Data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !bytes.Equal(got, blkPlain) {
		t.Fatalf("Decode() = %q", got)
	}
	got, err = d.DecodeSharedNames(c.Entries[2].Data)
	if err != nil {
		t.Fatalf("DecodeSharedNames() error = %v", err)
	}
	if !bytes.Equal(got, namesPlain) {
		t.Fatalf("DecodeSharedNames() = %q", got)
	}
}

func TestDecoderPool(t *testing.T) {
	pool := NewDecoderPool(1024)
	defer pool.Close()

	a, err := pool.Acquire(nil)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	b, err := pool.Acquire(nil)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if a == b {
		t.Fatal("Acquire() handed out the same decoder twice")
	}
	if a.Limit() != 1024 {
		t.Fatalf("Limit() = %d, want 1024", a.Limit())
	}

	pool.Release(a)
	c, err := pool.Acquire(nil)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if c != a {
		t.Fatal("Acquire() did not reuse the released decoder")
	}

	dict := rawDictionary([]byte("some dictionary"))
	d, err := pool.Acquire(dict)
	if err != nil {
		t.Fatalf("Acquire(dict) error = %v", err)
	}
	if d == a || d == b || d.Dictionary() != dict {
		t.Fatal("Acquire(dict) returned a decoder for another dictionary")
	}
	pool.Release(b)
	pool.Release(c)
	pool.Release(d)
}
