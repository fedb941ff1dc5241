package blkcodec

import (
	"bytes"
	"errors"
	"testing"

	wterrors "github.com/flaneur2020/wtunpack/wtunpack/errors"
	"github.com/klauspost/compress/zstd"
	"github.com/opencontainers/go-digest"
)

func compress(t *testing.T, data []byte, opts ...zstd.EOption) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil, opts...)
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil)
}

func newDecoder(t *testing.T, dict *Dictionary, limit int) *Decoder {
	t.Helper()
	d, err := NewDecoder(dict, limit)
	if err != nil {
		t.Fatalf("NewDecoder() error = %v", err)
	}
	t.Cleanup(d.Close)
	return d
}

func rawDictionary(content []byte) *Dictionary {
	return &Dictionary{Name: "test.dict", Content: content, Digest: digest.FromBytes(content)}
}

func TestDecode_Verbatim(t *testing.T) {
	d := newDecoder(t, nil, 0)

	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"empty", nil, ""},
		{"fat", []byte("\x01hello"), "hello"},
		{"slim", []byte("\x03world"), "world"},
		{"fat tag only", []byte{1}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.Decode(tt.data)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if string(got) != tt.want {
				t.Fatalf("Decode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecode_FatZstd(t *testing.T) {
	plain := append([]byte{byte(TagFat)}, []byte("fat block body")...)
	packed := compress(t, plain)

	entry := []byte{byte(TagFatZstd), byte(len(packed)), byte(len(packed) >> 8), byte(len(packed) >> 16)}
	entry = append(entry, packed...)
	entry = append(entry, 0xde, 0xad) // trailing bytes beyond the size field are ignored

	got, err := newDecoder(t, nil, 0).Decode(entry)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if string(got) != "fat block body" {
		t.Fatalf("Decode() = %q, want %q", got, "fat block body")
	}
}

func TestDecode_FatZstdSizePastEnd(t *testing.T) {
	entry := []byte{byte(TagFatZstd), 0xff, 0x00, 0x00, 1, 2, 3}
	_, err := newDecoder(t, nil, 0).Decode(entry)
	if !errors.Is(err, wterrors.ErrFormat) {
		t.Fatalf("Decode() error = %v, want FORMAT", err)
	}

	_, err = newDecoder(t, nil, 0).Decode([]byte{byte(TagFatZstd), 1})
	if !errors.Is(err, wterrors.ErrFormat) {
		t.Fatalf("Decode(short) error = %v, want FORMAT", err)
	}
}

func TestDecode_SlimZstd(t *testing.T) {
	plain := bytes.Repeat([]byte("slim "), 100)
	entry := append([]byte{byte(TagSlimZstd)}, compress(t, plain)...)

	got, err := newDecoder(t, nil, 0).Decode(entry)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("Decode() = %q", got)
	}
}

func TestDecode_SlimZstdDict(t *testing.T) {
	dictContent := bytes.Repeat([]byte("shared vocabulary of names "), 40)
	plain := []byte("shared vocabulary of names and then something else")
	packed := compress(t, plain, zstd.WithEncoderDictRaw(0, dictContent))
	entry := append([]byte{byte(TagSlimZstdDict)}, packed...)

	got, err := newDecoder(t, rawDictionary(dictContent), 0).Decode(entry)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("Decode() = %q, want %q", got, plain)
	}

	_, err = newDecoder(t, nil, 0).Decode(entry)
	if !errors.Is(err, wterrors.ErrMissingDictionary) {
		t.Fatalf("Decode() without dictionary error = %v, want MISSING_DICTIONARY", err)
	}
}

func TestDecode_UnknownTag(t *testing.T) {
	for _, tag := range []byte{0, 6, 0x32, 0xff} {
		_, err := newDecoder(t, nil, 0).Decode([]byte{tag, 'x'})
		if !errors.Is(err, wterrors.ErrFormat) {
			t.Errorf("Decode(tag %d) error = %v, want FORMAT", tag, err)
		}
	}
}

func TestDecode_OutputTooLarge(t *testing.T) {
	t.Run("default ceiling", func(t *testing.T) {
		bomb := make([]byte, DefaultMaxOutputSize+1)
		entry := append([]byte{byte(TagSlimZstd)}, compress(t, bomb)...)

		_, err := newDecoder(t, nil, 0).Decode(entry)
		if !errors.Is(err, wterrors.ErrOutputTooLarge) {
			t.Fatalf("Decode() error = %v, want OUTPUT_TOO_LARGE", err)
		}
	})

	t.Run("configured ceiling", func(t *testing.T) {
		entry := append([]byte{byte(TagSlimZstd)}, compress(t, make([]byte, 4096))...)

		_, err := newDecoder(t, nil, 1024).Decode(entry)
		if !errors.Is(err, wterrors.ErrOutputTooLarge) {
			t.Fatalf("Decode() error = %v, want OUTPUT_TOO_LARGE", err)
		}

		if _, err := newDecoder(t, nil, 8192).Decode(entry); err != nil {
			t.Fatalf("Decode() under ceiling error = %v", err)
		}
	})

	t.Run("ceiling below zstd window", func(t *testing.T) {
		plain := []byte("short entry")
		entry := append([]byte{byte(TagSlimZstd)}, compress(t, plain)...)

		got, err := newDecoder(t, nil, 64).Decode(entry)
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if !bytes.Equal(got, plain) {
			t.Fatalf("Decode() = %q", got)
		}
	})

	t.Run("stream without content size", func(t *testing.T) {
		var buf bytes.Buffer
		enc, err := zstd.NewWriter(&buf)
		if err != nil {
			t.Fatalf("NewWriter() error = %v", err)
		}
		chunk := make([]byte, 1024)
		for i := 0; i < 64; i++ {
			if _, err := enc.Write(chunk); err != nil {
				t.Fatalf("Write() error = %v", err)
			}
		}
		if err := enc.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
		entry := append([]byte{byte(TagSlimZstd)}, buf.Bytes()...)

		_, err = newDecoder(t, nil, 4096).Decode(entry)
		if !errors.Is(err, wterrors.ErrOutputTooLarge) {
			t.Fatalf("Decode() error = %v, want OUTPUT_TOO_LARGE", err)
		}
	})
}

func TestDecode_CorruptZstd(t *testing.T) {
	_, err := newDecoder(t, nil, 0).Decode([]byte{byte(TagSlimZstd), 0x28, 0xb5, 0x2f, 0xfd, 0xff})
	if !errors.Is(err, wterrors.ErrFormat) {
		t.Fatalf("Decode() error = %v, want FORMAT", err)
	}
}

func TestDecodeSharedNames(t *testing.T) {
	plain := []byte("name0\x00name1\x00")
	nm := make([]byte, sharedNamesHdrSize)
	nm = append(nm, compress(t, plain)...)

	got, err := newDecoder(t, nil, 0).DecodeSharedNames(nm)
	if err != nil {
		t.Fatalf("DecodeSharedNames() error = %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("DecodeSharedNames() = %q", got)
	}

	if _, err := newDecoder(t, nil, 0).DecodeSharedNames(nm[:20]); !errors.Is(err, wterrors.ErrFormat) {
		t.Fatalf("DecodeSharedNames(short) error = %v, want FORMAT", err)
	}
}

func TestTagOf(t *testing.T) {
	if TagOf(nil) != TagNone {
		t.Error("TagOf(nil) != TagNone")
	}
	if got := TagOf([]byte{5, 0}); got != TagSlimZstdDict || !got.NeedsDictionary() {
		t.Errorf("TagOf() = %v", got)
	}
	if TagFatZstd.String() != "FAT_ZSTD" {
		t.Errorf("String() = %q", TagFatZstd.String())
	}
}
