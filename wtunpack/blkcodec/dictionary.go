package blkcodec

import (
	"bytes"
	"encoding/hex"

	wterrors "github.com/flaneur2020/wtunpack/wtunpack/errors"
	"github.com/flaneur2020/wtunpack/wtunpack/logger"
	"github.com/flaneur2020/wtunpack/wtunpack/vromfs"
	"github.com/klauspost/compress/zstd"
	"github.com/opencontainers/go-digest"
)

const dictionarySuffix = ".dict"

var zstdDictMagic = []byte{0x37, 0xA4, 0x30, 0xEC}

// Dictionary is a zstd dictionary stored as an ordinary container entry.
type Dictionary struct {
	Name    string
	Content []byte
	Digest  digest.Digest
}

// Formatted reports whether Content is a zstd-format dictionary rather than
// raw history content.
func (d *Dictionary) Formatted() bool {
	return bytes.HasPrefix(d.Content, zstdDictMagic)
}

func (d *Dictionary) decoderOption() zstd.DOption {
	if d.Formatted() {
		return zstd.WithDecoderDicts(d.Content)
	}
	return zstd.WithDecoderDictRaw(0, d.Content)
}

// HasSharedNames reports whether the last entry of c is the nm entry.
func HasSharedNames(c *vromfs.Container) bool {
	n := len(c.Names)
	return n > 0 && c.Names[n-1] == SharedNamesEntry
}

// DictionaryName extracts the dictionary file name referenced by an nm
// payload. ok is false when the id field is all zero.
func DictionaryName(nm []byte) (name string, ok bool, err error) {
	if len(nm) < sharedNamesIDOffset+sharedNamesIDSize {
		return "", false, wterrors.Formatf("%s entry too short for dictionary id: %d bytes", SharedNamesEntry, len(nm))
	}
	id := nm[sharedNamesIDOffset : sharedNamesIDOffset+sharedNamesIDSize]
	if bytes.Equal(id, make([]byte, sharedNamesIDSize)) {
		return "", false, nil
	}
	return hex.EncodeToString(id) + dictionarySuffix, true, nil
}

// locateDictionary returns the dictionary name referenced by nm and the table
// index of the last entry carrying that name. name is empty when c has no
// dictionary reference; index is -1 when the entry is missing.
func locateDictionary(c *vromfs.Container) (name string, index int, err error) {
	if !HasSharedNames(c) {
		return "", -1, nil
	}
	name, ok, err := DictionaryName(c.Entries[len(c.Entries)-1].Data)
	if err != nil || !ok {
		return "", -1, err
	}
	for i := len(c.Names) - 1; i >= 0; i-- {
		if c.Names[i] == name {
			return name, i, nil
		}
	}
	return name, -1, nil
}

// DictionaryIndex returns the table index of the dictionary entry of c, or
// -1 when there is none. Its bytes are dictionary content, not a tagged
// payload.
func DictionaryIndex(c *vromfs.Container) int {
	_, index, err := locateDictionary(c)
	if err != nil {
		return -1
	}
	return index
}

// ResolveDictionary locates the shared dictionary of c. It returns nil when
// the container has no nm entry or nm carries no dictionary id.
func ResolveDictionary(c *vromfs.Container) (*Dictionary, error) {
	name, index, err := locateDictionary(c)
	if err != nil {
		return nil, err
	}
	if name == "" {
		logger.Debug("%s carries no dictionary", SharedNamesEntry)
		return nil, nil
	}
	if index < 0 {
		return nil, wterrors.ErrDictionaryNotFound.WithDetail("dictionary", name)
	}

	content := c.Entries[index].Data
	logger.Debug("resolved dictionary %s (%d bytes)", name, len(content))
	return &Dictionary{
		Name:    name,
		Content: content,
		Digest:  digest.FromBytes(content),
	}, nil
}
