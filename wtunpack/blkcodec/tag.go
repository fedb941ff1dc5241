// Package blkcodec decodes individual vromfs entries. Every non-empty entry
// starts with a tag byte selecting one of a closed set of encodings; some of
// them need a zstd dictionary shipped inside the same container.
package blkcodec

import "fmt"

// Tag is the first payload byte of an entry.
type Tag uint8

const (
	TagFat          Tag = 1
	TagFatZstd      Tag = 2
	TagSlim         Tag = 3
	TagSlimZstd     Tag = 4
	TagSlimZstdDict Tag = 5
)

// TagNone is reported for empty entries.
const TagNone Tag = 0

// SharedNamesEntry is the internal name of the shared names map entry.
const SharedNamesEntry = "nm"

func (t Tag) String() string {
	switch t {
	case TagNone:
		return "NONE"
	case TagFat:
		return "FAT"
	case TagFatZstd:
		return "FAT_ZSTD"
	case TagSlim:
		return "SLIM"
	case TagSlimZstd:
		return "SLIM_ZSTD"
	case TagSlimZstdDict:
		return "SLIM_ZSTD_DICT"
	default:
		return fmt.Sprintf("TAG(%d)", uint8(t))
	}
}

// NeedsDictionary reports whether decoding requires the shared dictionary.
func (t Tag) NeedsDictionary() bool {
	return t == TagSlimZstdDict
}

// TagOf returns the tag of an entry payload, TagNone for empty payloads.
func TagOf(data []byte) Tag {
	if len(data) == 0 {
		return TagNone
	}
	return Tag(data[0])
}
