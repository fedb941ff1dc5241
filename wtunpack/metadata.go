package wtunpack

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/opencontainers/go-digest"
)

// FileListVersion is the only metadata document version.
const FileListVersion = 1

// FileList is the metadata document of one container.
type FileList struct {
	Version int         `json:"version"`
	Files   []FileEntry `json:"filelist"`
}

// FileEntry names one entry and the hex digest of its decoded content.
type FileEntry struct {
	Filename string `json:"filename"`
	Hash     string `json:"hash"`
}

// HashAlgorithm selects the content digest of a FileList.
type HashAlgorithm string

const (
	HashMD5    HashAlgorithm = "md5"
	HashSHA256 HashAlgorithm = HashAlgorithm(digest.SHA256)
	HashSHA512 HashAlgorithm = HashAlgorithm(digest.SHA512)
)

// ParseHashAlgorithm validates a name; "" selects MD5.
func ParseHashAlgorithm(name string) (HashAlgorithm, error) {
	switch alg := HashAlgorithm(name); alg {
	case "", HashMD5:
		return HashMD5, nil
	case HashSHA256, HashSHA512:
		return alg, nil
	default:
		return "", fmt.Errorf("unsupported hash algorithm %q", name)
	}
}

// Sum returns the lowercase hex digest of data.
func (h HashAlgorithm) Sum(data []byte) string {
	if h == HashMD5 || h == "" {
		sum := md5.Sum(data)
		return hex.EncodeToString(sum[:])
	}
	return digest.Algorithm(h).FromBytes(data).Encoded()
}
