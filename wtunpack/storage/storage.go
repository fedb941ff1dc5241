package storage

import (
	"context"
	"io"

	wterrors "github.com/flaneur2020/wtunpack/wtunpack/errors"
	"github.com/opencontainers/go-digest"
)

// ContainerSuffix names the files a directory storage lists.
const ContainerSuffix = ".vromfs.bin"

// ContainerDescriptor describes a container file available from storage.
type ContainerDescriptor struct {
	Name   string // slash-separated, relative to the storage root
	Size   int64
	Digest digest.Digest // empty when the backend does not know it
}

// Storage abstracts container enumeration and reads.
type Storage interface {
	ListContainers(ctx context.Context) ([]ContainerDescriptor, error)
	OpenContainer(ctx context.Context, name string) (io.ReadCloser, error)
}

// ReadContainer reads a whole container into memory.
func ReadContainer(ctx context.Context, s Storage, name string) ([]byte, error) {
	rc, err := s.OpenContainer(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, wterrors.ErrIO.WithMessage("failed to read container").WithDetail("name", name).WithCause(err)
	}
	return data, nil
}
