// Package wtunpack extracts the entries of vromfs containers to disk or into
// a metadata document.
package wtunpack

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/flaneur2020/wtunpack/wtunpack/blkcodec"
	wterrors "github.com/flaneur2020/wtunpack/wtunpack/errors"
	"github.com/flaneur2020/wtunpack/wtunpack/logger"
	"github.com/flaneur2020/wtunpack/wtunpack/vromfs"
	"golang.org/x/sync/errgroup"
)

// DecodePolicy chooses which entries go through the tag dispatcher.
type DecodePolicy int

const (
	// DecodeAll dispatches every entry on its tag byte.
	DecodeAll DecodePolicy = iota
	// DecodeBlkOnly dispatches *.blk entries only and copies the rest as stored.
	DecodeBlkOnly
)

func (p DecodePolicy) String() string {
	switch p {
	case DecodeAll:
		return "all"
	case DecodeBlkOnly:
		return "blk"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParseDecodePolicy maps "all" or "blk" to a policy.
func ParseDecodePolicy(name string) (DecodePolicy, error) {
	switch strings.ToLower(name) {
	case "", "all":
		return DecodeAll, nil
	case "blk":
		return DecodeBlkOnly, nil
	default:
		return DecodeAll, fmt.Errorf("unknown decode policy %q", name)
	}
}

// ProgressCallback reports finished entries out of the selected total. Calls
// are serialized.
type ProgressCallback func(done, total int)

// Options configures an Unpacker. The zero value is usable.
type Options struct {
	MaxOutputSize int           // per entry; <= 0 selects blkcodec.DefaultMaxOutputSize
	Workers       int           // <= 0 selects runtime.NumCPU()
	Policy        DecodePolicy  // DecodeAll by default
	Hash          HashAlgorithm // FileList digest; MD5 by default
	AllowList     *AllowList    // nil extracts everything
	Progress      ProgressCallback
	Pool          *blkcodec.DecoderPool // shared across Unpackers when set; its own limit then applies
}

// Unpacker extracts containers. It is safe for concurrent use.
type Unpacker struct {
	opts    Options
	pool    *blkcodec.DecoderPool
	ownPool bool
}

// NewUnpacker creates an Unpacker; Close releases its decoder pool.
func NewUnpacker(opts Options) *Unpacker {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Hash == "" {
		opts.Hash = HashMD5
	}
	u := &Unpacker{opts: opts, pool: opts.Pool}
	if u.pool == nil {
		u.pool = blkcodec.NewDecoderPool(opts.MaxOutputSize)
		u.ownPool = true
	}
	return u
}

// Close releases the pool unless it was supplied through Options.
func (u *Unpacker) Close() {
	if u.ownPool {
		u.pool.Close()
	}
}

type selected struct {
	index    int
	name     string // normalized
	verbatim bool   // the shared dictionary; never dispatched
}

// Unpack writes every selected non-empty entry of the container in data
// under destDir and returns the written names in table order.
func (u *Unpacker) Unpack(ctx context.Context, data []byte, destDir string) ([]string, error) {
	c, err := vromfs.Parse(data)
	if err != nil {
		return nil, err
	}
	sel := u.selectEntries(c)

	paths := make([]string, len(sel))
	for i, s := range sel {
		if paths[i], err = SafeJoin(destDir, s.name); err != nil {
			return nil, err
		}
	}

	written := make([]bool, len(sel))
	err = u.run(ctx, c, sel, func(i int, payload []byte) error {
		if len(payload) == 0 {
			return nil
		}
		if err := writeFile(paths[i], payload); err != nil {
			return err
		}
		written[i] = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(sel))
	for i, s := range sel {
		if written[i] {
			names = append(names, s.name)
		}
	}
	logger.Info("Unpacked %d of %d entries into %s", len(names), c.Len(), destDir)
	return names, nil
}

// FileList decodes every selected entry and records its digest without
// writing anything.
func (u *Unpacker) FileList(ctx context.Context, data []byte) (*FileList, error) {
	c, err := vromfs.Parse(data)
	if err != nil {
		return nil, err
	}
	sel := u.selectEntries(c)

	files := make([]FileEntry, len(sel))
	err = u.run(ctx, c, sel, func(i int, payload []byte) error {
		files[i] = FileEntry{Filename: sel[i].name, Hash: u.opts.Hash.Sum(payload)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &FileList{Version: FileListVersion, Files: files}, nil
}

// selectEntries applies the allow-list. When two entries normalize to the
// same name the later one wins, as it would when written in table order.
func (u *Unpacker) selectEntries(c *vromfs.Container) []selected {
	if u.opts.AllowList.Len() == 0 {
		logger.Warn("Nothing to do: the file list is empty")
		return nil
	}

	last := make(map[string]int, len(c.Names))
	for i, raw := range c.Names {
		last[NormalizeName(raw)] = i
	}

	dictIndex := blkcodec.DictionaryIndex(c)
	sel := make([]selected, 0, len(c.Names))
	for i, raw := range c.Names {
		name := NormalizeName(raw)
		if !u.opts.AllowList.Allows(name) {
			continue
		}
		if last[name] != i {
			logger.Warn("Entry %q is shadowed by a later entry of the same name", raw)
			continue
		}
		sel = append(sel, selected{index: i, name: name, verbatim: i == dictIndex})
	}
	return sel
}

// needsDictionary reports whether any selected entry decodes with the shared
// dictionary context.
func (u *Unpacker) needsDictionary(c *vromfs.Container, sel []selected) bool {
	for _, s := range sel {
		if s.verbatim {
			continue
		}
		if s.name == blkcodec.SharedNamesEntry {
			return true
		}
		if u.dispatches(s.name) && blkcodec.TagOf(c.Entries[s.index].Data).NeedsDictionary() {
			return true
		}
	}
	return false
}

func (u *Unpacker) dispatches(name string) bool {
	return u.opts.Policy == DecodeAll || strings.HasSuffix(name, ".blk")
}

// run decodes the selected entries on a fixed set of workers, each with its
// own decoder, and hands every payload to emit. The first error stops the
// run.
func (u *Unpacker) run(ctx context.Context, c *vromfs.Container, sel []selected, emit func(i int, payload []byte) error) error {
	if len(sel) == 0 {
		return nil
	}

	var dict *blkcodec.Dictionary
	if u.needsDictionary(c, sel) {
		var err error
		if dict, err = blkcodec.ResolveDictionary(c); err != nil {
			return err
		}
	}

	workers := u.opts.Workers
	if workers > len(sel) {
		workers = len(sel)
	}

	var (
		mu   sync.Mutex
		done int
	)
	report := func() {
		if u.opts.Progress == nil {
			return
		}
		mu.Lock()
		done++
		u.opts.Progress(done, len(sel))
		mu.Unlock()
	}

	g, ctx := errgroup.WithContext(ctx)
	jobs := make(chan int)
	g.Go(func() error {
		defer close(jobs)
		for i := range sel {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	for w := 0; w < workers; w++ {
		g.Go(func() error {
			dec, err := u.pool.Acquire(dict)
			if err != nil {
				return err
			}
			defer u.pool.Release(dec)

			for i := range jobs {
				s := sel[i]
				payload, err := u.decodeEntry(dec, s, c.Entries[s.index].Data)
				if err != nil {
					return withEntry(err, c.Names[s.index])
				}
				if err := emit(i, payload); err != nil {
					return withEntry(err, c.Names[s.index])
				}
				report()
			}
			return nil
		})
	}

	return g.Wait()
}

func (u *Unpacker) decodeEntry(dec *blkcodec.Decoder, s selected, data []byte) ([]byte, error) {
	switch {
	case len(data) == 0:
		return []byte{}, nil
	case s.verbatim:
		return data, nil
	case s.name == blkcodec.SharedNamesEntry:
		return dec.DecodeSharedNames(data)
	case !u.dispatches(s.name):
		return data, nil
	default:
		return dec.Decode(data)
	}
}

func writeFile(path string, payload []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return wterrors.ErrIO.WithMessage("failed to create directory").WithDetail("path", path).WithCause(err)
	}
	if err := os.WriteFile(path, payload, 0644); err != nil {
		return wterrors.ErrIO.WithMessage("failed to write file").WithDetail("path", path).WithCause(err)
	}
	return nil
}

func withEntry(err error, name string) error {
	var e *wterrors.Error
	if errors.As(err, &e) {
		return e.WithDetail("entry", name)
	}
	return fmt.Errorf("entry %q: %w", name, err)
}
