package wtunpack

import (
	"context"
	"path"
	"path/filepath"
	"sync"

	"github.com/flaneur2020/wtunpack/wtunpack/logger"
	"github.com/flaneur2020/wtunpack/wtunpack/storage"
	"golang.org/x/sync/errgroup"
)

// DefaultBatchConcurrency is the number of containers extracted at once.
const DefaultBatchConcurrency = 4

// BatchResult is the outcome for one container.
type BatchResult struct {
	Container string
	OutputDir string
	Written   []string
	Err       error
}

// BatchStats summarizes a batch run.
type BatchStats struct {
	TotalContainers int
	Extracted       int
	Failed          int
	WrittenFiles    int
	ProcessedBytes  int64
}

// Batch extracts every container of a storage, skipping the ones that fail.
type Batch struct {
	Unpacker    *Unpacker
	Concurrency int // containers in flight; <= 0 selects DefaultBatchConcurrency

	// OnResult, when set, is called once per container as it finishes and
	// takes over reporting failures. Calls are serialized.
	OnResult func(BatchResult)
}

// OutputDirFor maps a container name to its directory under destRoot:
// "aces.vromfs.bin" becomes "<destRoot>/aces.vromfs.bin_u".
func OutputDirFor(destRoot, container string) string {
	return filepath.Join(destRoot, filepath.FromSlash(path.Clean(container))+"_u")
}

// Run extracts the containers listed by s. A failing container is logged and
// recorded in its result; only listing errors and cancellation abort the run.
func (b *Batch) Run(ctx context.Context, s storage.Storage, destRoot string) ([]BatchResult, *BatchStats, error) {
	descs, err := s.ListContainers(ctx)
	if err != nil {
		return nil, nil, err
	}

	concurrency := b.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}

	results := make([]BatchResult, len(descs))
	stats := &BatchStats{TotalContainers: len(descs)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, desc := range descs {
		if gctx.Err() != nil {
			break
		}
		i, desc := i, desc
		g.Go(func() error {
			res := BatchResult{Container: desc.Name, OutputDir: OutputDirFor(destRoot, desc.Name)}
			res.Written, res.Err = b.extract(gctx, s, desc.Name, res.OutputDir)

			mu.Lock()
			defer mu.Unlock()
			results[i] = res
			if res.Err != nil {
				stats.Failed++
			} else {
				stats.Extracted++
				stats.WrittenFiles += len(res.Written)
				stats.ProcessedBytes += desc.Size
			}
			switch {
			case b.OnResult != nil:
				b.OnResult(res)
			case res.Err != nil:
				logger.Error("Skipping %s: %v", desc.Name, res.Err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, stats, err
	}
	return results, stats, ctx.Err()
}

func (b *Batch) extract(ctx context.Context, s storage.Storage, name, outDir string) ([]string, error) {
	data, err := storage.ReadContainer(ctx, s, name)
	if err != nil {
		return nil, err
	}
	return b.Unpacker.Unpack(ctx, data, outDir)
}
