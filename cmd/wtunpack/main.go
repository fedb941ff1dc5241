package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/flaneur2020/wtunpack/wtunpack"
	"github.com/flaneur2020/wtunpack/wtunpack/blkcodec"
	"github.com/flaneur2020/wtunpack/wtunpack/logger"
	"github.com/flaneur2020/wtunpack/wtunpack/storage"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	logLevel      string
	outputPath    string
	inputFilelist string
	noProgress    bool
	workers       int
	maxOutputSize int
	decodePolicy  string
	hashAlgorithm string
	concurrency   int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "wtunpack",
		Short: "Unpack vromfs containers and wrpl replays",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logger.ParseLogLevel(logLevel)
			if err != nil {
				return err
			}
			logger.SetLogLevel(level)
			return nil
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "error", "Log level: silent, error, warn, info or debug")

	unpackCmd := &cobra.Command{
		Use:   "unpack <FILE>",
		Short: "Extract a vromfs container. Output goes to FILE_u, or OUTPUT/<basename of FILE> with -O",
		Args:  cobra.ExactArgs(1),
		Run:   runUnpack,
	}
	unpackCmd.Flags().StringVarP(&outputPath, "output", "O", "", "Directory to unpack into")
	unpackCmd.Flags().StringVar(&inputFilelist, "input-filelist", "", "JSON list of internal paths to extract; others are skipped")
	unpackCmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable progress bar (progress is enabled by default)")
	addDecodeFlags(unpackCmd)

	metadataCmd := &cobra.Command{
		Use:   "metadata <FILE>",
		Short: "Print the file list of a vromfs container with content hashes",
		Args:  cobra.ExactArgs(1),
		Run:   runMetadata,
	}
	metadataCmd.Flags().StringVarP(&outputPath, "output", "O", "", "Write the JSON document to this file instead of stdout")
	metadataCmd.Flags().StringVar(&hashAlgorithm, "hash", "md5", "Content hash: md5, sha256 or sha512")
	metadataCmd.Flags().StringVar(&inputFilelist, "input-filelist", "", "JSON list of internal paths to include")
	addDecodeFlags(metadataCmd)

	batchCmd := &cobra.Command{
		Use:   "batch <DIR>",
		Short: "Extract every *.vromfs.bin below DIR, skipping containers that fail",
		Args:  cobra.ExactArgs(1),
		Run:   runBatch,
	}
	batchCmd.Flags().StringVarP(&outputPath, "output", "O", "", "Root directory for the output (default DIR)")
	batchCmd.Flags().IntVar(&concurrency, "concurrency", wtunpack.DefaultBatchConcurrency, "Containers extracted at once")
	addDecodeFlags(batchCmd)

	rootCmd.AddCommand(unpackCmd, metadataCmd, batchCmd, newReplayCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addDecodeFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&workers, "workers", 0, "Entries decoded at once (default number of CPUs)")
	cmd.Flags().IntVar(&maxOutputSize, "max-output-size", blkcodec.DefaultMaxOutputSize, "Largest decompressed entry in bytes")
	cmd.Flags().StringVar(&decodePolicy, "decode", "all", "Entries to decode: all, or blk to copy non-.blk entries as stored")
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func unpackerOptions() wtunpack.Options {
	policy, err := wtunpack.ParseDecodePolicy(decodePolicy)
	if err != nil {
		fatal("%v", err)
	}
	opts := wtunpack.Options{
		MaxOutputSize: maxOutputSize,
		Workers:       workers,
		Policy:        policy,
	}
	if inputFilelist != "" {
		f, err := os.Open(inputFilelist)
		if err != nil {
			fatal("failed to open file list: %v", err)
		}
		defer f.Close()
		if opts.AllowList, err = wtunpack.LoadAllowList(f); err != nil {
			fatal("failed to load file list %s: %v", inputFilelist, err)
		}
	}
	return opts
}

func runUnpack(cmd *cobra.Command, args []string) {
	filename := args[0]

	dest := filename + "_u"
	if outputPath != "" {
		dest = filepath.Join(outputPath, filepath.Base(filename))
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		fatal("%v", err)
	}

	opts := unpackerOptions()

	// Progress bar is enabled by default
	var bar *progressbar.ProgressBar
	if !noProgress {
		opts.Progress = func(done, total int) {
			if bar == nil {
				bar = progressbar.Default(int64(total), "Unpacking files")
			}
			bar.Set(done)
		}
	}

	u := wtunpack.NewUnpacker(opts)
	defer u.Close()

	names, err := u.Unpack(context.Background(), data, dest)
	if err != nil {
		if bar != nil {
			fmt.Fprintln(os.Stderr)
		}
		fatal("%s: %v", filename, err)
	}

	if bar != nil {
		fmt.Println()
	}
	fmt.Printf("Unpacked %d files: %s => %s\n", len(names), filename, dest)
}

func runMetadata(cmd *cobra.Command, args []string) {
	filename := args[0]

	data, err := os.ReadFile(filename)
	if err != nil {
		fatal("%v", err)
	}

	opts := unpackerOptions()
	if opts.Hash, err = wtunpack.ParseHashAlgorithm(hashAlgorithm); err != nil {
		fatal("%v", err)
	}
	u := wtunpack.NewUnpacker(opts)
	defer u.Close()

	fl, err := u.FileList(context.Background(), data)
	if err != nil {
		fatal("%s: %v", filename, err)
	}
	out, err := json.Marshal(fl)
	if err != nil {
		fatal("%v", err)
	}

	if outputPath == "" {
		fmt.Println(string(out))
		return
	}
	if err := os.WriteFile(outputPath, out, 0644); err != nil {
		fatal("%v", err)
	}
	fmt.Printf("%s => %s\n", filename, outputPath)
}

func runBatch(cmd *cobra.Command, args []string) {
	root := args[0]
	dest := root
	if outputPath != "" {
		dest = outputPath
	}

	u := wtunpack.NewUnpacker(unpackerOptions())
	defer u.Close()

	b := &wtunpack.Batch{
		Unpacker:    u,
		Concurrency: concurrency,
		OnResult: func(r wtunpack.BatchResult) {
			if r.Err != nil {
				fmt.Fprintf(os.Stderr, "[FAIL] %s: %v\n", r.Container, r.Err)
				return
			}
			fmt.Printf("[OK] %s => %s (%d files)\n", r.Container, r.OutputDir, len(r.Written))
		},
	}

	_, stats, err := b.Run(context.Background(), storage.NewDirStorage(root), dest)
	if err != nil {
		fatal("%v", err)
	}

	fmt.Printf("Extracted %d/%d containers (%d files, %d bytes read)",
		stats.Extracted, stats.TotalContainers, stats.WrittenFiles, stats.ProcessedBytes)
	if stats.Failed > 0 {
		fmt.Printf(" (%d failed)", stats.Failed)
	}
	fmt.Println()
}
