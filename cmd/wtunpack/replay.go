package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/flaneur2020/wtunpack/wtunpack/blk"
	"github.com/flaneur2020/wtunpack/wtunpack/wrpl"
	"github.com/spf13/cobra"
)

var (
	replayOutput      string
	replayMaxInflated int64
)

func newReplayCmd() *cobra.Command {
	replayCmd := &cobra.Command{
		Use:   "replay <FILE>",
		Short: "Unpack a replay into FILE.d/ with m_set.json, rez.json, wrplu.bin and ssid.txt",
		Args:  cobra.ExactArgs(1),
		Run:   runReplay,
	}
	replayCmd.PersistentFlags().Int64Var(&replayMaxInflated, "max-inflated-size", wrpl.DefaultMaxInflatedSize, "Largest inflated stream in bytes")
	replayCmd.Flags().StringVarP(&replayOutput, "output", "o", ".", "Directory to create FILE.d/ in")

	infoCmd := &cobra.Command{
		Use:   "info <FILE>",
		Short: "Print the header summary of a replay",
		Args:  cobra.ExactArgs(1),
		Run:   runReplayInfo,
	}
	replayCmd.AddCommand(infoCmd)
	return replayCmd
}

func parseReplay(filename string) *wrpl.Replay {
	f, err := os.Open(filename)
	if err != nil {
		fatal("%v", err)
	}
	defer f.Close()

	rp, err := wrpl.Parse(f, wrpl.WithMaxInflatedSize(replayMaxInflated))
	if err != nil {
		fatal("%s: %v", filename, err)
	}
	return rp
}

func writeSection(path string, s *blk.Section) error {
	out, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0644)
}

func runReplay(cmd *cobra.Command, args []string) {
	filename := args[0]
	rp := parseReplay(filename)

	outDir := filepath.Join(replayOutput, filepath.Base(filename)+".d")
	if err := os.MkdirAll(outDir, 0755); err != nil {
		fatal("failed to create output directory %s: %v", outDir, err)
	}

	if err := writeSection(filepath.Join(outDir, "m_set.json"), rp.MSet); err != nil {
		fatal("%v", err)
	}
	if err := writeSection(filepath.Join(outDir, "rez.json"), rp.Rez); err != nil {
		fatal("%v", err)
	}
	if err := os.WriteFile(filepath.Join(outDir, "wrplu.bin"), rp.WRPLU, 0644); err != nil {
		fatal("%v", err)
	}
	ssid := strconv.FormatUint(rp.Header.SessionID, 10)
	if err := os.WriteFile(filepath.Join(outDir, "ssid.txt"), []byte(ssid), 0644); err != nil {
		fatal("%v", err)
	}

	fmt.Printf("%s => %s\n", filename, outDir)
}

func runReplayInfo(cmd *cobra.Command, args []string) {
	filename := args[0]
	rp := parseReplay(filename)
	h := rp.Header

	fmt.Printf("Replay %s:\n", filename)
	fmt.Printf("  version:      %d\n", h.Version)
	fmt.Printf("  level:        %s\n", h.Level)
	fmt.Printf("  settings:     %s\n", h.LevelSettings)
	fmt.Printf("  battle type:  %s (%s)\n", h.BattleType, h.BattleType2)
	fmt.Printf("  environment:  %s, visibility %s\n", h.Environment, h.Visibility)
	fmt.Printf("  session id:   %d\n", h.SessionID)
	fmt.Printf("  start time:   %s\n", time.Unix(int64(h.StartTime), 0).UTC().Format(time.RFC3339))
	fmt.Printf("  m_set_size:   %d\n", h.MSetSize)
	fmt.Printf("  wrplu_offset: %d\n", rp.WRPLUOffset)
	fmt.Printf("  wrplu_size:   %d\n", int64(h.RezOffset)-rp.WRPLUOffset)
	fmt.Printf("  rez_offset:   %d\n", h.RezOffset)
	fmt.Printf("  rez variant:  %s\n", rp.Variant)
}
