package main

import (
	"context"
	"fmt"
	"os"

	"github.com/flaneur2020/p3dz-get/p3dz"
	"github.com/flaneur2020/p3dz-get/p3dz/logger"
	"github.com/flaneur2020/p3dz-get/p3dz/p3dzutil"
	stor "github.com/flaneur2020/p3dz-get/p3dz/storage"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	verbosity   int
	workers     int
	cacheSize   int
	outputDir   string
	suffix      string
	compression string
	overwrite   bool
	noProgress  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "p3dz",
		Short: "A CLI tool for finding and decompressing P3DZ containers",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.SetLogLevel(logLevel(verbosity))
		},
	}

	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase verbosity (-v files, -vv chunks, -vvv instructions)")
	rootCmd.PersistentFlags().IntVar(&workers, "workers", 0, "Chunks decoded in parallel per file (0 = number of CPUs)")

	// test command
	testCmd := &cobra.Command{
		Use:   "test <DIR>",
		Short: "Decompress every P3DZ file found in DIR and its subdirectories without writing output",
		Args:  cobra.ExactArgs(1),
		Run:   runTest,
	}

	// decompress command
	decompressCmd := &cobra.Command{
		Use:   "decompress <DIR>",
		Short: "Like test, but save decompressed files next to the originals as *.decompressed",
		Args:  cobra.ExactArgs(1),
		Run:   runDecompress,
	}
	decompressCmd.Flags().StringVar(&outputDir, "output-dir", "", "Write outputs under this directory instead of next to the originals")
	decompressCmd.Flags().StringVar(&suffix, "suffix", p3dz.DefaultSuffix, "Suffix appended to output file names")
	decompressCmd.Flags().StringVar(&compression, "compress", "none", "Compress outputs with none, gzip or zstd")
	decompressCmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace outputs that already exist")
	decompressCmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable progress bar (progress is enabled by default)")
	decompressCmd.Flags().IntVar(&cacheSize, "cache-size", p3dz.DefaultCacheSize, "Number of decompressed files kept to skip duplicate containers")

	// inspect command
	inspectCmd := &cobra.Command{
		Use:   "inspect <FILE>",
		Short: "Print the header and chunk table of a P3DZ file",
		Args:  cobra.ExactArgs(1),
		Run:   runInspect,
	}

	rootCmd.AddCommand(testCmd, decompressCmd, inspectCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func logLevel(v int) logger.LogLevel {
	switch {
	case v <= 0:
		return logger.LogLevelError
	case v == 1:
		return logger.LogLevelInfo
	default:
		return logger.LogLevelDebug
	}
}

func newDecompressor() *p3dz.Decompressor {
	return p3dz.NewDecompressor(p3dz.Options{
		Workers:     workers,
		TraceChunks: verbosity >= 3,
	})
}

func scan(ctx context.Context, dir string) (*stor.LocalStorage, []stor.FileDescriptor) {
	storage := stor.NewLocalStorage(dir)
	files, err := p3dz.NewScanner(storage).Scan(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error scanning %s: %v\n", dir, err)
		os.Exit(1)
	}
	return storage, files
}

func runTest(cmd *cobra.Command, args []string) {
	dir := args[0]
	ctx := context.Background()

	storage, files := scan(ctx, dir)
	extractor := p3dz.NewExtractor(storage, newDecompressor(), p3dz.ExtractOptions{})

	var failed int
	for _, result := range extractor.Verify(ctx, files) {
		if result.Err != nil {
			failed++
			fmt.Printf("testing %s: FAILED: %v\n", result.Path, result.Err)
			continue
		}
		fmt.Printf("testing %s: ok (%d bytes, %s)\n", result.Path, result.Size, result.Digest)
	}

	fmt.Printf("done: %d files, %d failed\n", len(files), failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func runDecompress(cmd *cobra.Command, args []string) {
	dir := args[0]
	ctx := context.Background()

	comp, err := p3dz.ParseCompression(compression)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	storage, files := scan(ctx, dir)
	if len(files) == 0 {
		fmt.Printf("No P3DZ files found in %s\n", dir)
		return
	}

	cache, err := p3dz.NewCache(newDecompressor(), cacheSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Outputs land next to the originals unless told otherwise
	out := outputDir
	if out == "" {
		out = storage.Root()
	}

	extractor := p3dz.NewExtractor(storage, cache, p3dz.ExtractOptions{
		OutputDir:   out,
		Suffix:      suffix,
		Compression: comp,
		Overwrite:   overwrite,
	})
	jobs := extractor.Jobs(files)

	// Progress bar is enabled by default
	showProgress := !noProgress && verbosity == 0

	var progressCallback p3dz.ProgressCallback
	var bar *progressbar.ProgressBar
	if showProgress {
		progressCallback = func(current, total int64) {
			if bar == nil && total > 0 {
				bar = progressbar.DefaultBytes(total, fmt.Sprintf("Decompressing %d files", len(jobs)))
			}
			if bar != nil {
				bar.Set64(current)
			}
		}
	}

	stats, err := extractor.Extract(ctx, jobs, progressCallback)
	if showProgress && bar != nil {
		fmt.Println()
	}

	hits, _ := cache.Stats()
	fmt.Printf("Decompressed %d/%d files (%d bytes total)", stats.ExtractedFiles, stats.TotalFiles, stats.ExtractedBytes)
	if stats.SkippedFiles > 0 {
		fmt.Printf(" (%d skipped)", stats.SkippedFiles)
	}
	if stats.FailedFiles > 0 {
		fmt.Printf(" (%d failed)", stats.FailedFiles)
	}
	if hits > 0 {
		fmt.Printf(" (%d duplicates)", hits)
	}
	fmt.Println()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runInspect(cmd *cobra.Command, args []string) {
	path := args[0]

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	container, err := p3dzutil.ParseContainer(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s: %d bytes, total decompressed size %d, %d chunks\n",
		path, len(data), container.TotalSize, len(container.Chunks))
	for _, chunk := range container.Chunks {
		ratio := 0.0
		if chunk.CompressedSize > 0 {
			ratio = float64(chunk.DecompressedSize) / float64(chunk.CompressedSize)
		}
		fmt.Printf("%d: offset %d, compressed %d, decompressed %d (%.2fx)\n",
			chunk.Index, chunk.Offset, chunk.CompressedSize, chunk.DecompressedSize, ratio)
	}
	if container.End < len(data) {
		fmt.Printf("%d trailing bytes after offset %d\n", len(data)-container.End, container.End)
	}
}
