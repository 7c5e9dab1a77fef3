// Command pyheap is the standalone analyzer for PyHeap heap snapshots.
package main

import (
	"fmt"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/ivanyu/pyheap"
	"github.com/ivanyu/pyheap/heapfile"
)

const (
	exitMalformed = 2
	exitIO        = 3
)

var (
	verbose bool
	logger  log.Logger
)

var rootCmd = &cobra.Command{
	Use:           "pyheap",
	Short:         "Analyze PyHeap heap snapshots",
	Long:          "pyheap loads heap snapshots captured from running Python processes and analyzes retained heap sizes.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger = log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
		if !verbose {
			logger = level.NewFilter(logger, level.AllowInfo())
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the analyzer version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("pyheap", pyheap.Version)
	},
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(retainedHeapCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if errors.Is(err, heapfile.ErrMalformed) || errors.Is(err, heapfile.ErrUnsupportedVersion) {
		return exitMalformed
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return exitIO
	}
	return 1
}
