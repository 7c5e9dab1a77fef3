package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/dustin/go-humanize"
	"github.com/go-kit/log/level"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/ivanyu/pyheap/heap"
	"github.com/ivanyu/pyheap/heapfile"
	"github.com/ivanyu/pyheap/retained"
	"github.com/ivanyu/pyheap/view"
)

var retainedHeapOpts struct {
	file string
	top  int
}

var retainedHeapCmd = &cobra.Command{
	Use:   "retained-heap",
	Short: "Show the objects with the largest retained heap",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRetainedHeap(cmd.Context())
	},
}

func init() {
	retainedHeapCmd.Flags().StringVarP(&retainedHeapOpts.file, "file", "f", "", "heap snapshot file")
	retainedHeapCmd.Flags().IntVarP(&retainedHeapOpts.top, "top", "n", 20, "number of objects to show")
	retainedHeapCmd.MarkFlagRequired("file")
}

func runRetainedHeap(ctx context.Context) error {
	path := retainedHeapOpts.file

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	start := time.Now()
	stop := startSpinner(" loading snapshot...")
	snap, err := heapfile.Load(ctx, f, heapfile.LoadOptions{})
	stop()
	if err != nil {
		return err
	}
	level.Info(logger).Log(
		"msg", "snapshot loaded",
		"objects", snap.NumObjects(),
		"threads", len(snap.Threads()),
		"dangling_references", snap.Diagnostics().DanglingReferences,
		"duration", time.Since(start),
	)

	stop = startSpinner(" computing retained heap...")
	rh, err := retained.Provide(ctx, path, snap, retained.Options{Logger: logger})
	stop()
	if err != nil {
		return err
	}

	printObjectTable(snap, rh)
	fmt.Println()
	printThreadTable(snap, rh)
	fmt.Println()

	total := snap.TotalHeapSize()
	fmt.Printf("Total heap size: %d bytes (%s)\n", total, humanize.Bytes(total))
	return nil
}

func printObjectTable(snap *heap.Snapshot, rh *retained.RetainedHeap) {
	width := terminalWidth()
	rowFormat := "%-15s | %-20s | %18s | %s\n"
	fixed := len(fmt.Sprintf(rowFormat, "", "", "", ""))
	strRoom := width - fixed
	if strRoom < 10 {
		strRoom = 10
	}

	fmt.Println(headerStyle.Render("Retained heap for objects:"))
	fmt.Printf(rowFormat, "Address", "Object type", "Retained heap size", "String representation")
	fmt.Println(separatorStyle.Render(strings.Repeat("-", width)))
	for _, row := range view.PageByRetained(snap, rh, 0, retainedHeapOpts.top) {
		fmt.Printf(rowFormat,
			strconv.FormatUint(uint64(row.Address), 10),
			truncate(row.TypeName, 20),
			strconv.FormatUint(row.Retained, 10),
			truncate(row.StrRepr, strRoom),
		)
	}
}

func printThreadTable(snap *heap.Snapshot, rh *retained.RetainedHeap) {
	fmt.Println(headerStyle.Render("Retained heap for threads:"))
	fmt.Printf("%-50s | %18s\n", "Thread", "Retained heap size")
	fmt.Println(separatorStyle.Render(strings.Repeat("-", 71)))
	for _, t := range view.Threads(snap, rh) {
		fmt.Printf("%-50s | %18d\n", truncate(t.Name, 50), t.Retained)
	}
}

func startSpinner(suffix string) func() {
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = suffix
	s.Start()
	return s.Stop
}

func terminalWidth() int {
	if v := os.Getenv("COLUMNS"); v != "" {
		if width, err := strconv.Atoi(v); err == nil && width > 40 {
			return width
		}
	}
	return 120
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}
