// The memtracer tool inspects allocation dumps produced by the trace
// package: summaries, leak reports, hotspot and histogram charts, an
// interactive query shell, and a helper that wires the tracer into a
// target module.
// Run "memtracer help" for a list of commands.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kolkov/memtracer/internal/memtrace/logger"
	"github.com/kolkov/memtracer/internal/memtrace/stats"
	"github.com/kolkov/memtracer/internal/memtrace/store"
	"github.com/kolkov/memtracer/internal/memtrace/viz"
	"github.com/kolkov/memtracer/trace"
)

func main() {
	var logLevel, logFile string

	root := &cobra.Command{
		Use:           "memtracer",
		Short:         "inspect memory allocation dumps",
		Version:       trace.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := logger.SetLogLevelByName(logLevel); err != nil {
				return err
			}
			if logFile != "" {
				return logger.SetLogFile(logFile)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log verbosity: trace, debug, info, warn, error, fatal")
	root.PersistentFlags().StringVar(&logFile, "log-file", "", "mirror log output into this file")

	root.AddCommand(
		summaryCmd(),
		reportCmd(),
		leaksCmd(),
		hotspotsCmd(),
		histogramCmd(),
		timelineCmd(),
		shellCmd(),
		enableCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "memtracer: %v\n", err)
		os.Exit(1)
	}
}

func summaryCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "summary <dump>...",
		Short: "print overall allocation statistics",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, agg, err := loadDumps(args)
			if err != nil {
				return err
			}
			if asJSON {
				data, err := json.MarshalIndent(st.GetSummary(), "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}
			sum := agg.GetSummary()
			t := tabwriter.NewWriter(os.Stdout, 0, 0, 1, ' ', 0)
			fmt.Fprintf(t, "allocations\t%d\n", sum.TotalAllocations)
			fmt.Fprintf(t, "deallocations\t%d\n", sum.TotalDeallocations)
			fmt.Fprintf(t, "total allocated\t%s\n", stats.FormatSize(sum.TotalAllocated))
			fmt.Fprintf(t, "live\t%s\n", stats.FormatSize(sum.CurrentAllocated))
			fmt.Fprintf(t, "peak\t%s\n", stats.FormatSize(sum.PeakUsage))
			fmt.Fprintf(t, "functions\t%d\n", sum.UniqueFunctions)
			fmt.Fprintf(t, "files\t%d\n", sum.UniqueFiles)
			fmt.Fprintf(t, "call stacks\t%d\n", sum.UniqueCallStacks)
			return t.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit the store summary object as JSON")
	return cmd
}

func reportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "report <dump>...",
		Short: "print the full report with all charts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, agg, err := loadDumps(args)
			if err != nil {
				return err
			}
			r := viz.New(agg, st)
			if out != "" {
				return r.ExportToText(out)
			}
			fmt.Print(r.FullReport())
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "write the report to this file instead of stdout")
	return cmd
}

func leaksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leaks <dump>...",
		Short: "list allocations never freed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := loadDumps(args)
			if err != nil {
				return err
			}
			leaks := st.GetLeaks()
			if len(leaks) == 0 {
				fmt.Println("no live allocations")
				return nil
			}
			t := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
			fmt.Fprintf(t, "address\tsize\tfunction\tlocation\tthread\t\n")
			var total uint64
			for i := range leaks {
				l := &leaks[i]
				total += l.Size
				fmt.Fprintf(t, "0x%x\t%s\t%s\t%s:%d\t%08x\t\n",
					l.Address, stats.FormatSize(l.Size), l.Function, l.File, l.Line, l.ThreadID)
			}
			if err := t.Flush(); err != nil {
				return err
			}
			fmt.Printf("%d live allocations, %s total\n", len(leaks), stats.FormatSize(total))
			return nil
		},
	}
}

func hotspotsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "hotspots <dump>...",
		Short: "show the heaviest allocating functions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, agg, err := loadDumps(args)
			if err != nil {
				return err
			}
			fmt.Print(viz.New(agg, st).HotspotsChart(limit))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of functions to show")
	return cmd
}

func histogramCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "histogram <dump>...",
		Short: "show the allocation size distribution",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, agg, err := loadDumps(args)
			if err != nil {
				return err
			}
			fmt.Print(viz.New(agg, st).SizeDistributionChart())
			return nil
		},
	}
}

func timelineCmd() *cobra.Command {
	var bucket time.Duration
	cmd := &cobra.Command{
		Use:   "timeline <dump>...",
		Short: "show live memory over time",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, agg, err := loadDumps(args)
			if err != nil {
				return err
			}
			fmt.Print(viz.New(agg, st).TimelineChart(uint64(bucket)))
			return nil
		},
	}
	cmd.Flags().DurationVarP(&bucket, "bucket", "b", time.Millisecond, "bin width")
	return cmd
}

// printQuery renders a store query result as a table.
func printQuery(res store.QueryResult) error {
	if len(res.Allocations) == 0 {
		fmt.Println("no matching allocations")
		return nil
	}
	t := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(t, "time\taddress\tsize\tfunction\tlocation\t\n")
	for i := range res.Allocations {
		a := &res.Allocations[i]
		fmt.Fprintf(t, "%.3fms\t0x%x\t%s\t%s\t%s:%d\t\n",
			float64(a.Timestamp)/1e6, a.Address, stats.FormatSize(a.Size),
			a.Function, a.File, a.Line)
	}
	if err := t.Flush(); err != nil {
		return err
	}
	fmt.Printf("%d allocations, %s total, largest %s\n",
		res.TotalCount, stats.FormatSize(res.TotalSize), stats.FormatSize(res.PeakUsage))
	return nil
}
