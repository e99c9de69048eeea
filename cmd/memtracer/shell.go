package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/kolkov/memtracer/internal/memtrace/stats"
	"github.com/kolkov/memtracer/internal/memtrace/store"
	"github.com/kolkov/memtracer/internal/memtrace/viz"
)

const shellHelp = `Commands:
  fn <name>          allocations recorded for a function
  file <path>        allocations attributed to a source file
  size <min> <max>   live allocations with min <= size <= max (bytes)
  time <start> <end> events in a time window (ms since trace start)
  leaks              live allocations never freed
  summary            overall statistics
  report             full report with all charts
  help               this message
  exit               leave the shell`

func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell <dump>...",
		Short: "query dumps interactively",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, agg, err := loadDumps(args)
			if err != nil {
				return err
			}
			return runShell(st, agg)
		},
	}
}

func runShell(st *store.Store, agg *stats.Aggregator) error {
	rl, err := readline.New("memtracer> ")
	if err != nil {
		return fmt.Errorf("open terminal: %w", err)
	}
	defer rl.Close()

	fmt.Printf("%d allocation records loaded; type \"help\" for commands\n", st.Len())
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if done := dispatch(st, agg, strings.Fields(line)); done {
			return nil
		}
	}
}

// dispatch executes one shell command; it reports true when the shell
// should exit.
func dispatch(st *store.Store, agg *stats.Aggregator, fields []string) bool {
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "exit", "quit":
		return true

	case "help":
		fmt.Println(shellHelp)

	case "fn":
		if len(fields) != 2 {
			fmt.Println("usage: fn <name>")
			break
		}
		printQuery(st.QueryByFunction(fields[1]))

	case "file":
		if len(fields) != 2 {
			fmt.Println("usage: file <path>")
			break
		}
		printQuery(st.QueryByFile(fields[1]))

	case "size":
		min, max, ok := parseRange(fields, "size <min> <max>")
		if !ok {
			break
		}
		printQuery(st.QueryBySizeRange(min, max))

	case "time":
		// Arguments are milliseconds; the store works in nanoseconds.
		start, end, ok := parseRange(fields, "time <start> <end>")
		if !ok {
			break
		}
		ns := uint64(time.Millisecond)
		printQuery(st.QueryByTimeRange(start*ns, end*ns))

	case "leaks":
		fmt.Print(viz.New(agg, st).LeakReport())

	case "summary":
		sum := agg.GetSummary()
		fmt.Printf("allocations %d, deallocations %d, total %s, live %s, peak %s\n",
			sum.TotalAllocations, sum.TotalDeallocations,
			stats.FormatSize(sum.TotalAllocated),
			stats.FormatSize(sum.CurrentAllocated),
			stats.FormatSize(sum.PeakUsage))

	case "report":
		fmt.Print(viz.New(agg, st).FullReport())

	default:
		fmt.Printf("unknown command %q; type \"help\"\n", fields[0])
	}
	return false
}

func parseRange(fields []string, usage string) (uint64, uint64, bool) {
	if len(fields) != 3 {
		fmt.Println("usage: " + usage)
		return 0, 0, false
	}
	lo, err1 := strconv.ParseUint(fields[1], 10, 64)
	hi, err2 := strconv.ParseUint(fields[2], 10, 64)
	if err1 != nil || err2 != nil || lo > hi {
		fmt.Println("usage: " + usage)
		return 0, 0, false
	}
	return lo, hi, true
}
