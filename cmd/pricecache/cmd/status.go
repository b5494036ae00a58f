package cmd

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// statusCmd 캐시 상태 조회
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "캐시 상태 조회",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cfg, optionalUniverse(), "status")
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.loader.Status(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("state:    %s\n", st.State)
	fmt.Printf("tickers:  %d\n", st.Tickers)
	fmt.Printf("dates:    %d\n", st.Dates)
	if len(st.Degraded) > 0 {
		fmt.Printf("degraded: %v\n", st.Degraded)
	}

	tickers := make([]string, 0, len(st.LastDates))
	for t := range st.LastDates {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\nTICKER\tLAST DATE\tREJECTED")
	for _, t := range tickers {
		fmt.Fprintf(w, "%s\t%s\t%d\n", t, st.LastDates[t].Format("2006-01-02"), st.Rejections[t])
	}
	w.Flush()

	if len(st.Recent) > 0 {
		fmt.Println("\nrecent runs:")
		w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STARTED\tTYPE\tSTATUS\tOK\tFAILED\tROWS\tREJECTED")
		for _, r := range st.Recent {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
				r.StartedAt.Format("2006-01-02 15:04"), r.RunType, r.Status,
				r.TickersSucceeded, r.TickersFailed, r.RowsFetched, r.RowsRejected)
		}
		w.Flush()
	}
	return nil
}
