package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wonny/marketcache/internal/service/pricecache"
)

var noCache bool

// fetchCmd 지정 종목 시세 갱신
var fetchCmd = &cobra.Command{
	Use:   "fetch TICKER...",
	Short: "지정 종목 시세 갱신",
	Long: `지정한 종목의 시가/종가를 캐시와 병합해 갱신합니다.

Examples:
  go run ./cmd/pricecache fetch AAPL MSFT        # 캐시 기준 증분 갱신
  go run ./cmd/pricecache fetch 005930 --no-cache # 전체 이력 재수집`,
	Args: cobra.MinimumNArgs(1),
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().BoolVar(&noCache, "no-cache", false, "refetch the full history of every ticker")
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, cfg, optionalUniverse(), "fetch")
	if err != nil {
		return err
	}
	defer a.Close()

	prices, err := a.loader.FetchPrices(ctx, args, !noCache)
	if err != nil {
		return err
	}

	printPrices(prices)
	if failed := prices.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d tickers failed: %v", len(failed), failed)
	}
	return nil
}

func printPrices(p *pricecache.Prices) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TICKER\tMODE\tSOURCE\tROWS\tREJECTED\tLAST DATE\tLAST CLOSE\tERROR")
	for _, o := range p.Outcomes {
		date, closeValue := "-", "-"
		if d, ok := p.Close.LastDate(o.Ticker); ok {
			v, _ := p.Close.Get(o.Ticker, d)
			date = d.Format("2006-01-02")
			closeValue = fmt.Sprintf("%.4f", v)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			o.Ticker, o.Mode, o.Source, o.RowsFetched, o.RowsRejected, date, closeValue, o.Error)
	}
	w.Flush()

	fmt.Printf("\nrun %s  state=%s  persisted=%t\n", p.RunID, p.State, p.Persisted)
}
