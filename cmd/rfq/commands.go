package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lp-rfq/internal/app"
	"lp-rfq/internal/execution"
	"lp-rfq/internal/history"
	"lp-rfq/internal/quote"
	"lp-rfq/internal/streamer"
)

func newStreamCmd(configPath *string) *cobra.Command {
	var (
		side, amount, pair, target string
		duration, pollInterval     time.Duration
		autoRefresh, execute       bool
	)

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "锁定最优报价并持续轮询改进",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := setup(ctx, *configPath)
			if err != nil {
				return err
			}
			defer rt.close()

			qty, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("%w: amount %q", quote.ErrInvalidRequest, amount)
			}

			opts := rt.app.StreamOptions()
			if cmd.Flags().Changed("duration") {
				opts.Duration = duration
			}
			if cmd.Flags().Changed("poll-interval") {
				opts.PollInterval = pollInterval
			}
			if cmd.Flags().Changed("auto-refresh") {
				opts.AutoRefresh = autoRefresh
			}

			if err := rt.app.StartMonitorServer(ctx); err != nil {
				return err
			}

			res, err := rt.app.RunSession(ctx, app.SessionOptions{
				Side:    quote.Side(strings.ToUpper(side)),
				Amount:  qty,
				Symbol:  pair,
				Target:  strings.ToUpper(target),
				Stream:  opts,
				Execute: execute,
			}, printUpdate)
			if err != nil {
				return err
			}

			rt.logger.Info("报价会话结束",
				zap.String("session", res.Request.Session),
				zap.Int("updates", res.Updates),
				zap.String("state", string(res.State)),
			)
			if res.Final != nil {
				fmt.Printf("最终锁定: %s %s @ %s\n", res.Final.Provider, res.Final.Quote.ID, res.Final.Quote.ClientPrice)
			}
			if res.Execution != nil {
				printExecution(*res.Execution)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&side, "side", "buy", "客户方向 buy/sell")
	f.StringVar(&amount, "amount", "", "数量")
	f.StringVar(&pair, "pair", "BTCUSDT", "交易对")
	f.StringVar(&target, "target", "", "数量计价资产，默认 base")
	f.DurationVar(&duration, "duration", 0, "报价流时长，0 表示直到过期或中断")
	f.DurationVar(&pollInterval, "poll-interval", 0, "轮询间隔")
	f.BoolVar(&autoRefresh, "auto-refresh", true, "报价过期后自动重新锁定")
	f.BoolVar(&execute, "execute", false, "结束后执行最终锁定的报价")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func printUpdate(u streamer.Update) {
	marker := ""
	if u.Improvement {
		marker = " *"
	}
	fmt.Printf("[%d.%d] %s %s %s client=%s provider=%s lp=%s left=%s%s\n",
		u.Epoch, u.Poll, u.Best.ID, u.Best.Side, u.Best.Symbol(),
		u.Best.ClientPrice, u.Best.ProviderPrice, u.LockedProvider,
		u.Best.TimeRemaining(u.At).Round(100*time.Millisecond), marker,
	)
}

func printExecution(rec execution.Record) {
	if !rec.Succeeded() {
		fmt.Printf("执行失败 %s: %s\n", rec.ExecutionID, rec.Error)
		return
	}
	fmt.Printf("执行成功 %s 报价 %s\n", rec.ExecutionID, rec.QuoteID)
	if rec.Fill != nil {
		fmt.Printf("  对冲成交 %s qty=%s quote_qty=%s avg=%s 手续费=%s %s\n",
			rec.Fill.Side, rec.Fill.ExecutedQty, rec.Fill.ExecutedQuoteQty, rec.Fill.AvgPrice,
			rec.Fill.Commission, rec.Fill.CommissionAsset)
	}
	if rec.PnL != nil {
		fmt.Printf("  盈亏 %s\n", rec.PnL.Describe())
	}
}

func newStatsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "查看报价源表现",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := setup(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.close()

			stats, err := rt.app.History().ProviderStats(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tQUOTES\tWINS\tWIN%\tAVG LATENCY\tBEST\tWORST")
			for _, s := range stats {
				fmt.Fprintf(w, "%s\t%d\t%d\t%.1f\t%s\t%s\t%s\n",
					s.Provider, s.TotalQuotes, s.TotalWins, s.WinRate, s.AvgResponseTime.Round(time.Millisecond), s.BestPrice, s.WorstPrice)
			}
			return w.Flush()
		},
	}
}

func newHistoryCmd(configPath *string) *cobra.Command {
	var (
		limit    int
		provider string
		since    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "查看客户报价历史",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := setup(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.close()

			filter := history.Filter{Provider: provider, Limit: limit}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}
			rows, err := rt.app.History().QuoteHistory(cmd.Context(), filter)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tQUOTE\tSIDE\tPAIR\tAMOUNT\tCLIENT\tPROVIDER\tPOLL\tIMPROVED")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s%s\t%s %s\t%s\t%s\t%d.%d\t%t\n",
					r.CreatedAt.Local().Format("15:04:05.000"), r.QuoteID, r.Side, r.BaseAsset, r.QuoteAsset,
					r.Amount, r.TargetAsset, r.ClientPrice, r.Provider, r.Epoch, r.Poll, r.Improvement)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "返回条数")
	cmd.Flags().StringVar(&provider, "provider", "", "只看指定报价源")
	cmd.Flags().DurationVar(&since, "since", 0, "只看最近一段时间，例如 1h")
	return cmd
}

func newExecutionsCmd(configPath *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "executions",
		Short: "查看执行记录",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := setup(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.close()

			records, err := rt.app.History().Executions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, rec := range records {
				printExecution(rec)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "返回条数")
	return cmd
}
