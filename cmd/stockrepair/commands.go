package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"stockrepair/pkg/api"
	"stockrepair/pkg/core"
	"stockrepair/pkg/history"
	"stockrepair/pkg/logger"
	pcore "stockrepair/pkg/provider/core"
	"stockrepair/pkg/repair"
	"stockrepair/pkg/scheduler"
	"stockrepair/pkg/storage"
)

var version = "dev"

// newRootCmd 创建根命令
func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "stockrepair",
		Short: "Fetch, repair and adjust historical price data",
		Long: `stockrepair downloads historical OHLCV bars from Yahoo Finance and repairs
known data errors: 100x unit mix-ups, missing prices, bad stock splits
and misreported dividends.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file path")

	rootCmd.AddCommand(newHistoryCmd(&configPath))
	rootCmd.AddCommand(newRepairCmd(&configPath))
	rootCmd.AddCommand(newServeCmd(&configPath))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

type historyFlags struct {
	interval   string
	start      string
	end        string
	repair     string
	autoAdjust bool
	backAdjust bool
	rounding   bool
	prepost    bool
	output     string
	stats      bool
}

// newHistoryCmd 获取单个标的的历史数据
func newHistoryCmd(configPath *string) *cobra.Command {
	var f historyFlags

	cmd := &cobra.Command{
		Use:   "history [SYMBOL]",
		Short: "Download history for a symbol",
		Long: `Download historical bars for a symbol, optionally repairing and adjusting them.
Example: stockrepair history AAPL --interval=1d --start=2024-01-01 --repair=on`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd.Context(), *configPath, args[0], f, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&f.interval, "interval", "1d", "Bar interval (1m, 2m, 5m, 15m, 30m, 60m, 1h, 1d, 1wk, 1mo, 3mo)")
	cmd.Flags().StringVar(&f.start, "start", "", "Start date (YYYY-MM-DD in exchange time, or RFC3339)")
	cmd.Flags().StringVar(&f.end, "end", "", "End date, exclusive")
	cmd.Flags().StringVar(&f.repair, "repair", "off", "Repair mode: off, on, silent")
	cmd.Flags().BoolVar(&f.autoAdjust, "auto-adjust", false, "Adjust all prices for splits and dividends")
	cmd.Flags().BoolVar(&f.backAdjust, "back-adjust", false, "Adjust Open/High/Low but keep Close")
	cmd.Flags().BoolVar(&f.rounding, "rounding", false, "Round prices to the exchange precision")
	cmd.Flags().BoolVar(&f.prepost, "prepost", false, "Include pre and post market bars")
	cmd.Flags().StringVar(&f.output, "output", "stdout", "Where to write: stdout, json, csv, influxdb")
	cmd.Flags().BoolVar(&f.stats, "stats", false, "Print repair statistics to stderr")

	return cmd
}

func runHistory(ctx context.Context, configPath, symbol string, f historyFlags, out io.Writer) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	interval, err := core.ParseInterval(f.interval)
	if err != nil {
		return err
	}
	mode, err := repair.ParseMode(f.repair)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, f.prepost)
	if err != nil {
		return err
	}
	defer a.Close()

	params := history.Params{
		Interval:   interval,
		Repair:     mode,
		AutoAdjust: f.autoAdjust,
		BackAdjust: f.backAdjust,
		Rounding:   f.rounding,
		Prepost:    f.prepost,
	}
	if f.start != "" || f.end != "" {
		loc, err := a.client.Locations().Resolve(ctx, symbol)
		if err != nil {
			return fmt.Errorf("resolve exchange timezone: %w", err)
		}
		if params.Start, err = history.ParseDate(f.start, loc); err != nil {
			return err
		}
		if params.End, err = history.ParseDate(f.end, loc); err != nil {
			return err
		}
	}

	res, err := a.client.History(ctx, symbol, params)
	if err != nil {
		return err
	}
	if f.stats && res.Stats != nil {
		printStats(os.Stderr, res.Stats)
	}

	switch strings.ToLower(f.output) {
	case "", "stdout":
		return storage.WriteCSV(out, res.Table)
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res.Table)
	case "csv", "influxdb":
		sinks, _, err := a.sinks(ctx)
		if err != nil {
			return err
		}
		sink, ok := sinks[strings.ToLower(f.output)]
		if !ok {
			return fmt.Errorf("output %s is not enabled", f.output)
		}
		defer sink.Close()
		if err := sink.Write(ctx, res.Table); err != nil {
			return err
		}
		logger.Infof("wrote %d bars for %s to %s", res.Table.Len(), res.Table.Meta.Symbol, f.output)
		return nil
	}
	return fmt.Errorf("unknown output %q", f.output)
}

type repairFlags struct {
	input    string
	output   string
	symbol   string
	interval string
	currency string
	timezone string
	mode     string
}

// newRepairCmd 修复已保存的 CSV 文件
func newRepairCmd(configPath *string) *cobra.Command {
	var f repairFlags

	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Repair a previously downloaded CSV file",
		Long: `Repair bars stored in a CSV file. Finer-grained data is fetched from Yahoo
when a bad bar needs reconstructing.
Example: stockrepair repair --input data/AAPL_1d.csv --symbol AAPL`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepair(cmd.Context(), *configPath, f, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&f.input, "input", "", "CSV file to repair")
	cmd.Flags().StringVar(&f.output, "output", "", "Write repaired CSV here instead of stdout")
	cmd.Flags().StringVar(&f.symbol, "symbol", "", "Symbol the file belongs to")
	cmd.Flags().StringVar(&f.interval, "interval", "1d", "Bar interval of the file")
	cmd.Flags().StringVar(&f.currency, "currency", "", "Quote currency, fetched when empty")
	cmd.Flags().StringVar(&f.timezone, "timezone", "", "Exchange timezone, fetched when empty")
	cmd.Flags().StringVar(&f.mode, "mode", "on", "Repair mode: on, silent")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("symbol")

	return cmd
}

func runRepair(ctx context.Context, configPath string, f repairFlags, out io.Writer) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	interval, err := core.ParseInterval(f.interval)
	if err != nil {
		return err
	}
	mode, err := repair.ParseMode(f.mode)
	if err != nil {
		return err
	}
	if mode == repair.ModeOff {
		return fmt.Errorf("repair mode must be on or silent")
	}

	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	meta := core.Metadata{
		Symbol:   strings.ToUpper(f.symbol),
		Currency: f.currency,
		Timezone: f.timezone,
	}
	if meta.Timezone == "" || meta.Currency == "" {
		// 元数据从最近几天的日线中取得
		probe, err := a.fetcher.FetchHistory(ctx, probeRequest(meta.Symbol))
		if err != nil {
			return fmt.Errorf("fetch metadata for %s: %w", meta.Symbol, err)
		}
		if meta.Timezone == "" {
			meta.Timezone = probe.Meta.Timezone
		}
		if meta.Currency == "" {
			meta.Currency = probe.Meta.Currency
		}
		meta.ExchangeName = probe.Meta.ExchangeName
		meta.InstrumentType = probe.Meta.InstrumentType
		meta.PriceHint = probe.Meta.PriceHint
	}

	in, err := os.Open(f.input)
	if err != nil {
		return err
	}
	defer in.Close()

	table, err := storage.ReadCSV(in, interval, meta)
	if err != nil {
		return fmt.Errorf("read %s: %w", f.input, err)
	}

	repaired, stats, err := a.engine.Repair(ctx, table, mode)
	if err != nil {
		return err
	}
	repaired.DropEmptyRows()
	printStats(os.Stderr, stats)

	if f.output == "" {
		return storage.WriteCSV(out, repaired)
	}
	file, err := os.Create(f.output)
	if err != nil {
		return err
	}
	if err := storage.WriteCSV(file, repaired); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// newServeCmd 启动 HTTP 接口与定时任务
func newServeCmd(configPath *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and scheduled refresh jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address, overrides server.addr")
	return cmd
}

func runServe(configPath, addr string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.SetServerAddr(addr)
	}

	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sinks, mem, err := a.sinks(ctx)
	if err != nil {
		return err
	}
	defer storage.NewMultiWriter(writerList(sinks)...).Close()

	jobs := scheduler.NewJobScheduler()
	jobs.SetExecutor(scheduler.NewHistoryExecutor(a.client, sinks, scheduler.WithExecutorMetrics(a.metrics)))
	jobs.LoadJobs(cfg.Jobs)
	if err := jobs.Start(); err != nil {
		return err
	}

	server := api.NewServer(a.client,
		api.WithProviders(a.providers),
		api.WithStore(mem),
		api.WithScheduler(jobs),
		api.WithMetrics(a.metrics),
		api.WithRequestTimeout(cfg.Server.RequestTimeout))
	if err := server.Start(cfg.Server.Addr, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout); err != nil {
		_ = jobs.Stop()
		return err
	}
	logger.Infof("stockrepair %s listening on %s", version, cfg.Server.Addr)

	// 等待退出信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Infof("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	if err := jobs.Stop(); err != nil {
		logger.Errorf("scheduler shutdown: %v", err)
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "stockrepair %s\n", version)
		},
	}
}

func writerList(sinks map[string]storage.Writer) []storage.Writer {
	out := make([]storage.Writer, 0, len(sinks))
	for _, w := range sinks {
		out = append(out, w)
	}
	return out
}

func printStats(w io.Writer, stats *repair.Stats) {
	if stats == nil {
		return
	}
	fmt.Fprintf(w, "repair %s %s: state=%s fixed=%d fine_fetches=%d\n",
		stats.Symbol, stats.Interval, stats.State, stats.TotalFixed(), stats.Fetches)
	for _, name := range stats.PassNames() {
		p := stats.Pass(repair.Pass(name))
		fmt.Fprintf(w, "  %-16s tagged=%d fixed=%d crude=%d unrepaired=%d\n",
			name, p.Tagged, p.Fixed, p.FixedCrudely, p.Unrepaired)
	}
	for _, d := range stats.Dividends {
		fmt.Fprintf(w, "  dividend %s %v %.4f -> %.4f\n", d.Date.Format("2006-01-02"), d.Classes, d.OldDividend, d.NewDividend)
	}
}

func probeRequest(symbol string) pcore.HistoryRequest {
	now := time.Now()
	return pcore.HistoryRequest{
		Symbol:   symbol,
		Interval: core.Interval1d,
		Start:    now.AddDate(0, 0, -5),
		End:      now,
	}
}
