package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/sawpanic/cryptoscan/internal/application/scan"
	"github.com/sawpanic/cryptoscan/internal/interfaces/output"
	"github.com/sawpanic/cryptoscan/internal/models"
)

func newScanCmd() *cobra.Command {
	var (
		asJSON  bool
		csvPath string
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one scan pass and print the picks",
		Long: `Builds the Binance/MEXC USDT universe, evaluates every symbol on both
exchanges and prints up to three ranked setups, or WAIT when nothing qualifies.

Output is a colored table on a terminal and JSON otherwise.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			opts, err := applyScanFlags(cmd.Flags(), cfg.ScanOptions())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if cfg.GetRequestTimeout() > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, cfg.GetRequestTimeout())
				defer cancel()
			}

			a := newApp(ctx, cfg)
			result, err := a.scanner.ScanOnce(ctx, opts)
			if err != nil {
				return fmt.Errorf("scan failed: %w", err)
			}

			tty := term.IsTerminal(int(os.Stdout.Fd()))
			emitter := output.NewEmitter(tty)
			if csvPath != "" {
				f, err := os.Create(csvPath)
				if err != nil {
					return fmt.Errorf("failed to create CSV file: %w", err)
				}
				defer f.Close()
				if err := emitter.EmitCSV(f, result); err != nil {
					return err
				}
			}
			if asJSON || !tty {
				return emitter.EmitJSON(os.Stdout, result)
			}
			return emitter.EmitTable(os.Stdout, result)
		},
	}

	cmd.Flags().String("market", "spot", "Market to scan (spot|futures|both)")
	cmd.Flags().String("interval", "5m", "Candle interval (1m,3m,5m,15m,30m,1h,2h,4h,6h,8h,12h,1d,3d,1w)")
	cmd.Flags().Int("lookback", 150, "Bars per symbol, clamped to [120,200]")
	cmd.Flags().Int("max-per-exchange", 36, "Universe size, clamped to [24,48]")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Force JSON output")
	cmd.Flags().StringVar(&csvPath, "csv", "", "Also write picks to this CSV file")
	return cmd
}

// applyScanFlags overlays explicitly set flags on the configured defaults
func applyScanFlags(flags *pflag.FlagSet, opts scan.Options) (scan.Options, error) {
	if flags.Changed("market") {
		v, _ := flags.GetString("market")
		opts.Market = models.Market(v)
	}
	if flags.Changed("interval") {
		v, _ := flags.GetString("interval")
		opts.Interval = models.Interval(v)
	}
	if flags.Changed("lookback") {
		v, _ := flags.GetInt("lookback")
		opts.Lookback = v
	}
	if flags.Changed("max-per-exchange") {
		v, _ := flags.GetInt("max-per-exchange")
		opts.MaxPerExchange = v
	}
	return opts.Normalize()
}
