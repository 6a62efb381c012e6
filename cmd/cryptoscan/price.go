package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sawpanic/cryptoscan/internal/interfaces/output"
	"github.com/sawpanic/cryptoscan/internal/models"
)

func newPriceCmd() *cobra.Command {
	var exchange, market, symbol string

	cmd := &cobra.Command{
		Use:   "price",
		Short: "Print the last traded price of a symbol",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			ex, err := models.ParseExchange(exchange)
			if err != nil {
				return err
			}
			mk, err := models.ParseMarket(market)
			if err != nil {
				return err
			}
			if mk == models.MarketBoth {
				return fmt.Errorf("%w: price needs spot or futures", models.ErrInvalidMarket)
			}
			symbol = strings.ToUpper(strings.TrimSpace(symbol))
			if symbol == "" {
				return errors.New("--symbol is required")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*cfg.GetFetchTimeout())
			defer cancel()

			a := newApp(ctx, cfg)
			quote, err := a.gateway.LastPrice(ctx, ex, mk, symbol)
			if err != nil {
				return fmt.Errorf("no price for %s on %s %s: %w", symbol, ex, mk, err)
			}
			if term.IsTerminal(int(os.Stdout.Fd())) {
				return output.NewEmitter(true).EmitPrice(os.Stdout, quote)
			}
			return writeJSON(quote)
		},
	}

	cmd.Flags().StringVar(&exchange, "exchange", "binance", "Exchange (binance|mexc)")
	cmd.Flags().StringVar(&market, "market", "spot", "Market (spot|futures)")
	cmd.Flags().StringVar(&symbol, "symbol", "", "Symbol such as BTCUSDT")
	_ = cmd.MarkFlagRequired("symbol")
	return cmd
}
