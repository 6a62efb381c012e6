package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/sawpanic/cryptoscan/internal/models"
)

// Emitter renders scan results for the CLI
type Emitter struct {
	colored bool
}

// NewEmitter returns an emitter; colored enables ANSI side highlighting in tables
func NewEmitter(colored bool) *Emitter {
	return &Emitter{colored: colored}
}

// EmitJSON writes the result as indented JSON
func (e *Emitter) EmitJSON(w io.Writer, result *models.ScanResult) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// EmitTable writes a summary line and one row per pick
func (e *Emitter) EmitTable(w io.Writer, result *models.ScanResult) error {
	header := e.paint(color.New(color.Bold))
	header.Fprintf(w, "%s scan  interval=%s lookback=%d universe=%d candidates=%d\n",
		result.Market, result.Interval, result.Lookback, result.UniverseCount, result.CandidatesCount)

	if !result.HasPicks() {
		note := models.WaitNote
		if len(result.Picks) > 0 && result.Picks[0].Note != "" {
			note = result.Picks[0].Note
		}
		_, err := fmt.Fprintf(w, "%s  %s\n", e.side(models.SideWait), note)
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSIDE\tEXCHANGE\tMARKET\tSYMBOL\tCONF\tRISK\tENTRY\tSTOP\tTP")
	for i, c := range result.Picks {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d%%\t%d%%\t%s\t%s\t%s\n",
			i+1, e.side(c.Side), c.Exchange, c.Market, c.Symbol,
			c.ConfidencePercent, c.RiskPercent,
			formatPrice(c.Entry), formatPrice(c.Stop), formatPrice(c.TakeProfit))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for i, c := range result.Picks {
		if c.Reasoning != "" {
			fmt.Fprintf(w, "  %d. %s\n", i+1, c.Reasoning)
		}
	}
	return nil
}

// EmitCSV writes one record per pick, header first
func (e *Emitter) EmitCSV(w io.Writer, result *models.ScanResult) error {
	writer := csv.NewWriter(w)
	header := []string{"Exchange", "Market", "Symbol", "Side", "Confidence", "Risk", "Price", "Entry", "Stop", "TakeProfit", "QuoteVolume", "Pattern", "Reasoning"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, c := range result.Picks {
		if c.IsWait() {
			continue
		}
		var qv, pattern string
		if c.Meta != nil {
			qv = strconv.FormatFloat(c.Meta.QuoteVolume, 'f', 0, 64)
			pattern = c.Meta.Pattern
		}
		record := []string{
			string(c.Exchange), string(c.Market), c.Symbol, string(c.Side),
			strconv.Itoa(c.ConfidencePercent), strconv.Itoa(c.RiskPercent),
			formatPrice(c.Price), formatPrice(c.Entry), formatPrice(c.Stop), formatPrice(c.TakeProfit),
			qv, pattern, c.Reasoning,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// EmitPrice writes a single price line
func (e *Emitter) EmitPrice(w io.Writer, q models.PriceQuote) error {
	_, err := fmt.Fprintf(w, "%s %s %s %s (%s)\n", q.Exchange, q.Market, q.Symbol, formatPrice(q.Price), q.Source)
	return err
}

func (e *Emitter) side(s models.Side) string {
	var c *color.Color
	switch s {
	case models.SideLong:
		c = color.New(color.FgGreen, color.Bold)
	case models.SideShort:
		c = color.New(color.FgRed, color.Bold)
	default:
		c = color.New(color.FgYellow)
	}
	return e.paint(c).Sprint(string(s))
}

// paint forces color on or off regardless of color.NoColor
func (e *Emitter) paint(c *color.Color) *color.Color {
	if e.colored {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return c
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}
