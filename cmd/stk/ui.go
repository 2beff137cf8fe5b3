package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"stockify/internal/game"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/fatih/color"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)

	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#374151"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#9CA3AF")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	numberStyle = cellStyle.Align(lipgloss.Right)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

// newTable builds a bordered table. Columns listed in numeric are right aligned.
func newTable(headers []string, numeric ...int) *table.Table {
	right := make(map[int]bool, len(numeric))
	for _, c := range numeric {
		right[c] = true
	}
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case right[col]:
				return numberStyle
			default:
				return cellStyle
			}
		})
}

func renderDashboard(d game.Dashboard) {
	accent.Printf("\n== DASHBOARD (%s) ==\n", d.Username)
	fmt.Printf("Credits:            %s\n", game.FormatCredits(d.CreditsMicros))
	fmt.Printf("Net Worth:          %s\n", game.FormatCredits(d.NetWorthMicros))
	fmt.Printf("P/L vs Start:       %s\n", colorizeMicros(d.NetWorthMicros-game.StartingCreditsMicros))
	fmt.Printf("Since last session: %s\n", colorizeMicros(d.NetWorthChangeMicros))

	fmt.Println()
	accent.Println("Holdings")
	renderHoldings(d.Holdings)
	fmt.Println()
}

func renderHoldings(holdings []game.Holding) {
	if len(holdings) == 0 {
		printInfo("No holdings yet.")
		return
	}
	t := newTable([]string{"ENTITY", "LOTS", "INVESTED", "VALUE", "P/L", "P/L%"}, 1, 2, 3, 4, 5)
	for _, h := range holdings {
		pct := 0.0
		if h.TotalPrincipalMicros != 0 {
			pct = float64(h.ProfitMicros) / float64(h.TotalPrincipalMicros) * 100
		}
		t.Row(
			h.EntityID,
			strconv.Itoa(h.Positions),
			formatMicros(h.TotalPrincipalMicros),
			formatMicros(h.CurrentValueMicros),
			colorizeMicros(h.ProfitMicros),
			colorizePercent(pct),
		)
	}
	fmt.Println(t)
}

func renderEntities(entities []game.EntityView) {
	accent.Println("\n== MARKET ==")
	if len(entities) == 0 {
		printInfo("No entities tracked yet. Add one with `stk track <id>`.")
		return
	}
	t := newTable([]string{"ID", "NAME", "FOLLOWERS", "POPULARITY"}, 2, 3)
	for _, e := range entities {
		t.Row(e.ID, truncate(e.Name, 28), comma(e.Metric), strconv.Itoa(e.Popularity))
	}
	fmt.Println(t)
}

func renderEntityDetail(d game.EntityDetail) {
	accent.Printf("\n== %s (%s) ==\n", d.Name, d.ID)
	fmt.Printf("Followers:   %s\n", comma(d.Metric))
	fmt.Printf("Popularity:  %d/100\n", d.Popularity)
	if !d.FetchedAt.IsZero() {
		fmt.Printf("Fetched:     %s\n", d.FetchedAt.Local().Format("2006-01-02 15:04"))
	}
	if len(d.Series) == 0 {
		fmt.Println()
		return
	}
	fmt.Printf("Trend:       %s\n", sparkline(d.Series))
	t := newTable([]string{"DATE", "FOLLOWERS"}, 1)
	for _, p := range d.Series {
		t.Row(p.At.Format("2006-01-02"), comma(p.Value))
	}
	fmt.Println(t)
}

func renderMovers(m game.Movers) {
	accent.Println("\n== TOP GAINERS ==")
	renderMoverRows(m.Gainers, "No gainers yet.")
	accent.Println("\n== TOP LOSERS ==")
	renderMoverRows(m.Losers, "No losers yet.")
	fmt.Println()
}

func renderMoverRows(rows []game.Mover, empty string) {
	if len(rows) == 0 {
		printInfo(empty)
		return
	}
	t := newTable([]string{"ID", "NAME", "FOLLOWERS", "CHANGE"}, 2, 3)
	for _, r := range rows {
		t.Row(r.EntityID, truncate(r.Name, 28), comma(r.Metric), colorizePercent(r.ChangePct))
	}
	fmt.Println(t)
}

func renderMostTraded(rows []game.TradedEntity) {
	accent.Println("\n== MOST TRADED SINCE YOUR LAST SESSION ==")
	if len(rows) == 0 {
		printInfo("No trades since your last session.")
		return
	}
	t := newTable([]string{"ENTITY", "BOUGHT", "SOLD"}, 1, 2)
	for _, r := range rows {
		t.Row(r.EntityID, formatMicros(r.BuysMicros), formatMicros(r.SellsMicros))
	}
	fmt.Println(t)
}

func renderInvest(out game.InvestResult) {
	printSuccess(fmt.Sprintf("Invested %s in %s.", game.FormatCredits(out.Transaction.AmountMicros), out.Transaction.EntityID))
	fmt.Printf("Credits left: %s\n", game.FormatCredits(out.CreditsMicros))
}

func renderSell(out game.SellOutcome) {
	msg := fmt.Sprintf("Sold %s of %s.", game.FormatCredits(out.CreditedMicros), out.Transaction.EntityID)
	if out.FullyClosed {
		msg += " Holding fully closed."
	} else if out.Closed > 0 {
		msg += fmt.Sprintf(" %d lot(s) closed.", out.Closed)
	}
	printSuccess(msg)
	fmt.Printf("Credits: %s\n", game.FormatCredits(out.CreditsMicros))
}

func renderTransactions(txs []game.Transaction) {
	accent.Println("\n== TRANSACTIONS ==")
	if len(txs) == 0 {
		printInfo("No transactions yet.")
		return
	}
	t := newTable([]string{"TIME", "KIND", "ENTITY", "AMOUNT"}, 3)
	for i := len(txs) - 1; i >= 0; i-- {
		tx := txs[i]
		kind := success.Sprint(strings.ToUpper(string(tx.Kind)))
		if tx.Kind == game.TxSell {
			kind = danger.Sprint(strings.ToUpper(string(tx.Kind)))
		}
		t.Row(tx.At.Local().Format("2006-01-02 15:04"), kind, tx.EntityID, formatMicros(tx.AmountMicros))
	}
	fmt.Println(t)
}

func renderLeaderboard(rows []game.LeaderboardRow) {
	accent.Println("\n== LEADERBOARD ==")
	if len(rows) == 0 {
		printInfo("No leaderboard rows yet.")
		return
	}
	t := newTable([]string{"RANK", "PLAYER", "NET WORTH"}, 0, 2)
	for _, row := range rows {
		t.Row(strconv.FormatInt(row.Rank, 10), truncate(row.Username, 18), formatMicros(row.NetWorthMicros))
	}
	fmt.Println(t)
}

func renderInsight(entityID, text string) error {
	out, err := glamour.Render(fmt.Sprintf("## Insight: %s\n\n%s\n", entityID, text), "auto")
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

var sparkTicks = []rune("▁▂▃▄▅▆▇█")

func sparkline(s game.Series) string {
	if len(s) == 0 {
		return ""
	}
	lo, hi := s[0].Value, s[0].Value
	for _, p := range s {
		lo = min(lo, p.Value)
		hi = max(hi, p.Value)
	}
	var b strings.Builder
	for _, p := range s {
		idx := 0
		if hi > lo {
			idx = int(float64(p.Value-lo) / float64(hi-lo) * float64(len(sparkTicks)-1))
		}
		b.WriteRune(sparkTicks[idx])
	}
	return success.Sprint(b.String())
}

func colorizeMicros(v int64) string {
	text := signedMicros(v)
	switch {
	case v > 0:
		return success.Sprint(text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func colorizePercent(v float64) string {
	text := fmt.Sprintf("%+.2f%%", v)
	switch {
	case v > 0:
		return success.Sprint(text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func formatMicros(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	whole := v / game.MicrosPerCredit
	frac := (v % game.MicrosPerCredit) / 10_000
	return fmt.Sprintf("%s%s.%02d", sign, comma(whole), frac)
}

func signedMicros(v int64) string {
	if v > 0 {
		return "+" + formatMicros(v)
	}
	return formatMicros(v)
}

func comma(v int64) string {
	if v < 0 {
		return "-" + comma(-v)
	}
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		b.WriteByte(',')
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
