package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"bakesim/internal/game"

	"github.com/fatih/color"
	"golang.org/x/term"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

type leaderboardPayload struct {
	Rows []game.LeaderboardRow `json:"rows"`
}

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

func promptOptional(label string) (string, error) {
	fmt.Printf("%s: ", label)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func promptPassword(label string) (string, error) {
	fmt.Printf("%s: ", label)
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(text), nil
	}
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

func promptFloat(label string, min float64) (float64, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			printWarn("Enter a valid number.")
			continue
		}
		if v < min {
			printWarn(fmt.Sprintf("Value must be >= %.2f", min))
			continue
		}
		return v, nil
	}
}

func promptYesNo(label string) (bool, error) {
	for {
		fmt.Printf("%s (y/n): ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(text)) {
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		printWarn("Please answer y or n.")
	}
}

func renderDashboard(raw map[string]any) error {
	d, err := decodeInto[game.Dashboard](raw)
	if err != nil {
		return err
	}

	accent.Printf("\n== %s — ROUND %d ==\n", strings.ToUpper(d.Team), d.CurrentRound)
	if d.Locked {
		printWarn("Submissions are currently locked.")
	}
	fmt.Printf("Money:          %s\n", formatUSD(d.Money))
	fmt.Printf("Stock Value:    %s\n", formatUSD(d.StockValue))
	fmt.Printf("Total Value:    %s\n", formatUSD(d.TotalValue))
	fmt.Printf("Last Profit:    %s\n", colorizeUSD(d.LastProfit))
	fmt.Printf("Last Transport: %s\n", formatUSD(d.LastTransportCost))
	fmt.Printf("Last Packaging: %s\n", formatUSD(d.LastPackagingCost))
	fmt.Printf("Last Resources: %s\n", formatUSD(d.LastResourceCost))
	fmt.Printf("Finalized Thru: round %d\n", d.LastFinalized)

	fmt.Println()
	accent.Println("Production Plan")
	if len(d.Plan) == 0 {
		printInfo("No plan submitted for this round.")
	} else {
		fmt.Printf("%-20s %-14s %10s\n", "CAKE", "CHANNEL", "QTY")
		for _, l := range d.Plan {
			fmt.Printf("%-20s %-14s %10.1f\n", truncate(l.Cake, 20), truncate(l.Channel, 14), l.Qty)
		}
	}

	fmt.Println()
	accent.Println("Prices")
	if len(d.Prices) == 0 {
		printInfo("No prices submitted for this round.")
	} else {
		fmt.Printf("%-20s %-14s %10s\n", "CAKE", "CHANNEL", "PRICE")
		for _, l := range d.Prices {
			fmt.Printf("%-20s %-14s %10s\n", truncate(l.Cake, 20), truncate(l.Channel, 14), formatUSD(l.PriceUSD))
		}
	}
	fmt.Println()
	return nil
}

func renderLeaderboard(raw map[string]any) error {
	payload, err := decodeInto[leaderboardPayload](raw)
	if err != nil {
		return err
	}
	accent.Println("\n== LEADERBOARD ==")
	if len(payload.Rows) == 0 {
		printInfo("No teams yet.")
		return nil
	}
	fmt.Printf("%-5s %-24s %12s %12s %12s %12s\n", "RANK", "TEAM", "MONEY", "STOCK", "TOTAL", "PROFIT")
	for _, row := range payload.Rows {
		fmt.Printf("%-5d %-24s %12s %12s %12s %12s\n",
			row.Rank,
			truncate(row.Team, 24),
			formatUSD(row.Money),
			formatUSD(row.StockValue),
			formatUSD(row.TotalValue),
			colorizeUSD(row.LastProfit),
		)
	}
	fmt.Println()
	return nil
}

func renderRoundData(raw map[string]any) error {
	data, err := decodeInto[game.RoundData](raw)
	if err != nil {
		return err
	}
	accent.Printf("\n== ROUND %d ==\n", data.Round)

	accent.Println("Price Sheets")
	if len(data.Prices) == 0 {
		printInfo("No price records.")
	}
	for _, p := range data.Prices {
		origin := ""
		if p.AutoFilled {
			origin = " (auto-filled"
			if p.CopiedFromRound != nil {
				origin += fmt.Sprintf(" from round %d", *p.CopiedFromRound)
			}
			origin += ")"
		}
		fmt.Printf("%s%s\n", p.Team, origin)
		for _, l := range p.Lines {
			fmt.Printf("  %-20s %-14s %10s\n", truncate(l.Cake, 20), truncate(l.Channel, 14), formatUSD(l.PriceUSD))
		}
	}

	fmt.Println()
	accent.Println("Production Plans")
	if len(data.Plans) == 0 {
		printInfo("No plan records.")
	}
	for _, p := range data.Plans {
		fmt.Printf("%s  profit=%s\n", p.Team, colorizeUSD(p.ProfitUSD))
		for _, l := range p.Lines {
			fmt.Printf("  %-20s %-14s %10.1f\n", truncate(l.Cake, 20), truncate(l.Channel, 14), l.Qty)
		}
	}
	fmt.Println()
	return nil
}

func renderSimpleOK(raw map[string]any, successMessage string) error {
	if v, has := raw["ok"]; has {
		if t, isBool := v.(bool); isBool && !t {
			printWarn("Server did not confirm the request.")
			return nil
		}
	}
	printSuccess(successMessage)
	return nil
}

func decodeInto[T any](in any) (T, error) {
	var out T
	raw, err := json.Marshal(in)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

func formatUSD(v float64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s$%.2f", sign, v)
}

func colorizeUSD(v float64) string {
	text := formatUSD(v)
	if v > 0 {
		text = "+" + text
	}
	switch {
	case v > 0:
		return success.Sprint(text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
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
