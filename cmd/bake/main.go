package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	cl "bakesim/internal/cli"
	"bakesim/internal/config"
	"bakesim/internal/syncq"

	"github.com/spf13/cobra"
)

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "bake",
		Short:        "Bakesim CLI game client",
		SilenceUsage: true,
	}

	root.AddCommand(
		newLoginCmd(&apiBase),
		newLogoutCmd(),
		newDashCmd(&apiBase),
		newLeaderboardCmd(&apiBase),
		newPlanCmd(&apiBase),
		newPricesCmd(&apiBase),
		newSyncCmd(&apiBase),
		newAdminCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

func newLoginCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Login with your team name and password",
		RunE: func(cmd *cobra.Command, args []string) error {
			team, err := promptRequired("Team")
			if err != nil {
				return err
			}
			password, err := promptPassword("Password")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			result, err := client.Login(ctx, team, password)
			if err != nil {
				return err
			}
			if err := cl.SaveSession(cl.Session{
				Token: result.Token,
				Team:  result.Team,
			}); err != nil {
				return err
			}
			printSuccess("Login successful.")
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear local session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newDashCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "dash",
		Short: "Show your team dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			out, err := client.Dashboard(ctx, sess.Token)
			if err != nil {
				return err
			}
			return renderDashboard(out)
		},
	}
}

func newLeaderboardCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:     "leaderboard [limit]",
		Short:   "Show the class leaderboard",
		Aliases: []string{"lb"},
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			limit := 0
			if len(args) > 0 {
				limit, err = strconv.Atoi(strings.TrimSpace(args[0]))
				if err != nil || limit < 1 {
					return fmt.Errorf("invalid limit %q", args[0])
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			out, err := client.Leaderboard(ctx, sess.Token, limit)
			if err != nil {
				return err
			}
			return renderLeaderboard(out)
		},
	}
}

func newPlanCmd(apiBase *string) *cobra.Command {
	plan := &cobra.Command{
		Use:   "plan",
		Short: "Production plan commands",
	}
	var file string
	submit := &cobra.Command{
		Use:   "submit",
		Short: "Submit this round's production plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			var lines []map[string]any
			var required map[string]float64
			if file != "" {
				var payload struct {
					Lines    []map[string]any   `json:"lines"`
					Required map[string]float64 `json:"required"`
				}
				if err := readJSONFile(file, &payload); err != nil {
					return err
				}
				lines, required = payload.Lines, payload.Required
				if len(lines) == 0 {
					return fmt.Errorf("%s has no plan lines", file)
				}
			} else {
				lines, err = promptPlanLines()
				if err != nil {
					return err
				}
				required, err = promptRequiredHours()
				if err != nil {
					return err
				}
			}
			body := map[string]any{"lines": lines, "required": required}

			client := newClient(apiBase)
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := client.SubmitPlan(ctx, sess.Token, lines, required)
			if err != nil {
				return queueOnNetworkError(err, syncq.Command{
					Method: "POST",
					Path:   "/v1/plans",
					Body:   body,
				})
			}
			return renderSimpleOK(out, "Plan submitted.")
		},
	}
	submit.Flags().StringVarP(&file, "file", "f", "", "read the plan from a JSON file instead of prompting")
	plan.AddCommand(submit)
	return plan
}

func newPricesCmd(apiBase *string) *cobra.Command {
	prices := &cobra.Command{
		Use:   "prices",
		Short: "Price sheet commands",
	}
	var file string
	submit := &cobra.Command{
		Use:   "submit",
		Short: "Submit this round's price sheet",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			var lines []map[string]any
			if file != "" {
				var payload struct {
					Lines []map[string]any `json:"lines"`
				}
				if err := readJSONFile(file, &payload); err != nil {
					return err
				}
				lines = payload.Lines
			} else {
				lines, err = promptPriceLines()
				if err != nil {
					return err
				}
			}
			body := map[string]any{"lines": lines}

			client := newClient(apiBase)
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := client.SubmitPrices(ctx, sess.Token, lines)
			if err != nil {
				return queueOnNetworkError(err, syncq.Command{
					Method: "POST",
					Path:   "/v1/prices",
					Body:   body,
				})
			}
			return renderSimpleOK(out, "Prices submitted.")
		},
	}
	submit.Flags().StringVarP(&file, "file", "f", "", "read prices from a JSON file instead of prompting")
	prices.AddCommand(submit)
	return prices
}

func newSyncCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay locally queued offline submissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			queue, err := syncq.Load()
			if err != nil {
				return err
			}
			if len(queue) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			client := newClient(apiBase)
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			remaining := make([]syncq.Command, 0, len(queue))
			replayed := 0
			for _, q := range queue {
				if _, err := client.Do(ctx, q.Method, q.Path, sess.Token, q.Body); err != nil {
					remaining = append(remaining, q)
					printError(fmt.Sprintf("Sync failed for %s %s: %v", q.Method, q.Path, err))
					continue
				}
				replayed++
			}
			if err := syncq.Save(remaining); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Sync complete: replayed=%d remaining=%d", replayed, len(remaining)))
			return nil
		},
	}
}

func newAdminCmd(apiBase *string) *cobra.Command {
	admin := &cobra.Command{
		Use:   "admin",
		Short: "Instructor commands",
	}
	admin.AddCommand(
		newAdminStateCmd(apiBase),
		newAdminAdvanceCmd(apiBase),
		newAdminReopenCmd(apiBase),
		newAdminFinalizeCmd(apiBase),
		newAdminRoundCmd(apiBase),
		newAdminResetCmd(apiBase),
		newAdminLockCmd(apiBase, true),
		newAdminLockCmd(apiBase, false),
		newAdminTeamCmd(apiBase),
		newAdminSeedCmd(apiBase),
	)
	return admin
}

// adminCreds reads instructor credentials from the environment, prompting
// for whichever part is missing.
func adminCreds() (string, string, error) {
	user := strings.TrimSpace(os.Getenv("ADMIN_USER"))
	pass := strings.TrimSpace(os.Getenv("ADMIN_PASS"))
	var err error
	if user == "" {
		user, err = promptRequired("Admin user")
		if err != nil {
			return "", "", err
		}
	}
	if pass == "" {
		pass, err = promptPassword("Admin password")
		if err != nil {
			return "", "", err
		}
	}
	return user, pass, nil
}

func newAdminStateCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Show the current round and lock state",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, pass, err := adminCreds()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).AdminState(ctx, user, pass)
			if err != nil {
				return err
			}
			accent.Printf("Current round: %v\n", out["current_round"])
			fmt.Printf("Locked:        %v\n", out["locked"])
			return nil
		},
	}
}

func newAdminAdvanceCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "advance",
		Short: "Finalize the current round and open the next one",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, pass, err := adminCreds()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 120*time.Second)
			defer cancel()
			out, err := newClient(apiBase).AdminAdvance(ctx, user, pass)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Round advanced. Current round is now %v.", out["current_round"]))
			return nil
		},
	}
}

func newAdminReopenCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reopen",
		Short: "Step the game back to the previous round",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, pass, err := adminCreds()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).AdminReopen(ctx, user, pass)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Reopened. Current round is now %v.", out["current_round"]))
			return nil
		},
	}
}

func newAdminFinalizeCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "finalize <round>",
		Short: "Settle a specific round without advancing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			round, err := parseRoundArg(args[0])
			if err != nil {
				return err
			}
			user, pass, err := adminCreds()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 120*time.Second)
			defer cancel()
			if _, err := newClient(apiBase).AdminFinalize(ctx, user, pass, round); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Round %d finalized.", round))
			return nil
		},
	}
}

func newAdminRoundCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "round <round>",
		Short: "Show every submitted plan and price sheet for a round",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			round, err := parseRoundArg(args[0])
			if err != nil {
				return err
			}
			user, pass, err := adminCreds()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).AdminRoundData(ctx, user, pass, round)
			if err != nil {
				return err
			}
			return renderRoundData(out)
		},
	}
}

func newAdminResetCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <round>",
		Short: "Delete all plans and prices for a round",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			round, err := parseRoundArg(args[0])
			if err != nil {
				return err
			}
			confirmed, err := promptYesNo(fmt.Sprintf("Really delete all submissions for round %d?", round))
			if err != nil {
				return err
			}
			if !confirmed {
				printInfo("Aborted.")
				return nil
			}
			user, pass, err := adminCreds()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if _, err := newClient(apiBase).AdminResetRound(ctx, user, pass, round); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Round %d reset.", round))
			return nil
		},
	}
}

func newAdminLockCmd(apiBase *string, lock bool) *cobra.Command {
	use, short := "lock", "Lock plan and price submissions"
	if !lock {
		use, short = "unlock", "Unlock plan and price submissions"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, pass, err := adminCreds()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if _, err := newClient(apiBase).AdminSetLocked(ctx, user, pass, lock); err != nil {
				return err
			}
			if lock {
				printSuccess("Submissions locked.")
			} else {
				printSuccess("Submissions unlocked.")
			}
			return nil
		},
	}
}

func newAdminTeamCmd(apiBase *string) *cobra.Command {
	team := &cobra.Command{
		Use:   "team",
		Short: "Team management commands",
	}
	team.AddCommand(&cobra.Command{
		Use:   "create [name]",
		Short: "Register a new team",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			var err error
			if len(args) > 0 {
				name = strings.TrimSpace(args[0])
			} else {
				name, err = promptRequired("Team name")
				if err != nil {
					return err
				}
			}
			password, err := promptPassword("Team password")
			if err != nil {
				return err
			}
			money, err := promptFloat("Starting money (0 for default)", 0)
			if err != nil {
				return err
			}
			stock, err := promptFloat("Starting stock value (0 for default)", 0)
			if err != nil {
				return err
			}
			user, pass, err := adminCreds()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if _, err := newClient(apiBase).AdminCreateTeam(ctx, user, pass, name, password, money, stock); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Team %s created.", name))
			return nil
		},
	})
	return team
}

func newAdminSeedCmd(apiBase *string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "seed [path]",
		Short: "Load cakes, channels, recipes, and teams from a scenario file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) > 0 {
				path = strings.TrimSpace(args[0])
			}
			user, pass, err := adminCreds()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()
			if _, err := newClient(apiBase).AdminSeed(ctx, user, pass, path, force); err != nil {
				return err
			}
			printSuccess("Scenario seeded.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "reseed even if cakes already exist")
	return cmd
}

func promptPlanLines() ([]map[string]any, error) {
	var lines []map[string]any
	printInfo("Enter production plan lines. Leave cake empty to finish.")
	for {
		cake, err := promptOptional("Cake")
		if err != nil {
			return nil, err
		}
		if cake == "" {
			break
		}
		channel, err := promptRequired("Channel")
		if err != nil {
			return nil, err
		}
		qty, err := promptFloat("Quantity", 0)
		if err != nil {
			return nil, err
		}
		lines = append(lines, map[string]any{"cake": cake, "channel": channel, "qty": qty})
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("a plan needs at least one line")
	}
	return lines, nil
}

func promptRequiredHours() (map[string]float64, error) {
	required := make(map[string]float64)
	printInfo("Enter labor hours per category. Leave empty to skip.")
	for _, category := range []string{"prep", "oven", "package", "oven rental"} {
		text, err := promptOptional(category + " hours")
		if err != nil {
			return nil, err
		}
		if text == "" {
			continue
		}
		v, err := strconv.ParseFloat(text, 64)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("invalid hours for %s: %q", category, text)
		}
		required[category] = v
	}
	return required, nil
}

func promptPriceLines() ([]map[string]any, error) {
	var lines []map[string]any
	printInfo("Enter price lines. Leave cake empty to finish.")
	for {
		cake, err := promptOptional("Cake")
		if err != nil {
			return nil, err
		}
		if cake == "" {
			break
		}
		channel, err := promptRequired("Channel")
		if err != nil {
			return nil, err
		}
		price, err := promptFloat("Price (USD)", 0)
		if err != nil {
			return nil, err
		}
		lines = append(lines, map[string]any{"cake": cake, "channel": channel, "price_usd": price})
	}
	return lines, nil
}

func readJSONFile(path string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func parseRoundArg(raw string) (int, error) {
	round, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || round < 1 {
		return 0, fmt.Errorf("invalid round %q", raw)
	}
	return round, nil
}

// queueOnNetworkError parks a failed write in the offline queue unless the
// API itself rejected it, in which case replaying would fail the same way.
func queueOnNetworkError(err error, cmd syncq.Command) error {
	if err == nil {
		return nil
	}
	if isAPIStructuredError(err) {
		return err
	}
	if qErr := syncq.Push(cmd); qErr != nil {
		return fmt.Errorf("request failed and could not be queued: %v (queue: %w)", err, qErr)
	}
	printWarn(fmt.Sprintf("Request failed (%v). Queued for `bake sync`.", err))
	return nil
}

func isAPIStructuredError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "api status")
}
