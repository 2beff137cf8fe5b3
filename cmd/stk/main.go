package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	cl "stockify/internal/cli"
	"stockify/internal/config"
	"stockify/internal/game"
	"stockify/internal/syncq"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "stk",
		Short:        "Stockify CLI client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "Stockify API base URL")

	root.AddCommand(
		newLoginCmd(&apiBase),
		newLogoutCmd(&apiBase),
		newDashCmd(&apiBase),
		newMarketCmd(&apiBase),
		newTrackCmd(&apiBase),
		newMoversCmd(&apiBase),
		newTradedCmd(&apiBase),
		newTradeCmd(&apiBase, syncq.KindInvest),
		newTradeCmd(&apiBase, syncq.KindSell),
		newHistoryCmd(&apiBase),
		newLeaderboardCmd(&apiBase),
		newInsightCmd(&apiBase),
		newSyncCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

func requireSession() (cl.Session, error) {
	sess, err := cl.LoadSession()
	if err != nil {
		return cl.Session{}, fmt.Errorf("login required: %w", err)
	}
	return sess, nil
}

func newLoginCmd(apiBase *string) *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "login [account-id]",
		Short: "Sign in to Stockify",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var accountID string
			if len(args) > 0 {
				accountID = strings.TrimSpace(args[0])
			}
			if accountID == "" {
				var err error
				if accountID, err = promptRequired("Account ID"); err != nil {
					return err
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			dash, err := newClient(apiBase).SignIn(ctx, accountID, username)
			if err != nil {
				return err
			}
			if err := cl.SaveSession(cl.Session{AccountID: dash.AccountID, Username: dash.Username}); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Signed in as %s.", dash.Username))
			renderDashboard(dash)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "display name for the leaderboard")
	return cmd
}

func newLogoutCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and clear local state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sess, err := cl.LoadSession(); err == nil {
				ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
				defer cancel()
				if err := newClient(apiBase).SignOut(ctx, sess.AccountID); err != nil {
					printWarn(fmt.Sprintf("Server sign-out failed: %v", err))
				}
			}
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
		Short: "Show credits, net worth and holdings",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			dash, err := newClient(apiBase).Dashboard(ctx, sess.AccountID)
			if err != nil {
				return err
			}
			renderDashboard(dash)
			return nil
		},
	}
}

func newMarketCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:     "market [entity-id]",
		Short:   "List tracked entities or inspect one",
		Aliases: []string{"entities"},
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			if len(args) == 1 {
				detail, err := client.Entity(ctx, strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				renderEntityDetail(detail)
				return nil
			}
			entities, err := client.Entities(ctx)
			if err != nil {
				return err
			}
			renderEntities(entities)
			return nil
		},
	}
}

func newTrackCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "track <entity-id>",
		Short: "Add an artist to the market",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			entityID := strings.TrimSpace(args[0])
			if err := game.ValidateEntityID(entityID); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			detail, err := newClient(apiBase).Track(ctx, sess.AccountID, entityID)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Now tracking %s.", detail.Name))
			renderEntityDetail(detail)
			return nil
		},
	}
}

func newMoversCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "movers",
		Short: "Show the biggest gainers and losers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			movers, err := newClient(apiBase).Movers(ctx)
			if err != nil {
				return err
			}
			renderMovers(movers)
			return nil
		},
	}
}

func newTradedCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "traded",
		Short: "Show the most traded entities since your last session",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			rows, err := newClient(apiBase).MostTraded(ctx, sess.AccountID)
			if err != nil {
				return err
			}
			renderMostTraded(rows)
			return nil
		},
	}
}

func newTradeCmd(apiBase *string, kind syncq.Kind) *cobra.Command {
	short := "Invest credits in an entity"
	if kind == syncq.KindSell {
		short = "Sell a credit amount of your holdings in an entity"
	}
	return &cobra.Command{
		Use:   string(kind) + " <entity-id> [amount]",
		Short: short,
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			entityID := strings.TrimSpace(args[0])
			if err := game.ValidateEntityID(entityID); err != nil {
				return err
			}
			var amount string
			if len(args) == 2 {
				amount = strings.TrimSpace(args[1])
			} else if amount, err = promptRequired("Amount (credits)"); err != nil {
				return err
			}
			if _, err := game.ParseCredits(amount); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			pending := syncq.Command{
				Kind:           kind,
				AccountID:      sess.AccountID,
				EntityID:       entityID,
				Amount:         amount,
				IdempotencyKey: uuid.NewString(),
			}
			if kind == syncq.KindInvest {
				out, err := client.Invest(ctx, sess.AccountID, entityID, amount, pending.IdempotencyKey)
				if err != nil {
					return queueOnNetworkError(err, pending)
				}
				renderInvest(out)
				return nil
			}
			out, err := client.Sell(ctx, sess.AccountID, entityID, amount, pending.IdempotencyKey)
			if err != nil {
				return queueOnNetworkError(err, pending)
			}
			renderSell(out)
			return nil
		},
	}
}

func newHistoryCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List your transactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			txs, err := newClient(apiBase).Transactions(ctx, sess.AccountID)
			if err != nil {
				return err
			}
			renderTransactions(txs)
			return nil
		},
	}
}

func newLeaderboardCmd(apiBase *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:     "leaderboard",
		Short:   "Rank players by net worth",
		Aliases: []string{"lb"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			rows, err := newClient(apiBase).Leaderboard(ctx, limit)
			if err != nil {
				return err
			}
			renderLeaderboard(rows)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of rows")
	return cmd
}

func newInsightCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "insight <entity-id>",
		Short: "Ask for a short analysis of an entity's trend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()
			entityID := strings.TrimSpace(args[0])
			text, err := newClient(apiBase).Insight(ctx, entityID)
			if err != nil {
				return err
			}
			return renderInsight(entityID, text)
		},
	}
}

func newSyncCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay trades queued while offline",
		RunE: func(cmd *cobra.Command, args []string) error {
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

			send := func(ctx context.Context, c syncq.Command) error {
				var err error
				switch c.Kind {
				case syncq.KindInvest:
					_, err = client.Invest(ctx, c.AccountID, c.EntityID, c.Amount, c.IdempotencyKey)
				case syncq.KindSell:
					_, err = client.Sell(ctx, c.AccountID, c.EntityID, c.Amount, c.IdempotencyKey)
				default:
					err = fmt.Errorf("unknown command kind %q", c.Kind)
				}
				return err
			}
			res := syncq.Replay(ctx, queue, send, func(err error) bool { return !cl.IsRejected(err) })
			for _, r := range res.Rejected {
				printError(fmt.Sprintf("Dropped %s %s %s: %v", r.Command.Kind, r.Command.Amount, r.Command.EntityID, r.Err))
			}
			if err := syncq.Save(res.Pending); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Sync complete: replayed=%d dropped=%d remaining=%d", res.Applied, len(res.Rejected), len(res.Pending)))
			return nil
		},
	}
}

// queueOnNetworkError keeps a trade for `stk sync` when the API could not be reached.
// Errors the API answered with are returned as is.
func queueOnNetworkError(err error, pending syncq.Command) error {
	if err == nil {
		return nil
	}
	var apiErr *cl.APIError
	if errors.As(err, &apiErr) {
		return err
	}
	queued, qerr := syncq.Push(pending)
	if qerr != nil {
		return fmt.Errorf("request failed and could not be queued: %w", err)
	}
	printWarn(fmt.Sprintf("API unreachable, queued %s of %s credits in %s (key %s). Run `stk sync` later.",
		queued.Kind, queued.Amount, queued.EntityID, queued.IdempotencyKey))
	return nil
}
