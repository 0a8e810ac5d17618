package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"callcoin-platform/internal/app"
	"callcoin-platform/internal/audit"
	"callcoin-platform/internal/pricing"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

const (
	flagAt          = "at"
	flagActor       = "actor"
	flagLimit       = "limit"
	flagAudio       = "audio"
	flagVideo       = "video"
	flagChat        = "chat"
	flagPct         = "responder-pct"
	flagMinRedeem   = "min-redeem"
	flagCoinValue   = "coin-value"
	flagCurrency    = "currency"
	flagMaxSeconds  = "max-call-seconds"
	flagChatEnabled = "chat-enabled"
	flagOrder       = "order"
)

type opener func(ctx context.Context) (*app.App, error)

// session holds the App opened for the running command.
type session struct {
	open opener
	app  *app.App
}

func newRootCommand(open opener) *cobra.Command {
	s := &session{open: open}
	root := &cobra.Command{
		Use:           "callctl",
		Short:         "Operations CLI for the call and coin platform",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a, err := s.open(cmd.Context())
			if err != nil {
				return fmt.Errorf("open: %w", err)
			}
			s.app = a
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if s.app != nil {
				s.app.Close()
			}
		},
	}
	root.AddCommand(
		s.migrateCommand(),
		s.sweepCommand(),
		s.configCommand(),
		s.accountCommand(),
		s.auditCommand(),
	)
	return root
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (s *session) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if s.app.Backends.DB == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "memory store: nothing to migrate")
				return nil
			}
			if err := s.app.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
}

// sweepCommand runs one reaper pass: expired rings and connects, stalled
// meters, overdue ticks, orphaned calls and stale in-call flags.
func (s *session) sweepCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one reaper sweep and print what changed",
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := cmd.Flags().GetString(flagAt)
			if err != nil {
				return err
			}
			now := time.Now()
			if at != "" {
				if now, err = time.Parse(time.RFC3339, at); err != nil {
					return fmt.Errorf("--%s: %w", flagAt, err)
				}
			}
			rep, err := s.app.Reaper.Sweep(cmd.Context(), now)
			if werr := writeJSON(cmd.OutOrStdout(), rep); werr != nil {
				return errors.Join(err, werr)
			}
			return err
		},
	}
	cmd.Flags().String(flagAt, "", "sweep as of this RFC3339 time (default now)")
	return cmd
}

func (s *session) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or change the coin config",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the active coin config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := s.app.Pricing.Current(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), cfg)
		},
	}

	history := &cobra.Command{
		Use:   "history",
		Short: "Print recent coin config versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, err := cmd.Flags().GetInt(flagLimit)
			if err != nil {
				return err
			}
			out, err := s.app.Pricing.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	history.Flags().Int(flagLimit, 20, "number of versions")

	set := &cobra.Command{
		Use:   "set",
		Short: "Activate a new coin config version; unset flags keep their current value",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cur, err := s.app.Pricing.Current(ctx)
			if err != nil {
				return err
			}
			next, err := applyConfigFlags(cmd, cur)
			if err != nil {
				return err
			}
			actor, err := cmd.Flags().GetString(flagActor)
			if err != nil {
				return err
			}
			saved, err := s.app.Pricing.Update(ctx, actor, next)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), saved)
		},
	}
	f := set.Flags()
	f.Int64(flagAudio, 0, "audio coins per minute")
	f.Int64(flagVideo, 0, "video coins per minute")
	f.Int64(flagChat, 0, "chat coins per message")
	f.Int(flagPct, 0, "responder commission percentage")
	f.Int64(flagMinRedeem, 0, "minimum coins per redemption")
	f.String(flagCoinValue, "", "currency value of one coin")
	f.String(flagCurrency, "", "currency code")
	f.Int(flagMaxSeconds, 0, "maximum call duration in seconds, 0 for none")
	f.Bool(flagChatEnabled, true, "whether chat is billable")
	f.String(flagActor, "callctl", "actor recorded on the new version")

	cmd.AddCommand(show, history, set)
	return cmd
}

// applyConfigFlags overlays the flags the operator set onto cur.
func applyConfigFlags(cmd *cobra.Command, cur pricing.CoinConfig) (pricing.CoinConfig, error) {
	next := cur
	f := cmd.Flags()
	var errs []error
	int64Flag := func(name string, dst *int64) {
		if f.Changed(name) {
			v, err := f.GetInt64(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	intFlag := func(name string, dst *int) {
		if f.Changed(name) {
			v, err := f.GetInt(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	int64Flag(flagAudio, &next.AudioCoinsPerMinute)
	int64Flag(flagVideo, &next.VideoCoinsPerMinute)
	int64Flag(flagChat, &next.ChatCoinsPerMessage)
	int64Flag(flagMinRedeem, &next.MinRedeemCoins)
	intFlag(flagPct, &next.ResponderCommissionPct)
	intFlag(flagMaxSeconds, &next.MaxCallDurationSeconds)
	if f.Changed(flagCoinValue) {
		raw, err := f.GetString(flagCoinValue)
		errs = append(errs, err)
		v, err := decimal.NewFromString(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("--%s: %w", flagCoinValue, err))
		}
		next.CoinValue = v
	}
	if f.Changed(flagCurrency) {
		v, err := f.GetString(flagCurrency)
		errs = append(errs, err)
		next.Currency = v
	}
	if f.Changed(flagChatEnabled) {
		v, err := f.GetBool(flagChatEnabled)
		errs = append(errs, err)
		next.ChatEnabled = v
	}
	return next, errors.Join(errs...)
}

func (s *session) accountCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Account maintenance",
	}

	credit := &cobra.Command{
		Use:   "credit <account-id> <coins>",
		Short: "Record a coin purchase for a settled payment order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var coins int64
			if _, err := fmt.Sscan(args[1], &coins); err != nil {
				return fmt.Errorf("coins: %w", err)
			}
			order, err := cmd.Flags().GetString(flagOrder)
			if err != nil {
				return err
			}
			tx, err := s.app.Wallet.Purchase(cmd.Context(), args[0], coins, order)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), tx)
		},
	}
	credit.Flags().String(flagOrder, "", "payment order id (idempotency key)")
	_ = credit.MarkFlagRequired(flagOrder)

	del := &cobra.Command{
		Use:   "delete <account-id>",
		Short: "Soft-delete an account; the next sweep repairs its calls",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.app.Accounts.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "account %s deleted\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(credit, del)
	return cmd
}

func (s *session) auditCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print recent audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, err := cmd.Flags().GetInt(flagLimit)
			if err != nil {
				return err
			}
			events, err := s.app.Audit.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if events == nil {
				events = []audit.Event{}
			}
			return writeJSON(cmd.OutOrStdout(), events)
		},
	}
	cmd.Flags().Int(flagLimit, 50, "number of events")
	return cmd
}
