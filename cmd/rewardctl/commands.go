package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/and161185/rewardvault/internal/auth"
	"github.com/and161185/rewardvault/internal/convert"
	"github.com/and161185/rewardvault/internal/migrate"
	"github.com/and161185/rewardvault/internal/model"
	"github.com/and161185/rewardvault/internal/service"
	"github.com/and161185/rewardvault/internal/trigger"
)

func newRootCmd(a *app) *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:           "rewardctl",
		Short:         "Operate the entitlement reconciliation service",
		Version:       fmt.Sprintf("%s (%s)", version, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.init(verbose)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "development logging")

	root.AddCommand(
		recoverCmd(a),
		reconcileCmd(a),
		grantCmd(a),
		revokeCmd(a),
		packagesCmd(a),
		migrateCmd(a),
		tokenCmd(a),
	)
	return root
}

// withBackend opens the store-backed components for the duration of fn.
func (a *app) withBackend(ctx context.Context, fn func(*backend) error) error {
	b, err := a.open(ctx, a)
	if err != nil {
		return fmt.Errorf("open backend: %w", err)
	}
	defer b.close()
	return fn(b)
}

func recoverCmd(a *app) *cobra.Command {
	var (
		since       string
		limit       int
		concurrency int
		dryRun      bool
	)
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Reconcile recently completed checkout sessions across all customers",
		Long: `Scan completed checkout sessions at the payment processor and reconcile
every cart checkout among them. Each session is written to the log with its
user, cart and outcome.

Examples:
  rewardctl recover --since 6h
  rewardctl recover --since 2026-10-01T00:00:00Z --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := trigger.RecoveryOptions{Limit: limit, Concurrency: concurrency, DryRun: dryRun}
			if since != "" {
				t, err := parseSince(since, time.Now())
				if err != nil {
					return err
				}
				opts.Since = t
			}
			return a.withBackend(cmd.Context(), func(b *backend) error {
				rep, err := b.recovery.Run(cmd.Context(), opts)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), rep); err != nil {
					return err
				}
				if rep.Failed > 0 {
					return fmt.Errorf("%d of %d sessions failed", rep.Failed, rep.Candidates)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "lookback as a duration (6h) or RFC3339 time")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum sessions to scan")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "sessions reconciled in parallel")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list candidates without writing")
	return cmd
}

func reconcileCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile SESSION_ID",
		Short: "Reconcile a single checkout session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBackend(cmd.Context(), func(b *backend) error {
				entry, err := b.recovery.Replay(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), entry); err != nil {
					return err
				}
				if entry.Error != "" && entry.Outcome != trigger.OutcomeSkipped {
					return fmt.Errorf("reconcile %s: %s", entry.SessionID, entry.Error)
				}
				return nil
			})
		},
	}
}

func grantCmd(a *app) *cobra.Command {
	var user, productID, slug, reason string
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant a package to a user if not already active",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			uid, err := parseUUID("user", user)
			if err != nil {
				return err
			}
			pid, err := parseUUID("product-id", productID)
			if err != nil {
				return err
			}
			meta := model.Metadata{"source": string(model.SourceManual)}
			if reason = strings.TrimSpace(reason); reason != "" {
				meta["reason"] = reason
			}
			return a.withBackend(cmd.Context(), func(b *backend) error {
				res, err := b.entitlements.Ensure(cmd.Context(), service.EnsureInput{
					UserID:      uid,
					ProductID:   pid,
					ProductSlug: slug,
					Metadata:    meta,
				})
				if err != nil {
					return err
				}
				a.log.Info("manual grant",
					zap.String("user_id", uid.String()),
					zap.String("product_slug", slug),
					zap.Bool("created", res.Created),
				)
				return printJSON(cmd.OutOrStdout(), struct {
					Created     bool   `json:"created"`
					Entitlement string `json:"entitlement_id"`
				}{res.Created, res.Entitlement.ID.String()})
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id")
	cmd.Flags().StringVar(&productID, "product-id", "", "product id")
	cmd.Flags().StringVar(&slug, "slug", "", "product slug")
	cmd.Flags().StringVar(&reason, "reason", "", "free-form note stored in metadata")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("product-id")
	_ = cmd.MarkFlagRequired("slug")
	return cmd
}

func revokeCmd(a *app) *cobra.Command {
	var user, slug string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a user's active package",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			uid, err := parseUUID("user", user)
			if err != nil {
				return err
			}
			return a.withBackend(cmd.Context(), func(b *backend) error {
				if err := b.entitlements.Revoke(cmd.Context(), uid, slug); err != nil {
					return err
				}
				a.log.Info("manual revoke", zap.String("user_id", uid.String()), zap.String("product_slug", slug))
				fmt.Fprintf(cmd.OutOrStdout(), "revoked %s for %s\n", slug, uid)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id")
	cmd.Flags().StringVar(&slug, "slug", "", "product slug")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("slug")
	return cmd
}

func packagesCmd(a *app) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "packages",
		Short: "List a user's active packages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			uid, err := parseUUID("user", user)
			if err != nil {
				return err
			}
			return a.withBackend(cmd.Context(), func(b *backend) error {
				pkgs, err := b.entitlements.ListActive(cmd.Context(), uid)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), convert.ToPackages(pkgs))
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func migrateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return migrate.Up(cmd.Context(), a.cfg.DatabaseURL)
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return migrate.Status(cmd.Context(), a.cfg.DatabaseURL)
			},
		},
	)
	return cmd
}

func tokenCmd(a *app) *cobra.Command {
	var (
		user  string
		role  string
		ttl   time.Duration
		admin bool
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token for local testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.JWTSigningKey == "" {
				return errors.New("JWT_SIGNING_KEY is not set")
			}
			uid, err := parseUUID("user", user)
			if err != nil {
				return err
			}
			if admin {
				role = auth.RoleAdmin
			}
			tok, err := auth.Sign([]byte(a.cfg.JWTSigningKey), uid, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id")
	cmd.Flags().StringVar(&role, "role", "", "role claim")
	cmd.Flags().BoolVar(&admin, "admin", false, "shorthand for --role admin")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func parseUUID(flag, v string) (uuid.UUID, error) {
	id, err := uuid.FromString(strings.TrimSpace(v))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("--%s: invalid id %q", flag, v)
	}
	return id, nil
}

// parseSince accepts a lookback duration or an absolute RFC3339 timestamp.
func parseSince(v string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(v); err == nil {
		if d <= 0 {
			return time.Time{}, fmt.Errorf("--since: duration must be positive")
		}
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("--since: want duration or RFC3339, got %q", v)
	}
	return t, nil
}
