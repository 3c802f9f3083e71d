package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"consentmgr/internal/app"
	"consentmgr/internal/consent/models"
	"consentmgr/internal/platform/config"
	"consentmgr/internal/platform/database"
	"consentmgr/internal/platform/logger"
	id "consentmgr/pkg/domain"
	"consentmgr/migrations"
)

type cli struct {
	out     io.Writer
	envFile string
	format  string
	cfg     config.Config
	log     *slog.Logger
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}

	root := &cobra.Command{
		Use:           "consentctl",
		Short:         "Operate the consent store: migrations, expiry and audit inspection",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(c.envFile); err != nil {
				return err
			}
			if c.format != "json" && c.format != "text" {
				return fmt.Errorf("--out must be json or text")
			}
			c.cfg = config.FromEnv()
			c.log = logger.NewWithWriter(cmd.ErrOrStderr(), c.cfg.LogLevel)
			return nil
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	root.PersistentFlags().StringVar(&c.format, "out", "text", "output format: json|text")

	root.AddCommand(c.migrateCmd(), c.expireCmd(), c.historyCmd(), c.auditCmd())
	return root
}

// container builds the service with a private metrics registry; the CLI
// exposes no metrics endpoint.
func (c *cli) container(ctx context.Context) (*app.Container, error) {
	return app.Build(ctx, c.cfg, c.log, app.WithRegisterer(prometheus.NewRegistry()))
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations (requires DATABASE_URL)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			pool, err := database.New(ctx, c.cfg.Database)
			if err != nil {
				return err
			}
			if pool == nil {
				return fmt.Errorf("DATABASE_URL is required")
			}
			defer pool.Close() //nolint:errcheck // process exits next

			applied, err := database.Migrate(ctx, pool.DB(), migrations.FS)
			if err != nil {
				return err
			}
			return c.print(map[string]any{"applied": applied}, func(w io.Writer) {
				if len(applied) == 0 {
					fmt.Fprintln(w, "schema is up to date")
				}
				for _, v := range applied {
					fmt.Fprintln(w, "applied", v)
				}
			})
		},
	}
}

func (c *cli) expireCmd() *cobra.Command {
	var (
		asOf  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Expire consents whose validity period has elapsed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			at := time.Now().UTC()
			if asOf != "" {
				t, err := time.Parse(time.RFC3339, asOf)
				if err != nil {
					return fmt.Errorf("--as-of: %w", err)
				}
				at = t
			}
			ctr, err := c.container(cmd.Context())
			if err != nil {
				return err
			}
			defer ctr.Close() //nolint:errcheck // process exits next

			n, err := ctr.Service.ExpireConsents(cmd.Context(), at, limit)
			if perr := c.print(map[string]any{"expired": n, "as_of": at}, func(w io.Writer) {
				fmt.Fprintf(w, "expired %d consent(s) as of %s\n", n, at.Format(time.RFC3339))
			}); perr != nil {
				return perr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "RFC3339 instant to evaluate expiry at (default now)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum consents to expire, 0 for no limit")
	return cmd
}

func (c *cli) historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <consent-id>",
		Short: "Print every reconstructed past state of a consent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			consentID, err := id.ParseConsentID(args[0])
			if err != nil {
				return err
			}
			ctr, err := c.container(cmd.Context())
			if err != nil {
				return err
			}
			defer ctr.Close() //nolint:errcheck // process exits next

			history, err := ctr.Service.GetConsentAmendmentHistory(cmd.Context(), consentID)
			if err != nil {
				return err
			}
			views := historyViews(history)
			return c.print(views, func(w io.Writer) {
				for _, v := range views {
					fmt.Fprintf(w, "%s  %-22s %s status=%s mappings=%d active=%d\n",
						v.EffectiveAt.Format(time.RFC3339), v.Reason, v.HistoryID,
						v.Consent.Status, len(v.Consent.Mappings), v.Consent.activeMappings())
				}
			})
		},
	}
}

func (c *cli) auditCmd() *cobra.Command {
	var (
		consent string
		status  string
		actor   string
		limit   int
		offset  int
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Search consent status audit records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := models.StatusAuditFilter{
				Status:   models.ConsentStatus(status),
				ActionBy: id.UserID(actor),
				Limit:    limit,
				Offset:   offset,
			}
			if consent != "" {
				consentID, err := id.ParseConsentID(consent)
				if err != nil {
					return err
				}
				filter.ConsentID = consentID
			}
			ctr, err := c.container(cmd.Context())
			if err != nil {
				return err
			}
			defer ctr.Close() //nolint:errcheck // process exits next

			records, err := ctr.Service.SearchConsentStatusAuditRecords(cmd.Context(), filter)
			if err != nil {
				return err
			}
			views := auditViews(records)
			return c.print(views, func(w io.Writer) {
				for _, v := range views {
					fmt.Fprintf(w, "%s  %s %s -> %s by %s (%s)\n",
						v.ActionTime.Format(time.RFC3339), v.ConsentID, v.PreviousStatus, v.Status, v.ActionBy, v.Reason)
				}
			})
		},
	}
	cmd.Flags().StringVar(&consent, "consent", "", "consent ID")
	cmd.Flags().StringVar(&status, "status", "", "new status")
	cmd.Flags().StringVar(&actor, "actor", "", "acting user")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum records")
	cmd.Flags().IntVar(&offset, "offset", 0, "records to skip")
	return cmd
}
