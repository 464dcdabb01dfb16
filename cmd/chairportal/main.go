package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/chair-portal/internal/application"
	"github.com/example/chair-portal/internal/config"
	"github.com/example/chair-portal/internal/ical"
	"github.com/example/chair-portal/internal/logging"
	"github.com/example/chair-portal/internal/scheduler"
)

// cliAdmin is the principal used by administrative commands run on the host.
var cliAdmin = application.Principal{UserID: "cli", IsAdmin: true}

type cli struct {
	envFile string
	cfg     config.Config
	logger  *slog.Logger
	stdout  io.Writer
	stdin   io.Reader
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(&cli{stdout: os.Stdout, stdin: os.Stdin})
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "chairportal",
		Short:         "Chairperson signup portal for recurring volunteer meetings",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.LoadDotEnv(c.envFile); err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			c.cfg = cfg
			c.logger = logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "dotenv file read before the environment")

	root.AddCommand(
		newServeCommand(c),
		newRemindCommand(c),
		newImportCommand(c),
		newMigrateCommand(c),
		newCreateAdminCommand(c),
	)
	return root
}

// withPortal opens the store, builds the services and closes the store when fn returns.
func (c *cli) withPortal(ctx context.Context, fn func(*portal) error) error {
	store, err := openStore(ctx, c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			c.logger.Error("failed to close storage", "error", cerr)
		}
	}()

	sender, err := newSender(c.cfg, c.logger)
	if err != nil {
		return fmt.Errorf("configure mail: %w", err)
	}
	return fn(newPortal(c.cfg, store, sender, time.Now, c.logger))
}

func newServeCommand(c *cli) *cobra.Command {
	var withCron bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withPortal(cmd.Context(), func(p *portal) error {
				return c.serve(cmd.Context(), p, withCron)
			})
		},
	}
	cmd.Flags().BoolVar(&withCron, "cron", true, "run the reminder scan in-process on CRON_SPEC")
	return cmd
}

func (c *cli) serve(ctx context.Context, p *portal, withCron bool) error {
	if withCron && c.cfg.CronSpec != "" {
		runner := scheduler.NewRunner(c.cfg.Location, c.cfg.JobTimeout, c.logger)
		if _, err := runner.Schedule(c.cfg.CronSpec, "reminder-scan", func(ctx context.Context) error {
			_, err := p.reminders.RunScan(ctx)
			return err
		}); err != nil {
			return err
		}
		runner.Start()
		defer runner.Stop()
	}

	server := &http.Server{
		Addr:              c.cfg.HTTPAddr,
		Handler:           p.handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("failed to shutdown server", "error", err)
		}
	}()

	c.logger.Info("chair portal listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}
	return nil
}

func newRemindCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "remind",
		Short: "Run one reminder, confirmation and digest scan",
		Long:  "Run one reminder, confirmation and digest scan. Safe to schedule from an external cron; each notification is sent at most once.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withPortal(cmd.Context(), func(p *portal) error {
				report, err := p.reminders.RunScan(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(c.stdout, "reminders sent=%d failed=%d\n", report.RemindersSent, report.RemindersFailed)
				fmt.Fprintf(c.stdout, "confirmations sent=%d failed=%d\n", report.ConfirmationsSent, report.ConfirmationsFailed)
				if report.DigestPeriod != "" {
					fmt.Fprintf(c.stdout, "digest %s sent=%d failed=%d\n", report.DigestPeriod, report.DigestsSent, report.DigestsFailed)
				}
				return nil
			})
		},
	}
}

func newImportCommand(c *cli) *cobra.Command {
	var replace bool
	cmd := &cobra.Command{
		Use:   "import <file.ics|->",
		Short: "Import meetings from an iCalendar file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var input io.Reader = c.stdin
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open %s: %w", args[0], err)
				}
				defer f.Close()
				input = f
			}

			decoded, err := ical.Decode(input, c.cfg.Location)
			if err != nil {
				return err
			}
			return c.withPortal(cmd.Context(), func(p *portal) error {
				report, err := p.calendar.ImportMeetings(cmd.Context(), application.ImportMeetingsParams{
					Principal: cliAdmin,
					Meetings:  decoded.Meetings,
					Replace:   replace,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(c.stdout, "created=%d existing=%d removed=%d skipped=%d\n",
					report.Created, report.Existing, report.Removed, report.Skipped+len(decoded.Skipped))
				for _, s := range decoded.Skipped {
					fmt.Fprintf(c.stdout, "skipped %s: %s\n", s.UID, s.Reason)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "remove future imported meetings absent from the file unless they have a chair")
	return cmd
}

func newMigrateCommand(c *cli) *cobra.Command {
	var status bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if !status {
				store, err := openStore(ctx, c.cfg, c.logger)
				if err != nil {
					return err
				}
				return store.Close()
			}
			store, err := openStoreNoMigrate(c.cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			st, err := store.MigrationStatus(ctx, c.logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "current version: %s\n", st.CurrentVersion)
			fmt.Fprintf(c.stdout, "applied: %d pending: %d\n", len(st.AppliedMigrations), st.PendingCount)
			for _, m := range st.PendingMigrations {
				fmt.Fprintf(c.stdout, "  pending %s %s\n", m.Version, m.Description)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "report migration state without applying anything")
	return cmd
}

func newCreateAdminCommand(c *cli) *cobra.Command {
	var params application.RegisterParams
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an administrator account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if params.Password == "" {
				params.Password = os.Getenv("CHAIRPORTAL_ADMIN_PASSWORD")
			}
			return c.withPortal(cmd.Context(), func(p *portal) error {
				user, err := p.users.CreateAdmin(cmd.Context(), params)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.stdout, "created administrator %s (%s)\n", user.Email, application.FormatBPID(user.MemberNumber))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&params.Email, "email", "", "administrator email")
	cmd.Flags().StringVar(&params.DisplayName, "name", "", "display name")
	cmd.Flags().StringVar(&params.Password, "password", "", "password (defaults to CHAIRPORTAL_ADMIN_PASSWORD)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
