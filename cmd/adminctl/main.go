// Command adminctl drives the bakery back-office API from the terminal.
//
// Credentials only survive between invocations when auth.store is "redis";
// with the in-memory store every command has to log in first (see --username).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/bakehouse/backoffice"
	"github.com/bakehouse/backoffice/common"
	"github.com/bakehouse/backoffice/common/model"
	"github.com/bakehouse/backoffice/modules/audit"
)

type app struct {
	stdout     io.Writer
	stderr     io.Writer
	configPath string
	username   string
	password   string
	bo         *backoffice.Backoffice
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{stdout: os.Stdout, stderr: os.Stderr}
	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "adminctl",
		Short:         "Bakery back-office administration client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := common.LoadConfig(a.configPath)
			if err != nil {
				return err
			}
			bo, err := backoffice.New(cmd.Context(), cfg,
				backoffice.WithNotifier(common.NotifierFunc(func(level zapcore.Level, message string) {
					fmt.Fprintf(a.stderr, "[%s] %s\n", strings.ToUpper(level.String()), message)
				})),
				backoffice.WithNavigator(common.NavigatorFunc(func(context.Context) {
					fmt.Fprintln(a.stderr, "session expired, please log in again")
				})),
			)
			if err != nil {
				return err
			}
			a.bo = bo
			if a.username != "" && cmd.Name() != "login" {
				return a.login(cmd.Context())
			}
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if a.bo == nil {
				return nil
			}
			return a.bo.Close()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to a config file")
	root.PersistentFlags().StringVarP(&a.username, "username", "u", "", "log in as this user before running the command")
	root.PersistentFlags().StringVarP(&a.password, "password", "p", os.Getenv("BACKOFFICE_PASSWORD"), "password for --username")

	root.AddCommand(newLoginCmd(a))
	root.AddCommand(newLogoutCmd(a))
	root.AddCommand(newWhoamiCmd(a))
	root.AddCommand(newCustomersCmd(a))
	root.AddCommand(newAuditCmd(a))
	root.AddCommand(newLogsCmd(a))
	return root
}

func (a *app) login(ctx context.Context) error {
	if a.username == "" {
		return fmt.Errorf("--username is required")
	}
	user, err := a.bo.Auth.Login(ctx, a.username, a.password)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stderr, "logged in as %s\n", user.Username)
	return nil
}

func newLoginCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.login(cmd.Context())
		},
	}
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and forget the stored credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.bo.Auth.Logout(cmd.Context())
		},
	}
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current user and session expiry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			session, err := a.bo.Auth.Session(cmd.Context())
			if err != nil {
				return err
			}
			user, err := a.bo.Auth.Me(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "%s (%s)\n", user.Username, strings.Join(user.Roles, ", "))
			if !session.ExpiresAt.IsZero() {
				fmt.Fprintf(a.stdout, "session expires %s\n", session.ExpiresAt.Local().Format(time.RFC1123))
			}
			return nil
		},
	}
}

func newCustomersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "customers",
		Aliases: []string{"customer", "cu"},
		Short:   "List and inspect customers",
	}

	var filter model.CustomerFilter
	var activeOnly bool
	list := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List customers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if activeOnly {
				active := true
				filter.Active = &active
			}
			page, err := a.bo.Customers.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "%-36s  %-30s  %-30s  %12s\n", "ID", "NAME", "EMAIL", "AVAILABLE")
			for _, c := range page.Items {
				fmt.Fprintf(a.stdout, "%-36s  %-30s  %-30s  %12s\n",
					c.ID, truncate(c.Name, 30), truncate(c.Email, 30), c.AvailableCredit().StringFixed(2))
			}
			fmt.Fprintf(a.stdout, "page %d, %d of %d customers\n", page.Page, len(page.Items), page.Total)
			return nil
		},
	}
	list.Flags().StringVarP(&filter.Search, "search", "s", "", "filter by name or email")
	list.Flags().BoolVar(&activeOnly, "active", false, "only active customers")
	list.Flags().IntVar(&filter.Page, "page", 1, "page number")
	list.Flags().IntVar(&filter.PageSize, "page-size", 20, "customers per page")

	get := &cobra.Command{
		Use:   "get ID",
		Short: "Show one customer as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid customer id %q: %w", args[0], err)
			}
			c, err := a.bo.Customers.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			return a.printJSON(c)
		},
	}

	cmd.AddCommand(list, get)
	return cmd
}

func newAuditCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Browse and export the audit log",
	}

	var filter model.AuditFilter
	var since time.Duration
	addFilterFlags := func(c *cobra.Command) {
		c.Flags().StringVar(&filter.Action, "action", "", "only entries with this action")
		c.Flags().StringVar(&filter.Resource, "resource", "", "only entries for this resource")
		c.Flags().DurationVar(&since, "since", 0, "only entries newer than this, e.g. 24h")
	}
	applySince := func() {
		if since > 0 {
			filter.From = time.Now().Add(-since)
		}
	}

	list := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List audit entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			applySince()
			page, err := a.bo.Audit.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			for _, e := range page.Items {
				fmt.Fprintf(a.stdout, "%s  %-16s  %-12s  %-16s  %s\n",
					e.CreatedAt.Local().Format(time.DateTime), truncate(e.Username, 16), e.Action, e.Resource, e.ResourceID)
			}
			return nil
		},
	}
	addFilterFlags(list)
	list.Flags().IntVar(&filter.Page, "page", 1, "page number")
	list.Flags().IntVar(&filter.PageSize, "page-size", 50, "entries per page")

	var format, output string
	export := &cobra.Command{
		Use:   "export",
		Short: "Export audit entries as CSV or XLSX",
		RunE: func(cmd *cobra.Command, _ []string) error {
			applySince()
			data, err := a.bo.Audit.Export(cmd.Context(), filter, format)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = a.stdout.Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("failed to write export: %w", err)
			}
			fmt.Fprintf(a.stderr, "wrote %d bytes to %s\n", len(data), output)
			return nil
		},
	}
	addFilterFlags(export)
	export.Flags().StringVarP(&format, "format", "f", audit.FormatCSV, "export format (csv|xlsx)")
	export.Flags().StringVarP(&output, "output", "o", "", "output file, stdout when empty")

	cmd.AddCommand(list, export)
	return cmd
}

// logs prints what the in-process log sink captured while running a
// subcommand; useful together with --username on a single invocation.
func newLogsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logs",
		Short: "Print the captured log entries of this run",
		RunE: func(*cobra.Command, []string) error {
			for _, e := range a.bo.Logs.Entries() {
				line := fmt.Sprintf("%s %-5s %s", e.TimestampISO(), strings.ToUpper(e.Level.String()), e.Message)
				if e.Error != nil {
					line += ": " + e.Error.Error()
				}
				fmt.Fprintln(a.stdout, line)
			}
			return nil
		},
	}
}

func (a *app) printJSON(v interface{}) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
