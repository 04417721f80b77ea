package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/bazar-buzzer/internal/database"
	"github.com/iliyamo/bazar-buzzer/internal/repository"
	"github.com/iliyamo/bazar-buzzer/internal/service"
	"github.com/iliyamo/bazar-buzzer/internal/utils"
)

var errNotConfirmed = errors.New("refusing to run without --yes")

func newMigrateCmd(cfg *ctlConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, dialect, err := cfg.open()
			if err != nil {
				return err
			}
			defer db.Close()
			if err := database.Migrate(cmd.Context(), db, dialect); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", dialect)
			return nil
		},
	}
}

func newListCmd(cfg *ctlConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print every participant with lease and press state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, _, err := cfg.open()
			if err != nil {
				return err
			}
			defer db.Close()

			list, err := repository.NewParticipantRepo(db).List(cmd.Context())
			if err != nil {
				return err
			}
			now := time.Now().UTC()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tLEASE\tPRESSED_AT\tPRESSES")
			for _, p := range list {
				lease := "free"
				if p.LeaseLive(now) {
					lease = "until " + p.LeaseExpiry.Format(time.RFC3339)
				}
				pressed := "-"
				if p.PressedAt != nil {
					pressed = p.PressedAt.Format(time.RFC3339Nano)
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\n", p.ID, p.Name, lease, pressed, p.PressCount)
			}
			return w.Flush()
		},
	}
}

func newResetCmd(cfg *ctlConfig) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear every press; names and leases are kept",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errNotConfirmed
			}
			admin, closeFn, err := cfg.admin(cmd)
			if err != nil {
				return err
			}
			defer closeFn()
			n, err := admin.ResetPresses(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %d participants\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}

func newPurgeCmd(cfg *ctlConfig) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every participant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errNotConfirmed
			}
			admin, closeFn, err := cfg.admin(cmd)
			if err != nil {
				return err
			}
			defer closeFn()
			n, err := admin.PurgeAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d participants\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the purge")
	return cmd
}

// admin builds a service.Admin over the configured database, publishing to
// Redis when --redis-addr is set.
func (c *ctlConfig) admin(cmd *cobra.Command) (*service.Admin, func(), error) {
	db, _, err := c.open()
	if err != nil {
		return nil, nil, err
	}
	bus, closeBus, err := c.bus(cmd.Context())
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	admin := service.NewAdmin(repository.NewParticipantRepo(db), bus, nil, nil, service.Options{})
	return admin, func() {
		closeBus()
		_ = db.Close()
	}, nil
}

func newHashPasswordCmd() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for ADMIN_PASSWORD_HASH (reads stdin without an argument)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var plain string
			if len(args) == 1 {
				plain = args[0]
			} else {
				line, err := readLine(cmd.InOrStdin())
				if err != nil {
					return err
				}
				plain = line
			}
			if plain == "" {
				return errors.New("empty password")
			}
			hash, err := utils.HashPassword(plain, cost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", utils.DefaultBcryptCost, "bcrypt cost")
	return cmd
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
