package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/iliyamo/bazar-buzzer/internal/config"
	"github.com/iliyamo/bazar-buzzer/internal/database"
	"github.com/iliyamo/bazar-buzzer/internal/notify"
)

type ctlConfig struct {
	driver     string
	sqlitePath string
	dbUser     string
	dbPass     string
	dbHost     string
	dbPort     string
	dbName     string

	redisAddr     string
	notifyChannel string
}

func (c *ctlConfig) validate() error {
	switch c.driver {
	case config.DriverSQLite:
		if c.sqlitePath == "" {
			return fmt.Errorf("--sqlite-path is required for driver %q", c.driver)
		}
	case config.DriverMySQL:
		if c.dbUser == "" || c.dbHost == "" || c.dbName == "" {
			return fmt.Errorf("--db-user, --db-host and --db-name are required for driver %q", c.driver)
		}
	default:
		return fmt.Errorf("invalid driver: %q", c.driver)
	}
	return nil
}

func (c *ctlConfig) open() (*sql.DB, database.Dialect, error) {
	if err := c.validate(); err != nil {
		return nil, "", err
	}
	return database.Connect(config.Config{
		DBDriver:   c.driver,
		SQLitePath: c.sqlitePath,
		DBUser:     c.dbUser,
		DBPass:     c.dbPass,
		DBHost:     c.dbHost,
		DBPort:     c.dbPort,
		DBName:     c.dbName,
	})
}

// bus returns a Redis change bus when --redis-addr is set so running
// servers refresh their leaderboards after a CLI reset or purge.
func (c *ctlConfig) bus(ctx context.Context) (notify.Bus, func(), error) {
	if c.redisAddr == "" {
		return nil, func() {}, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: c.redisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis ping %s: %w", c.redisAddr, err)
	}
	return notify.NewRedisBus(rdb, c.notifyChannel), func() { _ = rdb.Close() }, nil
}

func newRootCmd(cfg *ctlConfig) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("BUZZERCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "buzzerctl",
		Short:         "Maintenance commands for the buzzer database.",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       releaseVersion,
	}

	fs := cmd.PersistentFlags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVar(&cfg.driver, "driver", config.DriverSQLite, "storage driver: sqlite or mysql (env: BUZZERCTL_DRIVER)")
	fs.StringVar(&cfg.sqlitePath, "sqlite-path", "buzzer.db", "sqlite database file (env: BUZZERCTL_SQLITE_PATH)")
	fs.StringVar(&cfg.dbUser, "db-user", "", "mysql user (env: BUZZERCTL_DB_USER)")
	fs.StringVar(&cfg.dbPass, "db-pass", "", "mysql password (env: BUZZERCTL_DB_PASS)")
	fs.StringVar(&cfg.dbHost, "db-host", "localhost", "mysql host (env: BUZZERCTL_DB_HOST)")
	fs.StringVar(&cfg.dbPort, "db-port", "3306", "mysql port (env: BUZZERCTL_DB_PORT)")
	fs.StringVar(&cfg.dbName, "db-name", "", "mysql database (env: BUZZERCTL_DB_NAME)")
	fs.StringVar(&cfg.redisAddr, "redis-addr", "", "notify running servers through this redis (env: BUZZERCTL_REDIS_ADDR)")
	fs.StringVar(&cfg.notifyChannel, "notify-channel", notify.DefaultChannel, "redis change channel (env: BUZZERCTL_NOTIFY_CHANNEL)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.AddCommand(
		newMigrateCmd(cfg),
		newListCmd(cfg),
		newResetCmd(cfg),
		newPurgeCmd(cfg),
		newHashPasswordCmd(),
	)

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("buzzerctl v{{.Version}}\n")
	return cmd
}
