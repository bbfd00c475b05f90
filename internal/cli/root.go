package cli

import (
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"
)

// RootOptions holds flags shared by every riftlogctl subcommand.
type RootOptions struct {
	ConfigFile string
	Driver     string
	DSN        string
	Format     string

	StreamsTable       string
	EventsTable        string
	StreamEventsTable  string
	SubscriptionsTable string
	ParkedTable        string
}

// NewRootCommand builds the riftlogctl root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "riftlogctl",
		Short: "Administrative tool for a riftlog event store",
		Long: `riftlogctl performs schema management and subscription inspection
against a riftlog-backed database. It is a separate administrative
operation from the library: applications never need to import it, and it
never participates in appends or delivery.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			fileCfg, err := LoadFileConfig(opts.ConfigFile)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load config", err)
			}

			opts.Driver, opts.DSN, opts.StreamsTable, opts.EventsTable, opts.StreamEventsTable,
				opts.SubscriptionsTable, opts.ParkedTable = fileCfg.applyDefaults(
				opts.Driver, opts.DSN, opts.StreamsTable, opts.EventsTable,
				opts.StreamEventsTable, opts.SubscriptionsTable, opts.ParkedTable)

			if opts.Driver == "" {
				opts.Driver = "postgres"
			}
			if opts.Format != "json" && opts.Format != "text" {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be json or text", opts.Format))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "path to a riftlog.yaml config file")
	cmd.PersistentFlags().StringVar(&opts.Driver, "driver", "", "database driver: postgres, mysql, or sqlite (default postgres)")
	cmd.PersistentFlags().StringVar(&opts.DSN, "dsn", "", "database connection string")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format: text or json")
	cmd.PersistentFlags().StringVar(&opts.StreamsTable, "streams-table", "", "name of the streams table")
	cmd.PersistentFlags().StringVar(&opts.EventsTable, "events-table", "", "name of the events table")
	cmd.PersistentFlags().StringVar(&opts.StreamEventsTable, "stream-events-table", "", "name of the stream_events table")
	cmd.PersistentFlags().StringVar(&opts.SubscriptionsTable, "subscriptions-table", "", "name of the subscriptions table")
	cmd.PersistentFlags().StringVar(&opts.ParkedTable, "parked-table", "", "name of the parked-events table")

	cmd.AddCommand(NewSchemaCommand(opts))
	cmd.AddCommand(NewSubscriptionCommand(opts))

	return cmd
}

// openDB opens a *sql.DB for opts.Driver/opts.DSN, validating the
// connection with a ping.
func openDB(opts *RootOptions) (*sql.DB, error) {
	if opts.DSN == "" {
		return nil, NewExitError(ExitCommandError, "--dsn is required (or set dsn in --config)")
	}

	driverName, err := sqlDriverName(opts.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, opts.DSN)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	if err := db.Ping(); err != nil {
		//nolint:errcheck // db.Ping already failed, closing is best-effort
		db.Close()
		return nil, WrapExitError(ExitCommandError, "failed to connect to database", err)
	}

	return db, nil
}

func sqlDriverName(driver string) (string, error) {
	switch driver {
	case "postgres", "":
		return "postgres", nil
	case "mysql":
		return "mysql", nil
	case "sqlite":
		return "sqlite3", nil
	default:
		return "", NewExitError(ExitCommandError, fmt.Sprintf("unsupported driver %q: must be postgres, mysql, or sqlite", driver))
	}
}
