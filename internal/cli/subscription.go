package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/riftlog/riftlog/es/adapters/mysql"
	"github.com/riftlog/riftlog/es/adapters/postgres"
	"github.com/riftlog/riftlog/es/adapters/sqlite"
	"github.com/riftlog/riftlog/es/store"
)

// NewSubscriptionCommand builds the `subscription` command group: list,
// park ls, park replay.
func NewSubscriptionCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscription",
		Short: "Inspect and manage durable subscriptions",
	}

	cmd.AddCommand(newSubscriptionListCommand(rootOpts))
	cmd.AddCommand(newParkCommand(rootOpts))

	return cmd
}

type subscriptionRow struct {
	StreamUUID string `json:"stream_uuid"`
	Name       string `json:"name"`
	LastSeen   int64  `json:"last_seen"`
	State      string `json:"state"`
}

func newSubscriptionListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every durable subscription and its checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(rootOpts)
			if err != nil {
				return err
			}
			defer db.Close()

			table := valueOr(rootOpts.SubscriptionsTable, "subscriptions")
			//nolint:gosec // table name comes from operator-controlled flags/config, not request input
			rows, err := db.QueryContext(cmd.Context(), fmt.Sprintf(
				"SELECT stream_uuid, name, last_seen, state FROM %s ORDER BY stream_uuid, name", table))
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to query subscriptions", err)
			}
			defer rows.Close()

			var subs []subscriptionRow
			for rows.Next() {
				var r subscriptionRow
				if err := rows.Scan(&r.StreamUUID, &r.Name, &r.LastSeen, &r.State); err != nil {
					return WrapExitError(ExitCommandError, "failed to scan subscription row", err)
				}
				subs = append(subs, r)
			}
			if err := rows.Err(); err != nil {
				return WrapExitError(ExitCommandError, "failed to read subscriptions", err)
			}

			return WriteResult(cmd.OutOrStdout(), rootOpts.Format, subs, func(w io.Writer, data interface{}) {
				for _, s := range data.([]subscriptionRow) {
					fmt.Fprintf(w, "%-30s %-20s last_seen=%-10d state=%s\n", s.StreamUUID, s.Name, s.LastSeen, s.State)
				}
				if len(data.([]subscriptionRow)) == 0 {
					fmt.Fprintln(w, "no subscriptions found")
				}
			})
		},
	}
}

func newParkCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "park",
		Short: "Inspect and replay parked events",
	}
	cmd.AddCommand(newParkLsCommand(rootOpts))
	cmd.AddCommand(newParkReplayCommand(rootOpts))
	return cmd
}

// checkpointer returns the store.Checkpointer for rootOpts.Driver, with
// table names from rootOpts applied. It is never used to run Append/Read -
// only GetCheckpoint/UpsertCheckpoint/Park/ListParked/ClearParked, which
// take the *sql.DB explicitly, so a nil-db Store is enough.
func checkpointer(rootOpts *RootOptions) (store.Checkpointer, error) {
	subscriptionsTable := valueOr(rootOpts.SubscriptionsTable, "subscriptions")
	parkedTable := valueOr(rootOpts.ParkedTable, "subscription_parked")

	switch rootOpts.Driver {
	case "mysql":
		cfg := mysql.DefaultConfig()
		cfg.SubscriptionsTable = subscriptionsTable
		cfg.ParkedTable = parkedTable
		return mysql.NewStore(nil, cfg), nil
	case "sqlite":
		cfg := sqlite.DefaultConfig()
		cfg.SubscriptionsTable = subscriptionsTable
		cfg.ParkedTable = parkedTable
		return sqlite.NewStore(nil, cfg), nil
	default:
		cfg := postgres.DefaultConfig()
		cfg.SubscriptionsTable = subscriptionsTable
		cfg.ParkedTable = parkedTable
		return postgres.NewStore(nil, cfg), nil
	}
}

func newParkLsCommand(rootOpts *RootOptions) *cobra.Command {
	var stream, name string

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List parked events for a subscription",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(rootOpts)
			if err != nil {
				return err
			}
			defer db.Close()

			cp, err := checkpointer(rootOpts)
			if err != nil {
				return err
			}

			parked, err := cp.ListParked(cmd.Context(), db, stream, name)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list parked events", err)
			}

			return WriteResult(cmd.OutOrStdout(), rootOpts.Format, parked, func(w io.Writer, data interface{}) {
				items := data.([]store.ParkedEvent)
				for _, p := range items {
					fmt.Fprintf(w, "position=%-10d reason=%s\n", p.Position, p.Reason)
				}
				if len(items) == 0 {
					fmt.Fprintln(w, "no parked events")
				}
			})
		},
	}

	cmd.Flags().StringVar(&stream, "stream", "", "stream identifier (required)")
	cmd.Flags().StringVar(&name, "name", "", "subscription name (required)")
	_ = cmd.MarkFlagRequired("stream")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func newParkReplayCommand(rootOpts *RootOptions) *cobra.Command {
	var stream, name string
	var position int64

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Clear a parked event and rewind the checkpoint so it redelivers",
		Long: `replay clears the parked record for a position and rewinds the
subscription's checkpoint to position-1, so the next run of the
subscription redelivers starting at the parked event. It does not itself
redeliver anything: run the consuming process afterward.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(rootOpts)
			if err != nil {
				return err
			}
			defer db.Close()

			cp, err := checkpointer(rootOpts)
			if err != nil {
				return err
			}

			ctx := cmd.Context()

			current, _, err := cp.GetCheckpoint(ctx, db, stream, name)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read checkpoint", err)
			}
			if position > current {
				return NewExitError(ExitCommandError, fmt.Sprintf("position %d is ahead of current checkpoint %d", position, current))
			}

			if err := cp.ClearParked(ctx, db, stream, name, position); err != nil {
				return WrapExitError(ExitCommandError, "failed to clear parked record", err)
			}

			if err := cp.UpsertCheckpoint(ctx, db, stream, name, position-1, "catching_up"); err != nil {
				return WrapExitError(ExitCommandError, "failed to rewind checkpoint", err)
			}

			return WriteResult(cmd.OutOrStdout(), rootOpts.Format, map[string]int64{"rewound_to": position - 1}, func(w io.Writer, data interface{}) {
				fmt.Fprintf(w, "cleared parked position %d, checkpoint rewound to %d\n", position, data.(map[string]int64)["rewound_to"])
			})
		},
	}

	cmd.Flags().StringVar(&stream, "stream", "", "stream identifier (required)")
	cmd.Flags().StringVar(&name, "name", "", "subscription name (required)")
	cmd.Flags().Int64Var(&position, "position", 0, "parked position to replay (required)")
	_ = cmd.MarkFlagRequired("stream")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("position")

	return cmd
}
