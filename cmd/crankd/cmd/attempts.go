package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xraph/crank/attempt"
	"github.com/xraph/crank/ledger"
)

var attemptsCmd = &cobra.Command{
	Use:   "attempts",
	Short: "Inspect recorded attempts",
	Long:  `Commands for listing and purging the attempt history a worker records.`,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		bindFlags(cmd.Flags(), map[string]string{
			"store.kind": "store",
			"store.dsn":  "store-dsn",
		})
	},
}

var attemptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent attempts, newest first",
	RunE:  runAttemptsList,
}

var attemptsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete attempts older than a retention period",
	RunE:  runAttemptsPurge,
}

func init() {
	rootCmd.AddCommand(attemptsCmd)
	attemptsCmd.AddCommand(attemptsListCmd)
	attemptsCmd.AddCommand(attemptsPurgeCmd)

	attemptsCmd.PersistentFlags().String("store", "postgres", "attempt store: postgres, bun, redis, pebble or mongo")
	attemptsCmd.PersistentFlags().String("store-dsn", "", "postgres connection string, redis or mongodb URL, or pebble directory")

	attemptsListCmd.Flags().Int("limit", 50, "maximum attempts to show")
	attemptsListCmd.Flags().Int("offset", 0, "attempts to skip")
	attemptsListCmd.Flags().String("queue", "", "only attempts of this queue address")
	attemptsListCmd.Flags().String("status", "", "only attempts with this status")

	attemptsPurgeCmd.Flags().Duration("older-than", 7*24*time.Hour, "retention period")
}

func runAttemptsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	logger, err := newLogger()
	if err != nil {
		return err
	}

	opts := attempt.ListOpts{}
	if opts.Limit, err = cmd.Flags().GetInt("limit"); err != nil {
		return err
	}
	if opts.Offset, err = cmd.Flags().GetInt("offset"); err != nil {
		return err
	}
	if q, _ := cmd.Flags().GetString("queue"); q != "" {
		if opts.Queue, err = ledger.ParseAddress(q); err != nil {
			return fmt.Errorf("queue: %w", err)
		}
	}
	if st, _ := cmd.Flags().GetString("status"); st != "" {
		opts.Status = attempt.Status(st)
	}

	store, err := openStore(ctx, viper.GetString("store.kind"), viper.GetString("store.dsn"), logger)
	if err != nil {
		return err
	}
	defer store.Close()

	list, err := store.ListAttempts(ctx, opts)
	if err != nil {
		return fmt.Errorf("list attempts: %w", err)
	}

	if jsonOutput() {
		out, err := json.MarshalIndent(list, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal attempts: %w", err)
		}
		fmt.Println(string(out))
		return nil
	}

	if len(list) == 0 {
		fmt.Println("No attempts")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Time", "Round", "Queue", "Status", "Steps", "Size", "Duration", "Error")
	for _, a := range list {
		if err := table.Append(
			a.CreatedAt.Local().Format(time.DateTime),
			a.Round.String(),
			a.Queue.Short(),
			string(a.Status),
			strconv.Itoa(a.Steps),
			strconv.Itoa(a.Size),
			a.Duration.Round(time.Millisecond).String(),
			a.Error,
		); err != nil {
			return err
		}
	}
	return table.Render()
}

func runAttemptsPurge(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	logger, err := newLogger()
	if err != nil {
		return err
	}
	olderThan, err := cmd.Flags().GetDuration("older-than")
	if err != nil {
		return err
	}

	store, err := openStore(ctx, viper.GetString("store.kind"), viper.GetString("store.dsn"), logger)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.PurgeAttempts(ctx, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return fmt.Errorf("purge attempts: %w", err)
	}
	fmt.Printf("Purged %d attempts\n", n)
	return nil
}
