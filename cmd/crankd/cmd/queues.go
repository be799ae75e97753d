package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xraph/crank/ledger/rpc"
	"github.com/xraph/crank/queue"
)

var queuesCmd = &cobra.Command{
	Use:   "queues",
	Short: "List queue accounts on a ledger",
	PreRun: func(cmd *cobra.Command, _ []string) {
		bindFlags(cmd.Flags(), map[string]string{
			"ledger.url":   "ledger-url",
			"ledger.token": "ledger-token",
		})
	},
	RunE: runQueues,
}

func init() {
	rootCmd.AddCommand(queuesCmd)

	queuesCmd.Flags().String("ledger-url", "ws://127.0.0.1:8899/rpc", "ledger RPC websocket URL")
	queuesCmd.Flags().String("ledger-token", "", "ledger RPC token")
}

type queueRow struct {
	Address   string `json:"address"`
	Authority string `json:"authority"`
	ID        string `json:"id"`
	Trigger   string `json:"trigger"`
	State     string `json:"state"`
	InChain   bool   `json:"in_chain"`
	RateLimit uint64 `json:"rate_limit"`
	Balance   uint64 `json:"balance"`
}

func runQueues(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	logger, err := newLogger()
	if err != nil {
		return err
	}

	client, err := rpc.Dial(ctx, viper.GetString("ledger.url"),
		rpc.WithClientToken(viper.GetString("ledger.token")),
		rpc.WithClientLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("dial ledger: %w", err)
	}
	defer client.Close()

	accounts, err := client.ProgramAccounts(ctx, queue.ProgramID)
	if err != nil {
		return fmt.Errorf("list queues: %w", err)
	}

	rows := make([]queueRow, 0, len(accounts))
	for _, ka := range accounts {
		q, err := queue.Decode(ka.Account)
		if err != nil {
			// Program-owned accounts that are not queues.
			continue
		}
		rows = append(rows, queueRow{
			Address:   ka.Address.String(),
			Authority: q.Authority.Short(),
			ID:        q.ID,
			Trigger:   q.Trigger.String(),
			State:     string(q.State),
			InChain:   q.InChain(),
			RateLimit: q.RateLimit,
			Balance:   ka.Account.Balance,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Authority != rows[j].Authority {
			return rows[i].Authority < rows[j].Authority
		}
		return rows[i].ID < rows[j].ID
	})

	if jsonOutput() {
		out, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal queues: %w", err)
		}
		fmt.Println(string(out))
		return nil
	}

	if len(rows) == 0 {
		fmt.Println("No queues")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Address", "Authority", "ID", "Trigger", "State", "In chain", "Rate limit", "Balance")
	for _, r := range rows {
		rate := "-"
		if r.RateLimit > 0 {
			rate = strconv.FormatUint(r.RateLimit, 10)
		}
		if err := table.Append(
			r.Address[:16],
			r.Authority,
			r.ID,
			r.Trigger,
			r.State,
			strconv.FormatBool(r.InChain),
			rate,
			strconv.FormatUint(r.Balance, 10),
		); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	fmt.Printf("\nTotal queues: %d\n", len(rows))
	return nil
}
