package main

import (
	"bufio"
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/telephis/telephis/internal/baseline"
)

var baselineCmd = &cobra.Command{
	Use:   "baseline",
	Short: "Manage sender behavioral baselines",
}

// historyRow is one line of a message history export.
type historyRow struct {
	SenderID string    `json:"sender_id"`
	Text     string    `json:"text"`
	SentAt   time.Time `json:"sent_at"`
}

var baselineImportCmd = &cobra.Command{
	Use:   "import [history.jsonl]",
	Short: "Seed baselines from a message history export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrap(err, "baseline: open history")
		}
		defer f.Close()

		accs := map[string]*baseline.Accumulator{}
		lineNo := 0
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lineNo++
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var row historyRow
			if err := json.Unmarshal(line, &row); err != nil {
				return eris.Wrapf(err, "baseline: parse line %d", lineNo)
			}
			if row.SenderID == "" {
				continue
			}

			acc := accs[row.SenderID]
			if acc == nil {
				acc, err = env.Store.LoadBaseline(ctx, row.SenderID)
				if err != nil {
					return err
				}
				if acc == nil {
					acc = baseline.New(row.SenderID)
				}
				accs[row.SenderID] = acc
			}
			acc.Observe(row.Text, row.SentAt)
		}
		if err := scanner.Err(); err != nil {
			return eris.Wrap(err, "baseline: read history")
		}

		for _, acc := range accs {
			if err := env.Store.SaveBaseline(ctx, acc); err != nil {
				return err
			}
		}
		cmd.Printf("Imported %d messages across %d senders\n", lineNo, len(accs))
		return nil
	},
}

var baselineShowCmd = &cobra.Command{
	Use:   "show [sender-id]",
	Short: "Print a sender's baseline snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		acc, err := env.Store.LoadBaseline(ctx, args[0])
		if err != nil {
			return err
		}
		snapshot := acc.Snapshot()
		if snapshot == nil {
			return eris.Errorf("no baseline for sender %s", args[0])
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snapshot)
	},
}

func init() {
	baselineCmd.AddCommand(baselineImportCmd)
	baselineCmd.AddCommand(baselineShowCmd)
	rootCmd.AddCommand(baselineCmd)
}
