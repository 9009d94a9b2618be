package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/telephis/telephis/internal/model"
	"github.com/telephis/telephis/internal/urlcheck"
)

// evalCase is one labelled row of an evaluation dataset.
type evalCase struct {
	Text     string     `json:"text"`
	Expected string     `json:"expected"`
	SenderID string     `json:"sender_id"`
	ChatID   string     `json:"chat_id"`
	SentAt   *time.Time `json:"sent_at"`
}

var evalStage string

var evalCmd = &cobra.Command{
	Use:   "eval [dataset.jsonl]",
	Short: "Evaluate the pipeline against a labelled JSONL dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		switch evalStage {
		case "mad", "":
		case string(model.StageTriage), string(model.StageSingleShot):
			env.Pipeline.CapStage(model.Stage(evalStage))
		default:
			return eris.Errorf("eval: unknown stage %q", evalStage)
		}

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrap(err, "eval: open dataset")
		}
		defer f.Close()

		var (
			total     int
			correct   int
			confusion = map[string]map[string]int{}
			byStage   = map[model.Stage]int{}
			usage     model.TokenUsage
		)

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var c evalCase
			if err := json.Unmarshal(line, &c); err != nil {
				return eris.Wrapf(err, "eval: parse line %d", total+1)
			}

			sentAt := time.Now()
			if c.SentAt != nil {
				sentAt = *c.SentAt
			}
			msg := model.Message{
				ID:       uuid.NewString(),
				ChatID:   c.ChatID,
				SenderID: c.SenderID,
				Text:     c.Text,
				SentAt:   sentAt,
			}

			var sender *model.Sender
			var snapshot *model.BaselineSnapshot
			if c.SenderID != "" {
				sender = &model.Sender{ID: c.SenderID}
				acc, err := env.Store.LoadBaseline(ctx, c.SenderID)
				if err != nil {
					zap.L().Warn("baseline load failed", zap.Error(err))
				}
				snapshot = acc.Snapshot()
			}

			// Checks run before the pipeline so a capped run still sees
			// the same URL evidence a full run would.
			var checks map[string]model.URLCheckResult
			if urls := urlcheck.ExtractURLs(c.Text); len(urls) > 0 {
				checks = env.Checker.CheckAll(ctx, urls)
			}

			result := env.Pipeline.AnalyzeWithChecks(ctx, msg, sender, snapshot, checks)

			if err := env.Guard.Record(ctx, result.Stage, env.ModelName, result.Usage); err != nil {
				zap.L().Warn("usage accounting failed", zap.Error(err))
			}

			total++
			byStage[result.Stage]++
			usage.Add(result.Usage)

			expected := model.Label(c.Expected)
			if confusion[string(expected)] == nil {
				confusion[string(expected)] = map[string]int{}
			}
			confusion[string(expected)][string(result.Label)]++
			if result.Label == expected {
				correct++
			}
		}
		if err := scanner.Err(); err != nil {
			return eris.Wrap(err, "eval: read dataset")
		}
		if total == 0 {
			return eris.New("eval: dataset is empty")
		}

		fmt.Printf("Cases:    %d\n", total)
		fmt.Printf("Correct:  %d (%.1f%%)\n", correct, 100*float64(correct)/float64(total))
		fmt.Printf("Tokens:   %d in / %d out\n", usage.Input, usage.Output)
		fmt.Println()
		fmt.Println("Finalized by stage:")
		for _, stage := range []model.Stage{model.StageTriage, model.StageSingleShot, model.StageMAD} {
			if n := byStage[stage]; n > 0 {
				fmt.Printf("  %-12s %d\n", stage, n)
			}
		}
		fmt.Println()
		fmt.Println("Confusion (expected -> got):")
		for expected, got := range confusion {
			for label, n := range got {
				fmt.Printf("  %-12s -> %-12s %d\n", expected, label, n)
			}
		}
		return nil
	},
}

func init() {
	evalCmd.Flags().StringVar(&evalStage, "stage", "mad", "cap escalation at a stage (triage, single_shot, mad)")
	rootCmd.AddCommand(evalCmd)
}
