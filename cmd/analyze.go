package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/telephis/telephis/internal/baseline"
	"github.com/telephis/telephis/internal/model"
)

var (
	analyzeSenderID string
	analyzeUsername string
	analyzeChatID   string
	analyzeLearn    bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [message text]",
	Short: "Run one message through the detection pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		msg := model.Message{
			ID:       uuid.NewString(),
			ChatID:   analyzeChatID,
			SenderID: analyzeSenderID,
			Text:     args[0],
			SentAt:   time.Now(),
		}

		var sender *model.Sender
		if analyzeSenderID != "" {
			sender = &model.Sender{ID: analyzeSenderID, Username: analyzeUsername}
		}

		var snapshot *model.BaselineSnapshot
		var acc *baseline.Accumulator
		if analyzeSenderID != "" {
			acc, err = env.Store.LoadBaseline(ctx, analyzeSenderID)
			if err != nil {
				zap.L().Warn("baseline load failed", zap.Error(err))
			}
			snapshot = acc.Snapshot()
		}

		result := env.Pipeline.Analyze(ctx, msg, sender, snapshot)

		if err := env.Guard.Record(ctx, result.Stage, env.ModelName, result.Usage); err != nil {
			zap.L().Warn("usage accounting failed", zap.Error(err))
		}

		// Safe messages extend the sender's baseline.
		if analyzeLearn && analyzeSenderID != "" && result.Label == model.LabelSafe {
			if acc == nil {
				acc = baseline.New(analyzeSenderID)
			}
			acc.Observe(msg.Text, msg.SentAt)
			if err := env.Store.SaveBaseline(ctx, acc); err != nil {
				zap.L().Warn("baseline save failed", zap.Error(err))
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeSenderID, "sender", "", "sender ID for baseline lookup")
	analyzeCmd.Flags().StringVar(&analyzeUsername, "username", "", "sender username for prompts")
	analyzeCmd.Flags().StringVar(&analyzeChatID, "chat", "", "chat ID")
	analyzeCmd.Flags().BoolVar(&analyzeLearn, "learn", true, "fold safe messages into the sender baseline")
	rootCmd.AddCommand(analyzeCmd)
}
