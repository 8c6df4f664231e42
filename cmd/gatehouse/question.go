package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/overseer-ai/gatehouse/internal/engine"
	"github.com/overseer-ai/gatehouse/internal/state"
)

var questionType string

var questionCmd = &cobra.Command{
	Use:   "question",
	Short: "Ask or answer the session's pending question",
	Long: `A pending question locks the session: every tool call except the
answer tools is blocked until the question is answered. One question may
be pending per session at a time.`,
}

var questionAskCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Raise a pending question, locking the session",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuestionAsk,
}

var questionAnswerCmd = &cobra.Command{
	Use:   "answer",
	Short: "Clear the pending question, unlocking the session",
	Args:  cobra.NoArgs,
	RunE:  runQuestionAnswer,
}

func init() {
	rootCmd.AddCommand(questionCmd)
	questionCmd.AddCommand(questionAskCmd)
	questionCmd.AddCommand(questionAnswerCmd)

	questionAskCmd.Flags().StringVar(&questionType, "type", "", "Question type, free-form")
}

func runQuestionAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadCLIConfig()
	if err != nil {
		return err
	}
	store, err := openLocalStore(cfg, quietLogger())
	if err != nil {
		return err
	}

	key := engine.QuestionKey(sessionID)
	var existing engine.PendingQuestion
	found, err := state.GetJSON(cmd.Context(), store, key, &existing)
	if err != nil {
		return err
	}
	if found {
		return fmt.Errorf("a question is already pending: %s", existing.Question)
	}

	q := engine.PendingQuestion{
		Type:     questionType,
		Question: args[0],
		AskedAt:  time.Now().UTC(),
	}
	if err := state.PutJSON(cmd.Context(), store, key, q, cfg.State.SessionTTL); err != nil {
		return err
	}
	fmt.Printf("session %s locked until answered\n", sessionID)
	return nil
}

func runQuestionAnswer(cmd *cobra.Command, _ []string) error {
	store, err := openCLIStore()
	if err != nil {
		return err
	}

	key := engine.QuestionKey(sessionID)
	var q engine.PendingQuestion
	found, err := state.GetJSON(cmd.Context(), store, key, &q)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no pending question for session %s", sessionID)
	}
	if err := store.Delete(cmd.Context(), key); err != nil {
		return err
	}
	fmt.Printf("answered: %s\n", q.Question)
	return nil
}
