package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/overseer-ai/gatehouse/internal/config"
	"github.com/overseer-ai/gatehouse/internal/engine"
	"github.com/overseer-ai/gatehouse/internal/state"
)

var (
	flagRaiseType string
	flagRaiseTask string
)

var flagsCmd = &cobra.Command{
	Use:   "flags",
	Short: "List, raise and resolve session flags",
	Long: `Flags are session-wide conditions a worker or operator raises.
An active BLOCKER flag blocks every mutating tool call until resolved;
WARNING flags demote verdicts to WARN once they pile up.`,
}

var flagsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the session's flags",
	Args:  cobra.NoArgs,
	RunE:  runFlagsList,
}

var flagsRaiseCmd = &cobra.Command{
	Use:   "raise <message>",
	Short: "Raise a flag on the session",
	Args:  cobra.ExactArgs(1),
	RunE:  runFlagsRaise,
}

var flagsResolveCmd = &cobra.Command{
	Use:   "resolve <flag-id>",
	Short: "Resolve an active flag",
	Args:  cobra.ExactArgs(1),
	RunE:  runFlagsResolve,
}

func init() {
	rootCmd.AddCommand(flagsCmd)
	flagsCmd.AddCommand(flagsListCmd)
	flagsCmd.AddCommand(flagsRaiseCmd)
	flagsCmd.AddCommand(flagsResolveCmd)

	flagsRaiseCmd.Flags().StringVar(&flagRaiseType, "type", string(engine.FlagWarning), "Flag type: BLOCKER, WARNING or INFO")
	flagsRaiseCmd.Flags().StringVar(&flagRaiseTask, "task", "", "Task ID the flag belongs to")
}

func runFlagsList(cmd *cobra.Command, _ []string) error {
	store, err := openCLIStore()
	if err != nil {
		return err
	}
	var board engine.FlagBoard
	if _, err := state.GetJSON(cmd.Context(), store, engine.FlagsKey(sessionID), &board); err != nil {
		return err
	}
	if len(board.Flags) == 0 && len(board.Checklist) == 0 {
		fmt.Println("no flags")
		return nil
	}
	for _, f := range board.Flags {
		fmt.Printf("%s  %-8s %-8s %s\n", f.ID, f.Type, f.Status, f.Message)
	}
	for _, item := range board.Checklist {
		mark := " "
		if item.Verified {
			mark = "x"
		}
		fmt.Printf("%s  [%s] %-8s %s\n", item.ID, mark, item.Priority, item.Description)
	}
	return nil
}

func runFlagsRaise(cmd *cobra.Command, args []string) error {
	flagType := engine.FlagType(flagRaiseType)
	switch flagType {
	case engine.FlagBlocker, engine.FlagWarning, engine.FlagInfo:
	default:
		return fmt.Errorf("type must be BLOCKER, WARNING or INFO, got %q", flagRaiseType)
	}

	cfg, err := loadCLIConfig()
	if err != nil {
		return err
	}
	store, err := openLocalStore(cfg, quietLogger())
	if err != nil {
		return err
	}

	flag := engine.Flag{
		ID:       uuid.New().String(),
		Type:     flagType,
		TaskID:   flagRaiseTask,
		Message:  args[0],
		Status:   engine.FlagActive,
		RaisedAt: time.Now().UTC(),
	}
	err = updateLocalBoard(cmd.Context(), store, cfg, func(board *engine.FlagBoard) error {
		board.Flags = append(board.Flags, flag)
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Println(flag.ID)
	return nil
}

func runFlagsResolve(cmd *cobra.Command, args []string) error {
	cfg, err := loadCLIConfig()
	if err != nil {
		return err
	}
	store, err := openLocalStore(cfg, quietLogger())
	if err != nil {
		return err
	}

	err = updateLocalBoard(cmd.Context(), store, cfg, func(board *engine.FlagBoard) error {
		for i := range board.Flags {
			if board.Flags[i].ID == args[0] {
				now := time.Now().UTC()
				board.Flags[i].Status = engine.FlagResolved
				board.Flags[i].ResolvedAt = &now
				return nil
			}
		}
		return fmt.Errorf("no flag with ID %s", args[0])
	})
	if err != nil {
		return err
	}
	fmt.Printf("resolved %s\n", args[0])
	return nil
}

// updateLocalBoard applies mutate to the session's flag board inside the
// store's compare-and-swap.
func updateLocalBoard(ctx context.Context, store state.Store, cfg *config.Config, mutate func(*engine.FlagBoard) error) error {
	_, err := store.Update(ctx, engine.FlagsKey(sessionID), cfg.State.SessionTTL, func(current []byte, found bool) ([]byte, error) {
		var board engine.FlagBoard
		if found {
			if err := json.Unmarshal(current, &board); err != nil {
				board = engine.FlagBoard{}
			}
		}
		if err := mutate(&board); err != nil {
			return nil, err
		}
		return json.Marshal(&board)
	})
	return err
}
