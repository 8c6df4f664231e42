package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/overseer-ai/gatehouse/internal/workflow"
)

var phaseReason string

var phaseCmd = &cobra.Command{
	Use:   "phase",
	Short: "Show or advance the session workflow phase",
	Long: `The workflow phase gates which tool intents a session may perform.
Phases in order: init, research, planning, implement, review, complete.
Forward jumps past more than one phase need an allow-listed skip.`,
}

var phaseGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the session's current phase and history",
	Args:  cobra.NoArgs,
	RunE:  runPhaseGet,
}

var phaseSetCmd = &cobra.Command{
	Use:   "set <phase>",
	Short: "Advance the session to a phase",
	Args:  cobra.ExactArgs(1),
	RunE:  runPhaseSet,
}

func init() {
	rootCmd.AddCommand(phaseCmd)
	phaseCmd.AddCommand(phaseGetCmd)
	phaseCmd.AddCommand(phaseSetCmd)

	phaseSetCmd.Flags().StringVar(&phaseReason, "reason", "", "Reason recorded in the transition history")
}

func runPhaseGet(cmd *cobra.Command, _ []string) error {
	mgr, err := openCLIPhases()
	if err != nil {
		return err
	}
	st, err := mgr.Current(cmd.Context(), sessionID)
	if err != nil {
		return err
	}
	fmt.Println(st.Current)
	for _, t := range st.History {
		fmt.Printf("  %s  %s -> %s", t.At.Format("2006-01-02 15:04:05"), t.From, t.To)
		if t.Reason != "" {
			fmt.Printf("  (%s)", t.Reason)
		}
		fmt.Println()
	}
	return nil
}

func runPhaseSet(cmd *cobra.Command, args []string) error {
	target := workflow.Phase(args[0])
	if !workflow.Valid(target) {
		return fmt.Errorf("unknown phase %q, expected one of init, research, planning, implement, review, complete", args[0])
	}
	mgr, err := openCLIPhases()
	if err != nil {
		return err
	}
	st, err := mgr.Advance(cmd.Context(), sessionID, target, phaseReason)
	if err != nil {
		var te *workflow.TransitionError
		if errors.As(err, &te) {
			return fmt.Errorf("%s -> %s skips a phase and is not on the allow-list, move through %v or configure a skip",
				te.From, te.To, workflow.Between(te.From, te.To))
		}
		return err
	}
	fmt.Printf("session %s now in phase %s\n", sessionID, st.Current)
	return nil
}

// openCLIPhases builds a workflow manager over the local store.
func openCLIPhases() (*workflow.Manager, error) {
	cfg, err := loadCLIConfig()
	if err != nil {
		return nil, err
	}
	store, err := openLocalStore(cfg, quietLogger())
	if err != nil {
		return nil, err
	}
	return workflow.NewManager(store, cfg.Workflow.Skips, cfg.State.SessionTTL), nil
}
