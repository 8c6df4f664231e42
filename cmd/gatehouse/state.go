package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/overseer-ai/gatehouse/internal/state"
)

var statePutTTL time.Duration

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and edit the local state store",
	Long: `Read, write and delete raw entries of the local state store.
Keys are dot-joined, for example "phase.default" or "flags.sess-42".`,
}

var stateGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the raw value stored under a key",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateGet,
}

var statePutCmd = &cobra.Command{
	Use:   "put <key> <value>",
	Short: "Store a raw value under a key",
	Args:  cobra.ExactArgs(2),
	RunE:  runStatePut,
}

var stateDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Delete a key",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateDelete,
}

func init() {
	rootCmd.AddCommand(stateCmd)
	stateCmd.AddCommand(stateGetCmd)
	stateCmd.AddCommand(statePutCmd)
	stateCmd.AddCommand(stateDeleteCmd)

	statePutCmd.Flags().DurationVar(&statePutTTL, "ttl", 0, "Expiry for the entry (0 = never)")
}

func runStateGet(cmd *cobra.Command, args []string) error {
	store, err := openCLIStore()
	if err != nil {
		return err
	}
	val, found, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("get %s: %w", args[0], err)
	}
	if !found {
		return fmt.Errorf("key not found: %s", args[0])
	}
	fmt.Println(string(val))
	return nil
}

func runStatePut(cmd *cobra.Command, args []string) error {
	store, err := openCLIStore()
	if err != nil {
		return err
	}
	if err := store.Put(cmd.Context(), args[0], []byte(args[1]), statePutTTL); err != nil {
		return fmt.Errorf("put %s: %w", args[0], err)
	}
	return nil
}

func runStateDelete(cmd *cobra.Command, args []string) error {
	store, err := openCLIStore()
	if err != nil {
		return err
	}
	if err := store.Delete(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("delete %s: %w", args[0], err)
	}
	return nil
}

// openCLIStore loads config and opens the local file store in one step for
// commands that need nothing else.
func openCLIStore() (state.Store, error) {
	cfg, err := loadCLIConfig()
	if err != nil {
		return nil, err
	}
	return openLocalStore(cfg, quietLogger())
}
