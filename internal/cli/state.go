package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/strata-io/strata/internal/ir"
	"github.com/strata-io/strata/internal/state"
)

var (
	statePushForce         bool
	statePushIgnoreVersion bool
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Manage Strata state",
	Long:  `Commands for inspecting and modifying Strata state.`,
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List resources in state",
	RunE:  runStateList,
}

var stateShowCmd = &cobra.Command{
	Use:   "show <address>",
	Short: "Show attributes of a single resource",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateShow,
}

var stateMvCmd = &cobra.Command{
	Use:   "mv <source> <destination>",
	Short: "Move a resource to a new address",
	Args:  cobra.ExactArgs(2),
	RunE:  runStateMv,
}

var stateRmCmd = &cobra.Command{
	Use:   "rm <address>",
	Short: "Remove a resource from state (does not destroy)",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateRm,
}

var statePushCmd = &cobra.Command{
	Use:   "push PATH",
	Short: "Upload a local state file to the configured backend",
	Long: `Reads a state file and overwrites the destination state with it.

PATH may be "-" to read the state from standard input. The candidate is
verified before any comparison: it must be well-formed UTF-8 JSON with a
valid version and serial. Verification failures are never bypassable.

An unforced push is rejected when the candidate's lineage differs from
the destination's, or when the destination's serial is newer. -force
overrides both checks. A candidate with a newer state format version
than this build understands is rejected unless -ignore-remote-version
is given; -force does not cover it.`,
	Args: cobra.ExactArgs(1),
	RunE: runStatePush,
}

var statePullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Print the destination state in its canonical form",
	RunE:  runStatePull,
}

func init() {
	statePushCmd.Flags().BoolVar(&statePushForce, "force", false, "Skip lineage and serial safety checks (unsafe)")
	statePushCmd.Flags().BoolVar(&statePushIgnoreVersion, "ignore-remote-version", false, "Allow pushing a state with a newer format version")

	stateCmd.AddCommand(stateListCmd)
	stateCmd.AddCommand(stateShowCmd)
	stateCmd.AddCommand(stateMvCmd)
	stateCmd.AddCommand(stateRmCmd)
	stateCmd.AddCommand(statePushCmd)
	stateCmd.AddCommand(statePullCmd)
}

func loadStateMgr() (*state.Manager, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	return state.NewManager(statePath(wd)), nil
}

func runStateList(cmd *cobra.Command, args []string) error {
	mgr, err := loadStateMgr()
	if err != nil {
		return err
	}

	s, err := mgr.Read(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	if len(s.Resources) == 0 {
		fmt.Println("No resources in state.")
		return nil
	}

	fmt.Printf("State version: %d, serial: %d, lineage: %s\n\n", s.Version, s.Serial, s.Lineage)
	for _, res := range s.Resources {
		fmt.Printf("  %s (provider: %s)\n", res.Addr(), res.Provider)
	}
	fmt.Printf("\nTotal: %d resource(s)\n", len(s.Resources))

	return nil
}

func runStateShow(cmd *cobra.Command, args []string) error {
	mgr, err := loadStateMgr()
	if err != nil {
		return err
	}

	s, err := mgr.Read(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	target := args[0]
	for _, res := range s.Resources {
		if res.Addr() != target {
			continue
		}
		fmt.Printf("# %s\n", res.Addr())
		fmt.Printf("  provider = %s\n", res.Provider)
		fmt.Printf("  type     = %s\n", res.Type)
		fmt.Printf("  name     = %s\n", res.Name)

		if len(res.Inputs) > 0 {
			fmt.Println("\n  Inputs:")
			for k, v := range res.Inputs {
				fmt.Printf("    %s = %v\n", k, v)
			}
		}

		if len(res.Outputs) > 0 {
			fmt.Println("\n  Outputs:")
			for k, v := range res.Outputs {
				fmt.Printf("    %s = %v\n", k, v)
			}
		}

		// Write-only values are not in state; only their versions are.
		if len(res.WriteOnlyVersions) > 0 {
			fmt.Println("\n  Write-only versions:")
			for k, v := range res.WriteOnlyVersions {
				fmt.Printf("    %s = %v\n", k, v)
			}
		}

		if res.InputsHash != "" {
			fmt.Printf("\n  inputs_hash = %s\n", res.InputsHash)
		}

		return nil
	}

	return fmt.Errorf("resource %s not found in state", target)
}

func runStateMv(cmd *cobra.Command, args []string) error {
	mgr, err := loadStateMgr()
	if err != nil {
		return err
	}

	if err := mgr.Lock(); err != nil {
		return err
	}
	defer mgr.Unlock()

	s, err := mgr.Read(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	src, dst := args[0], args[1]
	found := false

	for _, res := range s.Resources {
		if res.Addr() == src {
			parts := strings.SplitN(dst, ".", 2)
			if len(parts) != 2 {
				return fmt.Errorf("invalid destination address %q, expected format type.name", dst)
			}
			res.Type = parts[0]
			res.Name = parts[1]
			found = true
			break
		}
	}

	if !found {
		return fmt.Errorf("resource %s not found in state", src)
	}

	if err := mgr.Write(cmd.Context(), s); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	fmt.Printf("Moved %s to %s\n", src, dst)
	return nil
}

func runStateRm(cmd *cobra.Command, args []string) error {
	mgr, err := loadStateMgr()
	if err != nil {
		return err
	}

	if err := mgr.Lock(); err != nil {
		return err
	}
	defer mgr.Unlock()

	s, err := mgr.Read(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	target := args[0]
	newResources := make([]*ir.ResourceState, 0, len(s.Resources))
	found := false

	for _, res := range s.Resources {
		if res.Addr() == target {
			found = true
			continue
		}
		newResources = append(newResources, res)
	}

	if !found {
		return fmt.Errorf("resource %s not found in state", target)
	}

	s.Resources = newResources
	if err := mgr.Write(cmd.Context(), s); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	fmt.Printf("Removed %s from state (resource was NOT destroyed)\n", target)
	return nil
}

func runStatePush(cmd *cobra.Command, args []string) error {
	raw, err := readCandidate(args[0], cmd.InOrStdin())
	if err != nil {
		return err
	}

	if state.IsEncrypted(raw) {
		raw, err = state.DecryptState(raw)
		if err != nil {
			return fmt.Errorf("failed to decrypt candidate state: %w", err)
		}
	}

	candidate, err := state.ParseState(raw)
	if err != nil {
		return err
	}

	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	backend, err := loadBackend(wd)
	if err != nil {
		return err
	}

	reconciler := state.NewReconciler(backend)
	err = reconciler.Push(cmd.Context(), candidate, state.PushOptions{
		Force:               statePushForce,
		IgnoreRemoteVersion: statePushIgnoreVersion,
	})
	if err != nil {
		if errors.Is(err, state.ErrLineageMismatch) || errors.Is(err, state.ErrStaleSerial) {
			return fmt.Errorf("%w\n\nThe destination state was not modified. "+
				"Re-run with -force to overwrite it anyway.", err)
		}
		return err
	}

	fmt.Printf("State pushed (lineage %s, serial %d).\n", candidate.Lineage, candidate.Serial)
	return nil
}

// readCandidate loads the candidate state bytes. "-" reads standard
// input to completion; verification never sees a partial stream.
func readCandidate(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read state from stdin: %w", err)
		}
		return raw, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", path, err)
	}
	return raw, nil
}

func runStatePull(cmd *cobra.Command, args []string) error {
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	backend, err := loadBackend(wd)
	if err != nil {
		return err
	}

	s, err := backend.Read(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read destination state: %w", err)
	}

	raw, err := state.EncodeState(s)
	if err != nil {
		return err
	}

	_, err = cmd.OutOrStdout().Write(raw)
	return err
}
