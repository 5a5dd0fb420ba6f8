package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/strata-io/strata/internal/engine"
	"github.com/strata-io/strata/internal/ir"
	"github.com/strata-io/strata/internal/provider"
)

var destroyAutoApprove bool

var destroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Destroy all managed infrastructure",
	Long: `Destroys all resources managed by Strata.

This command is the inverse of 'strata apply'. It deletes every resource
tracked in state, in reverse dependency order.`,
	RunE: runDestroy,
}

func init() {
	destroyCmd.Flags().BoolVar(&destroyAutoApprove, "auto-approve", false, "Skip interactive approval before destroying")
}

func runDestroy(cmd *cobra.Command, args []string) error {
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	ctx := cmd.Context()

	backend, err := loadBackend(wd)
	if err != nil {
		return err
	}
	registry := provider.NewRegistry()
	eng := engine.NewEngine(registry)

	if err := backend.Lock(); err != nil {
		return err
	}
	defer backend.Unlock()

	currentState, err := backend.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	if len(currentState.Resources) == 0 {
		fmt.Println("No resources in state. Nothing to destroy.")
		return nil
	}

	if err := loadStateProviders(registry, currentState); err != nil {
		return err
	}

	// Build a delete-everything plan in reverse dependency order.
	dag, err := engine.BuildDAGFromState(currentState.Resources)
	if err != nil {
		return fmt.Errorf("failed to build dependency graph: %w", err)
	}

	byAddr := make(map[string]*ir.ResourceState, len(currentState.Resources))
	for _, res := range currentState.Resources {
		byAddr[res.Addr()] = res
	}

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{},
		Summary: &ir.PlanSummary{},
	}
	for _, addr := range dag.DestructionOrder() {
		res, ok := byAddr[addr]
		if !ok {
			continue
		}
		plan.Changes = append(plan.Changes, &ir.ResourceChange{
			Address: addr,
			Action:  "DELETE",
			Prior: &ir.Resource{
				Type:       res.Type,
				Name:       res.Name,
				Provider:   res.Provider,
				Properties: res.Inputs,
			},
		})
		plan.Summary.Delete++
	}

	fmt.Println("Strata will destroy the following resources:")
	renderPlanChanges(plan)
	renderPlanSummary(plan)

	if !destroyAutoApprove {
		fmt.Print("\nDo you really want to destroy all resources? (y/n): ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "yes" {
			fmt.Println("Destroy cancelled.")
			return nil
		}
	}

	fmt.Printf("\nDestroying %d resource(s)...\n", len(plan.Changes))

	newState, err := eng.ApplyPlan(ctx, plan, currentState)
	if err != nil {
		_ = backend.Write(ctx, currentState)
		return fmt.Errorf("destroy failed: %w", err)
	}

	newState.Outputs = nil
	if err := backend.Write(ctx, newState); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	fmt.Printf("\nDestroy complete! %d resource(s) deleted.\n", plan.Summary.Delete)
	return nil
}
