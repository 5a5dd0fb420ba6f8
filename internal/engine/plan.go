package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/strata-io/strata/internal/ir"
	"github.com/strata-io/strata/internal/logging"
	"github.com/strata-io/strata/internal/provider"
	pb "github.com/strata-io/strata/pkg/provider"
)

// writeOnlyPlaceholder is what plans render in place of a write-only
// argument's value. The value itself is never evaluated at plan time.
const writeOnlyPlaceholder = "(write-only)"

// Engine orchestrates the lifecycle of resources.
type Engine struct {
	registry        *provider.Registry
	ContinueOnError bool // If true, apply continues past failures instead of stopping
}

func NewEngine(registry *provider.Registry) *Engine {
	return &Engine{
		registry: registry,
	}
}

// CreatePlan generates an execution plan by comparing desired config with current state.
func (e *Engine) CreatePlan(ctx context.Context, cfg *ir.Config, state *ir.State) (*ir.Plan, error) {
	return e.CreatePlanWithTargets(ctx, cfg, state, nil)
}

// CreatePlanWithTargets generates a plan filtered to specific resource addresses.
// If targets is nil or empty, all resources are planned.
//
// Write-only arguments never surface their values here. A create shows a
// placeholder; on later runs only the version field is compared, and a
// version change upgrades an otherwise no-op resource to an update.
func (e *Engine) CreatePlanWithTargets(ctx context.Context, cfg *ir.Config, state *ir.State, targets []string) (*ir.Plan, error) {
	logging.Debug("creating plan", "resources", len(cfg.Resources), "state_resources", len(state.Resources), "targets", len(targets))
	plan := &ir.Plan{
		Metadata: &ir.PlanMetadata{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
		Changes: []*ir.ResourceChange{},
		Summary: &ir.PlanSummary{},
		Outputs: cfg.Outputs,
	}

	// 1. Load all required providers, including those backing ephemerals
	for _, res := range cfg.Resources {
		if err := e.registry.LoadProvider(res.Provider); err != nil {
			return nil, fmt.Errorf("failed to load provider %s: %w", res.Provider, err)
		}
	}
	for _, eph := range cfg.Ephemerals {
		if err := e.registry.LoadProvider(eph.Provider); err != nil {
			return nil, fmt.Errorf("failed to load provider %s: %w", eph.Provider, err)
		}
	}

	// 1.5 Expand for_each/count resources
	cfg.Resources = ExpandForEach(cfg.Resources)

	// 2. Build dependency graph for ordering. Cyclic write-only
	// references are rejected here, before any provider is called.
	dag, err := BuildDAG(cfg.Resources, cfg.Ephemerals)
	if err != nil {
		return nil, fmt.Errorf("failed to build dependency graph: %w", err)
	}

	// 3. Build state map for quick lookup
	stateMap := make(map[string]*ir.ResourceState)
	for _, res := range state.Resources {
		stateMap[res.Addr()] = res
	}

	// 4. Build config map for quick lookup
	configByAddr := make(map[string]*ir.Resource)
	for _, res := range cfg.Resources {
		addr := resourceAddr(res)
		configByAddr[addr] = res
	}

	// 5. Build target set (if targets specified, include their dependencies)
	var targetSet map[string]bool
	if len(targets) > 0 {
		targetSet = make(map[string]bool)
		for _, t := range targets {
			targetSet[t] = true
		}
		// Add transitive dependencies of targets
		for _, t := range targets {
			for _, dep := range dag.TransitiveDeps(t) {
				targetSet[dep] = true
			}
		}
	}

	// 6. Iterate desired resources in dependency order
	for _, addr := range dag.CreationOrder() {
		res, ok := configByAddr[addr]
		if !ok {
			continue
		}

		// Skip non-targeted resources
		if targetSet != nil && !targetSet[addr] {
			plan.Summary.NoOp++
			continue
		}

		resourceType := res.Type
		if resourceType == "" {
			resourceType = "null_resource"
		}

		prov, err := e.registry.Get(res.Provider)
		if err != nil {
			return nil, err
		}

		// Prepare request
		props := normalizeValue(res.Properties)
		desiredJSON, err := json.Marshal(props)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal properties for %s: %w", res.Name, err)
		}

		prior := stateMap[addr]
		var priorJSON []byte
		if prior != nil {
			priorJSON, _ = json.Marshal(prior.Outputs)
		}

		resp, err := prov.Plan(ctx, &pb.PlanRequest{
			Type:              resourceType,
			Name:              res.Name,
			DesiredConfigJSON: desiredJSON,
			PriorStateJSON:    priorJSON,
		})
		if err != nil {
			return nil, fmt.Errorf("plan failed for %s: %w", addr, err)
		}

		action := resp.Action
		if action != pb.ActionNoop {
			// Enforce lifecycle rules
			if err := enforceLifecycle(res, action, addr); err != nil {
				return nil, err
			}

			// Apply IgnoreChanges filtering
			if res.Lifecycle != nil && len(res.Lifecycle.IgnoreChanges) > 0 && action == pb.ActionUpdate {
				action = filterIgnoredChanges(res, resp, prior)
			}
		}

		changedWO := ChangedWriteOnly(res, prior)

		// A version bump on a write-only argument is a real update even
		// when every readable property is unchanged.
		if action == pb.ActionNoop && prior != nil && len(changedWO) > 0 {
			action = pb.ActionUpdate
		}

		if action == pb.ActionNoop {
			plan.Summary.NoOp++
			continue
		}

		change := &ir.ResourceChange{
			Address:          addr,
			Action:           action.String(),
			Desired:          res,
			ChangedWriteOnly: changedWO,
		}

		if prior != nil {
			change.Prior = &ir.Resource{
				Type:       prior.Type,
				Name:       prior.Name,
				Provider:   prior.Provider,
				Properties: prior.Inputs,
			}
			change.Diff = buildPropertyDiff(prior.Inputs, res.Properties)
			addWriteOnlyVersionDiff(change.Diff, res, prior, changedWO)
		} else {
			change.Diff = buildCreateDiff(res.Properties)
			addWriteOnlyCreateDiff(change.Diff, res)
		}

		plan.Changes = append(plan.Changes, change)

		switch action {
		case pb.ActionCreate:
			plan.Summary.Create++
		case pb.ActionUpdate:
			plan.Summary.Update++
		case pb.ActionReplace:
			plan.Summary.Replace++
		case pb.ActionDelete:
			plan.Summary.Delete++
		}
	}

	// 7. Handle Deletions (resources in state but not in config)
	configMap := make(map[string]bool)
	for _, res := range cfg.Resources {
		addr := resourceAddr(res)
		configMap[addr] = true
	}

	for _, res := range state.Resources {
		addr := res.Addr()
		if !configMap[addr] {
			// Skip non-targeted resources for deletion too
			if targetSet != nil && !targetSet[addr] {
				continue
			}
			change := &ir.ResourceChange{
				Address: addr,
				Action:  "DELETE",
				Prior: &ir.Resource{
					Type:       res.Type,
					Name:       res.Name,
					Provider:   res.Provider,
					Properties: res.Inputs,
				},
				Diff: buildDeleteDiff(res.Inputs),
			}
			plan.Changes = append(plan.Changes, change)
			plan.Summary.Delete++
		}
	}

	return plan, nil
}

// enforceLifecycle checks lifecycle rules and returns an error if violated.
func enforceLifecycle(res *ir.Resource, action pb.Action, addr string) error {
	if res.Lifecycle == nil {
		return nil
	}

	if res.Lifecycle.PreventDestroy && (action == pb.ActionDelete || action == pb.ActionReplace) {
		return fmt.Errorf("resource %s has prevent_destroy set but plan requires destruction", addr)
	}

	return nil
}

// filterIgnoredChanges checks if all changed attributes are in IgnoreChanges.
// If so, downgrades the action to NOOP.
func filterIgnoredChanges(res *ir.Resource, resp *pb.PlanResponse, prior *ir.ResourceState) pb.Action {
	if prior == nil || res.Lifecycle == nil {
		return resp.Action
	}

	ignoreSet := make(map[string]bool)
	for _, attr := range res.Lifecycle.IgnoreChanges {
		ignoreSet[attr] = true
	}

	if len(resp.ChangedAttributes) > 0 {
		allIgnored := true
		for _, attr := range resp.ChangedAttributes {
			if !ignoreSet[attr] {
				allIgnored = false
				break
			}
		}
		if allIgnored {
			return pb.ActionNoop
		}
	}

	return resp.Action
}

// addWriteOnlyCreateDiff renders write-only arguments in a create diff.
// Only the placeholder appears; the value expression is not evaluated.
func addWriteOnlyCreateDiff(diff map[string]*ir.PropertyDiff, res *ir.Resource) {
	for name := range res.WriteOnly {
		diff["writeOnly."+name] = &ir.PropertyDiff{
			After:     writeOnlyPlaceholder,
			Sensitive: true,
			Action:    "create",
		}
	}
}

// addWriteOnlyVersionDiff renders the version transition for each changed
// write-only argument. Versions are operator-chosen markers, not secrets,
// so they are shown as-is.
func addWriteOnlyVersionDiff(diff map[string]*ir.PropertyDiff, res *ir.Resource, prior *ir.ResourceState, changed []string) {
	for _, name := range changed {
		arg := res.WriteOnly[name]
		if arg == nil {
			continue
		}
		diff["writeOnly."+name+".version"] = &ir.PropertyDiff{
			Before: prior.WriteOnlyVersions[name],
			After:  arg.Version,
			Action: "update",
		}
	}
}

// buildPropertyDiff compares prior and desired properties and returns a diff map.
func buildPropertyDiff(prior, desired map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)

	allKeys := make(map[string]bool)
	for k := range prior {
		allKeys[k] = true
	}
	for k := range desired {
		allKeys[k] = true
	}

	for k := range allKeys {
		priorVal, inPrior := prior[k]
		desiredVal, inDesired := desired[k]

		if !inPrior {
			diff[k] = &ir.PropertyDiff{
				After:  desiredVal,
				Action: "create",
			}
		} else if !inDesired {
			diff[k] = &ir.PropertyDiff{
				Before: priorVal,
				Action: "delete",
			}
		} else if fmt.Sprintf("%v", priorVal) != fmt.Sprintf("%v", desiredVal) {
			diff[k] = &ir.PropertyDiff{
				Before: priorVal,
				After:  desiredVal,
				Action: "update",
			}
		}
	}

	return diff
}

func buildCreateDiff(props map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)
	for k, v := range props {
		diff[k] = &ir.PropertyDiff{
			After:  v,
			Action: "create",
		}
	}
	return diff
}

func buildDeleteDiff(props map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)
	for k, v := range props {
		diff[k] = &ir.PropertyDiff{
			Before: v,
			Action: "delete",
		}
	}
	return diff
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[any]any:
		newMap := make(map[string]any)
		for k, v := range val {
			newMap[fmt.Sprintf("%v", k)] = normalizeValue(v)
		}
		return newMap
	case map[string]any:
		newMap := make(map[string]any)
		for k, v := range val {
			newMap[k] = normalizeValue(v)
		}
		return newMap
	case []any:
		newSlice := make([]any, len(val))
		for i, v := range val {
			newSlice[i] = normalizeValue(v)
		}
		return newSlice
	default:
		return val
	}
}
