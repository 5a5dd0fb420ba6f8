package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/strata-io/strata/internal/ir"
	"github.com/strata-io/strata/internal/logging"
	"github.com/strata-io/strata/internal/provider"
	pb "github.com/strata-io/strata/pkg/provider"
)

// Binder resolves write-only argument values at apply time and opens
// ephemeral resources on demand. Resolved values exist for exactly one
// provider invocation; they are never placed in state, plans, or any
// other persisted artifact.
//
// Resolve is not safe for concurrent use; the engine serializes calls
// under its state lock, which is also what suspends a resolution until
// a same-operation dependency has produced its output.
type Binder struct {
	registry   *provider.Registry
	store      *ValueStore
	ephemerals map[string]*ir.EphemeralResource // by address
}

func NewBinder(registry *provider.Registry, store *ValueStore, ephemerals []*ir.EphemeralResource) *Binder {
	byAddr := make(map[string]*ir.EphemeralResource, len(ephemerals))
	for _, eph := range ephemerals {
		byAddr[ephemeralAddr(eph)] = eph
	}
	return &Binder{
		registry:   registry,
		store:      store,
		ephemerals: byAddr,
	}
}

// Resolve produces the write-only values for one provider invocation.
// Every apply that includes a resource with write-only arguments goes
// through here: no prior value exists to diff against, so the current
// value is always resent.
func (b *Binder) Resolve(ctx context.Context, res *ir.Resource, state *ir.State) (map[string]any, error) {
	if len(res.WriteOnly) == 0 {
		return nil, nil
	}

	addr := resourceAddr(res)
	out := make(map[string]any, len(res.WriteOnly))
	for name, arg := range res.WriteOnly {
		v, err := b.resolveValue(ctx, arg.Value, state)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve write-only argument %q of %s: %w", name, addr, err)
		}
		out[name] = v
	}
	return out, nil
}

func (b *Binder) resolveValue(ctx context.Context, v any, state *ir.State) (any, error) {
	switch val := v.(type) {
	case string:
		if strings.HasPrefix(val, "eph://") {
			return b.resolveEphemeral(ctx, val, state)
		}
		if strings.HasPrefix(val, "ptr://") {
			resolved := resolveReferences(val, state)
			if s, ok := resolved.(string); ok && strings.HasPrefix(s, "ptr://") {
				return nil, fmt.Errorf("unresolved reference %s", val)
			}
			return resolved, nil
		}
		return val, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			r, err := b.resolveValue(ctx, item, state)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			r, err := b.resolveValue(ctx, item, state)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		// Literals pass through; they are still treated as write-only.
		return val, nil
	}
}

// resolveEphemeral fetches one attribute of an ephemeral resource,
// opening it through its provider on first use.
func (b *Binder) resolveEphemeral(ctx context.Context, ref string, state *ir.State) (any, error) {
	path := ref[len("eph://"):]
	parts := strings.SplitN(path, "/", 3)
	if len(parts) < 3 {
		return nil, fmt.Errorf("malformed ephemeral reference %s, expected eph://type/name/attribute", ref)
	}
	addr := fmt.Sprintf("ephemeral.%s.%s", parts[0], parts[1])
	attr := parts[2]

	values, err := b.ensureOpen(ctx, addr, state)
	if err != nil {
		return nil, err
	}

	v, ok := values[attr]
	if !ok {
		return nil, fmt.Errorf("ephemeral %s has no attribute %q", addr, attr)
	}
	return v, nil
}

// ensureOpen opens an ephemeral resource exactly once per operation.
// Its own references are resolved first, so an ephemeral depending on a
// resource created in the same operation opens only after that output
// settled.
func (b *Binder) ensureOpen(ctx context.Context, addr string, state *ir.State) (map[string]any, error) {
	if values, ok := b.store.Get(addr); ok {
		return values, nil
	}

	eph, ok := b.ephemerals[addr]
	if !ok {
		return nil, fmt.Errorf("unknown ephemeral resource %s", addr)
	}

	prov, err := b.registry.Get(eph.Provider)
	if err != nil {
		return nil, fmt.Errorf("provider not loaded for ephemeral %s: %w", addr, err)
	}

	cfg, err := b.resolveValue(ctx, normalizeValue(eph.Properties), state)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve configuration of ephemeral %s: %w", addr, err)
	}
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal configuration of ephemeral %s: %w", addr, err)
	}

	logging.Debug("opening ephemeral resource", "address", addr)
	resp, err := prov.Open(ctx, &pb.OpenRequest{
		Type:       eph.Type,
		Name:       eph.Name,
		ConfigJSON: cfgJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open ephemeral %s: %w", addr, err)
	}

	var values map[string]any
	if len(resp.ValuesJSON) > 0 {
		if err := json.Unmarshal(resp.ValuesJSON, &values); err != nil {
			return nil, fmt.Errorf("failed to unmarshal values of ephemeral %s: %w", addr, err)
		}
	}

	if err := b.store.Put(addr, values); err != nil {
		return nil, err
	}
	return values, nil
}

// VersionChanged reports whether a write-only argument's version field
// differs between two snapshots. Versions are provider-defined and
// opaque; comparison is by normalized string form, so integers and
// strings both work.
func VersionChanged(oldVersion, newVersion any) bool {
	return fmt.Sprintf("%v", oldVersion) != fmt.Sprintf("%v", newVersion)
}

// WriteOnlyVersions collects the persisted version fields of a
// resource's write-only arguments.
func WriteOnlyVersions(res *ir.Resource) map[string]any {
	if len(res.WriteOnly) == 0 {
		return nil
	}
	versions := make(map[string]any, len(res.WriteOnly))
	for name, arg := range res.WriteOnly {
		versions[name] = arg.Version
	}
	return versions
}

// ChangedWriteOnly returns the names of write-only arguments whose
// version field differs from the prior snapshot, sorted for
// deterministic plans. On create every argument counts as changed.
func ChangedWriteOnly(res *ir.Resource, prior *ir.ResourceState) []string {
	if len(res.WriteOnly) == 0 {
		return nil
	}

	var changed []string
	for name, arg := range res.WriteOnly {
		if prior == nil {
			changed = append(changed, name)
			continue
		}
		if VersionChanged(prior.WriteOnlyVersions[name], arg.Version) {
			changed = append(changed, name)
		}
	}
	sort.Strings(changed)
	return changed
}

// scrubWriteOnly removes provider-echoed copies of write-only keys from
// outputs about to be persisted.
func scrubWriteOnly(outputs map[string]any, res *ir.Resource) {
	for name := range res.WriteOnly {
		delete(outputs, name)
	}
}
