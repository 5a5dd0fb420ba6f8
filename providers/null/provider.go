package null

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	pb "github.com/strata-io/strata/pkg/provider"
)

// Provider implements the built-in null provider. Managed null_resource
// instances exist only in state; ephemeral null_secret instances mint a
// token that lives for a single operation.
type Provider struct {
	mu        sync.Mutex
	delivered map[string]map[string]any
}

func New() *Provider {
	return &Provider{
		delivered: make(map[string]map[string]any),
	}
}

func (p *Provider) Plan(ctx context.Context, req *pb.PlanRequest) (*pb.PlanResponse, error) {
	var desired Config
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	var prior State
	if len(req.PriorStateJSON) > 0 {
		if err := json.Unmarshal(req.PriorStateJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
	}

	// If triggers changed, replace. If new, create.
	action := pb.ActionNoop
	var changes []string

	if len(req.PriorStateJSON) == 0 {
		action = pb.ActionCreate
	} else if !equal(desired.Triggers, prior.Triggers) {
		action = pb.ActionReplace
		changes = append(changes, "triggers")
	}

	return &pb.PlanResponse{
		Action:            action,
		ChangedAttributes: changes,
	}, nil
}

func (p *Provider) Apply(ctx context.Context, req *pb.ApplyRequest) (*pb.ApplyResponse, error) {
	var desired Config
	if err := json.Unmarshal(req.DesiredConfigJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Write-only values are consumed here and kept in memory only.
	if len(req.WriteOnlyJSON) > 0 {
		var wo map[string]any
		if err := json.Unmarshal(req.WriteOnlyJSON, &wo); err != nil {
			return nil, fmt.Errorf("failed to unmarshal write-only values: %w", err)
		}
		p.mu.Lock()
		p.delivered[req.Name] = wo
		p.mu.Unlock()
	}

	state := State{
		ID:       fmt.Sprintf("null-%s", req.Name),
		Triggers: desired.Triggers,
	}
	stateBytes, _ := json.Marshal(state)

	return &pb.ApplyResponse{
		NewStateJSON: stateBytes,
	}, nil
}

func (p *Provider) Read(ctx context.Context, req *pb.ReadRequest) (*pb.ReadResponse, error) {
	return &pb.ReadResponse{
		Exists:       true,
		NewStateJSON: req.CurrentStateJSON,
	}, nil
}

func (p *Provider) Delete(ctx context.Context, req *pb.DeleteRequest) (*pb.DeleteResponse, error) {
	return &pb.DeleteResponse{}, nil
}

// Open produces the values of an ephemeral null_secret. A configured
// "value" is passed through; otherwise a fresh token is minted.
func (p *Provider) Open(ctx context.Context, req *pb.OpenRequest) (*pb.OpenResponse, error) {
	var cfg map[string]any
	if len(req.ConfigJSON) > 0 {
		if err := json.Unmarshal(req.ConfigJSON, &cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal ephemeral config: %w", err)
		}
	}

	values := make(map[string]any)
	if v, ok := cfg["value"]; ok {
		values["token"] = v
	} else {
		values["token"] = uuid.NewString()
	}

	valuesBytes, _ := json.Marshal(values)
	return &pb.OpenResponse{ValuesJSON: valuesBytes}, nil
}

// Delivered returns the write-only values the provider received for a
// resource during this process. Tests use it to observe delivery without
// the values ever touching state.
func (p *Provider) Delivered(name string) map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.delivered[name]
}

// Internal structs for JSON handling
type Config struct {
	Triggers map[string]string `json:"triggers"`
}

type State struct {
	ID       string            `json:"id"`
	Triggers map[string]string `json:"triggers"`
}

func equal(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
