package null

import (
	"context"
	"encoding/json"
	"testing"

	pb "github.com/strata-io/strata/pkg/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider_Plan(t *testing.T) {
	p := New()
	ctx := context.Background()

	// 1. Create plan (New resource)
	desired := Config{Triggers: map[string]string{"foo": "bar"}}
	desiredJSON, _ := json.Marshal(desired)

	resp, err := p.Plan(ctx, &pb.PlanRequest{
		Type:              "null_resource",
		Name:              "test",
		DesiredConfigJSON: desiredJSON,
		PriorStateJSON:    nil,
	})
	require.NoError(t, err)
	assert.Equal(t, pb.ActionCreate, resp.Action)

	// 2. No-op plan (Same triggers)
	state := State{
		ID:       "null-test",
		Triggers: desired.Triggers,
	}
	stateJSON, _ := json.Marshal(state)

	resp, err = p.Plan(ctx, &pb.PlanRequest{
		Type:              "null_resource",
		Name:              "test",
		DesiredConfigJSON: desiredJSON,
		PriorStateJSON:    stateJSON,
	})
	require.NoError(t, err)
	assert.Equal(t, pb.ActionNoop, resp.Action)

	// 3. Update plan (Changed triggers -> Replace)
	newDesired := Config{Triggers: map[string]string{"foo": "baz"}}
	newDesiredJSON, _ := json.Marshal(newDesired)

	resp, err = p.Plan(ctx, &pb.PlanRequest{
		Type:              "null_resource",
		Name:              "test",
		DesiredConfigJSON: newDesiredJSON,
		PriorStateJSON:    stateJSON,
	})
	require.NoError(t, err)
	assert.Equal(t, pb.ActionReplace, resp.Action)
	assert.Contains(t, resp.ChangedAttributes, "triggers")
}

func TestProvider_Apply(t *testing.T) {
	p := New()
	ctx := context.Background()

	desired := Config{Triggers: map[string]string{"foo": "bar"}}
	desiredJSON, _ := json.Marshal(desired)

	resp, err := p.Apply(ctx, &pb.ApplyRequest{
		Name:              "test",
		DesiredConfigJSON: desiredJSON,
	})
	require.NoError(t, err)

	var newState State
	err = json.Unmarshal(resp.NewStateJSON, &newState)
	require.NoError(t, err)
	assert.Equal(t, "null-test", newState.ID)
	assert.Equal(t, "bar", newState.Triggers["foo"])
}

func TestProvider_Apply_WriteOnlyDelivery(t *testing.T) {
	p := New()
	ctx := context.Background()

	desiredJSON, _ := json.Marshal(Config{Triggers: map[string]string{"a": "b"}})
	woJSON, _ := json.Marshal(map[string]any{"payload": "s3cret"})

	resp, err := p.Apply(ctx, &pb.ApplyRequest{
		Name:              "test",
		DesiredConfigJSON: desiredJSON,
		WriteOnlyJSON:     woJSON,
		ChangedWriteOnly:  []string{"payload"},
	})
	require.NoError(t, err)

	// The value reached the provider in memory...
	assert.Equal(t, "s3cret", p.Delivered("test")["payload"])

	// ...but never the returned state.
	assert.NotContains(t, string(resp.NewStateJSON), "s3cret")
}

func TestProvider_Open(t *testing.T) {
	p := New()
	ctx := context.Background()

	// 1. Configured value passes through
	cfgJSON, _ := json.Marshal(map[string]any{"value": "hunter2"})
	resp, err := p.Open(ctx, &pb.OpenRequest{
		Type:       "null_secret",
		Name:       "creds",
		ConfigJSON: cfgJSON,
	})
	require.NoError(t, err)

	var values map[string]any
	require.NoError(t, json.Unmarshal(resp.ValuesJSON, &values))
	assert.Equal(t, "hunter2", values["token"])

	// 2. Without a value a fresh token is minted
	resp, err = p.Open(ctx, &pb.OpenRequest{Type: "null_secret", Name: "generated"})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(resp.ValuesJSON, &values))
	assert.NotEmpty(t, values["token"])
}
