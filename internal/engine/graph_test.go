package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-io/strata/internal/ir"
)

func TestBuildDAG_NoDependencies(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null_resource", Name: "a", Provider: "null"},
		{Type: "null_resource", Name: "b", Provider: "null"},
		{Type: "null_resource", Name: "c", Provider: "null"},
	}

	dag, err := BuildDAG(resources, nil)
	require.NoError(t, err)

	order := dag.CreationOrder()
	assert.Len(t, order, 3)
}

func TestBuildDAG_ExplicitDependsOn(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null_resource", Name: "a", Provider: "null", DependsOn: []string{"null_resource.b"}},
		{Type: "null_resource", Name: "b", Provider: "null"},
		{Type: "null_resource", Name: "c", Provider: "null", DependsOn: []string{"null_resource.a"}},
	}

	dag, err := BuildDAG(resources, nil)
	require.NoError(t, err)

	order := dag.CreationOrder()
	require.Len(t, order, 3)

	// b must come before a, a must come before c
	posB := indexOf(order, "null_resource.b")
	posA := indexOf(order, "null_resource.a")
	posC := indexOf(order, "null_resource.c")

	assert.Less(t, posB, posA, "b should come before a")
	assert.Less(t, posA, posC, "a should come before c")
}

func TestBuildDAG_ImplicitPtrRef(t *testing.T) {
	resources := []*ir.Resource{
		{
			Type:     "EC2.Subnet",
			Name:     "my-subnet",
			Provider: "aws",
			Properties: map[string]any{
				"vpcId": "ptr://aws:EC2.Vpc/my-vpc/id",
			},
		},
		{Type: "EC2.Vpc", Name: "my-vpc", Provider: "aws"},
	}

	dag, err := BuildDAG(resources, nil)
	require.NoError(t, err)

	order := dag.CreationOrder()
	require.Len(t, order, 2)

	posVpc := indexOf(order, "EC2.Vpc.my-vpc")
	posSubnet := indexOf(order, "EC2.Subnet.my-subnet")

	assert.Less(t, posVpc, posSubnet, "VPC should be created before subnet")
}

func TestBuildDAG_WriteOnlyRef(t *testing.T) {
	resources := []*ir.Resource{
		{
			Type:     "null_resource",
			Name:     "consumer",
			Provider: "null",
			WriteOnly: map[string]*ir.WriteOnlyArg{
				"password": {Value: "ptr://null:null_resource/producer/id", Version: 1},
			},
		},
		{Type: "null_resource", Name: "producer", Provider: "null"},
	}

	dag, err := BuildDAG(resources, nil)
	require.NoError(t, err)

	order := dag.CreationOrder()
	require.Len(t, order, 2)

	posProducer := indexOf(order, "null_resource.producer")
	posConsumer := indexOf(order, "null_resource.consumer")
	assert.Less(t, posProducer, posConsumer, "producer should come before consumer")
}

func TestBuildDAG_WriteOnlySelfReference(t *testing.T) {
	resources := []*ir.Resource{
		{
			Type:     "null_resource",
			Name:     "self",
			Provider: "null",
			WriteOnly: map[string]*ir.WriteOnlyArg{
				"password": {Value: "ptr://null:null_resource/self/id", Version: 1},
			},
		},
	}

	_, err := BuildDAG(resources, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCyclicWriteOnly)
}

func TestBuildDAG_EphemeralRef(t *testing.T) {
	resources := []*ir.Resource{
		{
			Type:     "null_resource",
			Name:     "db",
			Provider: "null",
			WriteOnly: map[string]*ir.WriteOnlyArg{
				"password": {Value: "eph://null_secret/creds/token", Version: "v1"},
			},
		},
	}
	ephemerals := []*ir.EphemeralResource{
		{
			Type:     "null_secret",
			Name:     "creds",
			Provider: "null",
			Properties: map[string]any{
				"seed": "ptr://null:null_resource/seeder/id",
			},
		},
	}
	resources = append(resources, &ir.Resource{Type: "null_resource", Name: "seeder", Provider: "null"})

	dag, err := BuildDAG(resources, ephemerals)
	require.NoError(t, err)

	order := dag.CreationOrder()
	require.Len(t, order, 3)

	posSeeder := indexOf(order, "null_resource.seeder")
	posEph := indexOf(order, "ephemeral.null_secret.creds")
	posDB := indexOf(order, "null_resource.db")

	assert.Less(t, posSeeder, posEph, "seeder should come before the ephemeral that reads it")
	assert.Less(t, posEph, posDB, "ephemeral should come before its consumer")
}

func TestBuildDAG_CycleDetection(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null_resource", Name: "a", Provider: "null", DependsOn: []string{"null_resource.b"}},
		{Type: "null_resource", Name: "b", Provider: "null", DependsOn: []string{"null_resource.a"}},
	}

	_, err := BuildDAG(resources, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestBuildDAG_DestructionOrder(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null_resource", Name: "a", Provider: "null", DependsOn: []string{"null_resource.b"}},
		{Type: "null_resource", Name: "b", Provider: "null"},
	}

	dag, err := BuildDAG(resources, nil)
	require.NoError(t, err)

	revOrder := dag.DestructionOrder()
	require.Len(t, revOrder, 2)

	// a depends on b, so a should be destroyed first (reverse of creation)
	posA := indexOf(revOrder, "null_resource.a")
	posB := indexOf(revOrder, "null_resource.b")

	assert.Less(t, posA, posB, "a should be destroyed before b")
}

func TestRefToAddr(t *testing.T) {
	tests := []struct {
		ref  string
		want string
	}{
		{"ptr://aws:EC2.Vpc/my-vpc/id", "EC2.Vpc.my-vpc"},
		{"ptr://aws:S3.Bucket/logs/arn", "S3.Bucket.logs"},
		{"ptr://null:null_resource/db/id", "null_resource.db"},
		{"eph://null_secret/creds/token", "ephemeral.null_secret.creds"},
		{"not-a-ref", ""},
		{"ptr://short", ""},
		{"eph://short", ""},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got := refToAddr(tt.ref)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractRefs(t *testing.T) {
	props := map[string]any{
		"vpcId": "ptr://aws:EC2.Vpc/my-vpc/id",
		"name":  "my-subnet",
		"tags": map[string]any{
			"ref": "ptr://aws:S3.Bucket/logs/arn",
		},
		"list": []any{
			"eph://null_secret/creds/token",
			"plain-string",
		},
	}

	refs := extractRefs(props)
	assert.Len(t, refs, 3)
	assert.Contains(t, refs, "ptr://aws:EC2.Vpc/my-vpc/id")
	assert.Contains(t, refs, "ptr://aws:S3.Bucket/logs/arn")
	assert.Contains(t, refs, "eph://null_secret/creds/token")
}

func TestDependencies(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null_resource", Name: "a", Provider: "null", DependsOn: []string{"null_resource.b", "null_resource.c"}},
		{Type: "null_resource", Name: "b", Provider: "null"},
		{Type: "null_resource", Name: "c", Provider: "null"},
	}

	dag, err := BuildDAG(resources, nil)
	require.NoError(t, err)

	deps := dag.Dependencies("null_resource.a")
	assert.Len(t, deps, 2)
	assert.Contains(t, deps, "null_resource.b")
	assert.Contains(t, deps, "null_resource.c")
}

func TestTransitiveDeps(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null_resource", Name: "a", Provider: "null", DependsOn: []string{"null_resource.b"}},
		{Type: "null_resource", Name: "b", Provider: "null", DependsOn: []string{"null_resource.c"}},
		{Type: "null_resource", Name: "c", Provider: "null"},
		{Type: "null_resource", Name: "unrelated", Provider: "null"},
	}

	dag, err := BuildDAG(resources, nil)
	require.NoError(t, err)

	deps := dag.TransitiveDeps("null_resource.a")
	assert.Len(t, deps, 2)
	assert.Contains(t, deps, "null_resource.b")
	assert.Contains(t, deps, "null_resource.c")
}

func TestBuildDAGFromState(t *testing.T) {
	resources := []*ir.ResourceState{
		{Type: "null_resource", Name: "a", Provider: "null", Dependencies: []string{"null_resource.b"}},
		{Type: "null_resource", Name: "b", Provider: "null"},
	}

	dag, err := BuildDAGFromState(resources)
	require.NoError(t, err)

	revOrder := dag.DestructionOrder()
	posA := indexOf(revOrder, "null_resource.a")
	posB := indexOf(revOrder, "null_resource.b")
	assert.Less(t, posA, posB, "dependent resource destroyed first")
}

func indexOf(slice []string, item string) int {
	for i, s := range slice {
		if s == item {
			return i
		}
	}
	return -1
}
