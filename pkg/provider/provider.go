package provider

import "context"

// Action is the change a provider decided on during planning.
type Action int

const (
	ActionNoop Action = iota
	ActionCreate
	ActionUpdate
	ActionReplace
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "CREATE"
	case ActionUpdate:
		return "UPDATE"
	case ActionReplace:
		return "REPLACE"
	case ActionDelete:
		return "DELETE"
	default:
		return "NOOP"
	}
}

type PlanRequest struct {
	Type              string
	Name              string
	DesiredConfigJSON []byte
	PriorStateJSON    []byte
}

type PlanResponse struct {
	Action            Action
	ChangedAttributes []string
}

type ApplyRequest struct {
	Type              string
	Name              string
	DesiredConfigJSON []byte
	PriorStateJSON    []byte

	// WriteOnlyJSON carries the resolved write-only argument values for
	// this single invocation. Providers must not echo them into
	// NewStateJSON; the engine scrubs echoes anyway.
	WriteOnlyJSON []byte

	// ChangedWriteOnly names the write-only arguments whose version
	// field changed since the prior snapshot.
	ChangedWriteOnly []string
}

type ApplyResponse struct {
	NewStateJSON []byte
}

type ReadRequest struct {
	Type             string
	ID               string
	CurrentStateJSON []byte
}

type ReadResponse struct {
	Exists       bool
	NewStateJSON []byte
}

type DeleteRequest struct {
	Type             string
	ID               string
	CurrentStateJSON []byte
}

type DeleteResponse struct{}

// OpenRequest asks a provider to produce the values of an ephemeral
// resource. The result lives in memory for one operation only.
type OpenRequest struct {
	Type       string
	Name       string
	ConfigJSON []byte
}

type OpenResponse struct {
	ValuesJSON []byte
}

// Provider is the invocation interface the engine drives. Implementations
// are in-process today; the request/response split keeps the seam ready
// for out-of-process plugins.
type Provider interface {
	Plan(ctx context.Context, req *PlanRequest) (*PlanResponse, error)
	Apply(ctx context.Context, req *ApplyRequest) (*ApplyResponse, error)
	Read(ctx context.Context, req *ReadRequest) (*ReadResponse, error)
	Delete(ctx context.Context, req *DeleteRequest) (*DeleteResponse, error)
	Open(ctx context.Context, req *OpenRequest) (*OpenResponse, error)
}
