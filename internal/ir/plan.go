package ir

// Plan represents a calculated execution plan.
type Plan struct {
	Metadata *PlanMetadata     `json:"metadata"`
	Changes  []*ResourceChange `json:"changes"`
	Summary  *PlanSummary      `json:"summary"`
	Outputs  map[string]any    `json:"outputs,omitempty"`
}

type PlanMetadata struct {
	Timestamp      string  `json:"timestamp"`
	ConfigHash     string  `json:"configHash,omitempty"`
	PriorStateHash *string `json:"priorStateHash,omitempty"`
}

type ResourceChange struct {
	Address string                   `json:"address"`
	Action  string                   `json:"action"` // "CREATE", "UPDATE", "DELETE", "REPLACE", "NOOP"
	Desired *Resource                `json:"resource,omitempty"`
	Prior   *Resource                `json:"prior,omitempty"`
	Diff    map[string]*PropertyDiff `json:"diff,omitempty"`

	// ChangedWriteOnly lists write-only argument names whose version
	// field differs from the prior snapshot. The resolved values are
	// resent to the provider on every apply regardless; this is the
	// "treat as a meaningful update" signal.
	ChangedWriteOnly []string `json:"changedWriteOnly,omitempty"`
}

type PropertyDiff struct {
	Before            any    `json:"before,omitempty"`
	After             any    `json:"after,omitempty"`
	Sensitive         bool   `json:"sensitive,omitempty"`
	ForcesReplacement bool   `json:"forcesReplacement,omitempty"`
	Action            string `json:"action"` // "create", "update", "delete", "noop"
}

type PlanSummary struct {
	Create  int `json:"create"`
	Update  int `json:"update"`
	Delete  int `json:"delete"`
	Replace int `json:"replace"`
	NoOp    int `json:"noop"`
}
