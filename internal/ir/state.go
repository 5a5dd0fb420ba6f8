package ir

// StateFormatVersion is the newest state format version this build
// understands and writes.
const StateFormatVersion = 1

// State represents the persistent state.
type State struct {
	Version   int              `json:"version"`
	Serial    int              `json:"serial"`
	Lineage   string           `json:"lineage"`
	Resources []*ResourceState `json:"resources"`
	Outputs   map[string]any   `json:"outputs,omitempty"`
}

// ResourceState is the persisted snapshot of a single resource.
// Values bound through write-only arguments are never part of it;
// only their paired version fields are.
type ResourceState struct {
	Type              string         `json:"type"`
	Name              string         `json:"name"`
	Provider          string         `json:"provider"`
	Inputs            map[string]any `json:"inputs,omitempty"` // User provided
	InputsHash        string         `json:"inputsHash,omitempty"`
	Outputs           map[string]any `json:"outputs,omitempty"` // Provider returned
	Dependencies      []string       `json:"dependencies,omitempty"`
	WriteOnlyVersions map[string]any `json:"writeOnlyVersions,omitempty"`
}

// Addr returns the state address of the resource (type.name).
func (r *ResourceState) Addr() string {
	return r.Type + "." + r.Name
}
