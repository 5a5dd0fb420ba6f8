package ir

// Resource represents a single managed resource.
//
// WriteOnly is excluded from JSON so that plan artifacts, which embed the
// desired resource, can never carry a write-only value expression or its
// resolution.
type Resource struct {
	Type       string                   `pkl:"type" json:"type"` // e.g., "null_resource"
	Name       string                   `pkl:"name" json:"name"`
	Provider   string                   `pkl:"provider" json:"provider"`
	Lifecycle  *Lifecycle               `pkl:"lifecycle" json:"lifecycle,omitempty"`
	DependsOn  []string                 `pkl:"dependsOn" json:"dependsOn,omitempty"`
	Count      int                      `pkl:"count" json:"count,omitempty"`
	ForEach    map[string]any           `pkl:"forEach" json:"forEach,omitempty"`
	Timeout    string                   `pkl:"timeout" json:"timeout,omitempty"`
	Properties map[string]any           `pkl:"properties" json:"properties,omitempty"` // Dynamic properties
	WriteOnly  map[string]*WriteOnlyArg `pkl:"writeOnly" json:"-"`
}

// WriteOnlyArg is a resource input whose resolved value is delivered to
// the provider at apply time but excluded from every persisted artifact.
// Version is an ordinary persisted value; changing it signals the
// provider that the write-only value should be treated as updated.
type WriteOnlyArg struct {
	Value   any `pkl:"value"` // literal, ptr:// or eph:// reference
	Version any `pkl:"version"`
}

// EphemeralResource produces values that live only for the duration of
// one operation. It is opened through its provider at apply time and its
// attributes never reach state.
type EphemeralResource struct {
	Type       string         `pkl:"type"` // e.g., "null_secret"
	Name       string         `pkl:"name"`
	Provider   string         `pkl:"provider"`
	Properties map[string]any `pkl:"properties"`
}

type Lifecycle struct {
	CreateBeforeDestroy bool     `pkl:"createBeforeDestroy" json:"createBeforeDestroy,omitempty"`
	PreventDestroy      bool     `pkl:"preventDestroy" json:"preventDestroy,omitempty"`
	IgnoreChanges       []string `pkl:"ignoreChanges" json:"ignoreChanges,omitempty"`
}
