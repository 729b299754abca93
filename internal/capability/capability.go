package capability

// Capability is a declared tag from a fixed vocabulary gating which event
// types a node may act on.
type Capability string

const (
	Process Capability = "process"
	Execute Capability = "execute"
	Route   Capability = "route"
	Monitor Capability = "monitor"
	Control Capability = "control"
	Learn   Capability = "learn"
	Store   Capability = "store"
	Analyze Capability = "analyze"
	Custom  Capability = "custom"
)

// Known reports whether c belongs to the fixed vocabulary.
func Known(c Capability) bool {
	switch c {
	case Process, Execute, Route, Monitor, Control, Learn, Store, Analyze, Custom:
		return true
	}
	return false
}

// Strings converts a capability slice for wire payloads.
func Strings(caps []Capability) []string {
	out := make([]string, 0, len(caps))
	for _, c := range caps {
		out = append(out, string(c))
	}
	return out
}

// FromStrings converts wire payloads back to capabilities.
func FromStrings(raw []string) []Capability {
	out := make([]Capability, 0, len(raw))
	for _, s := range raw {
		out = append(out, Capability(s))
	}
	return out
}
