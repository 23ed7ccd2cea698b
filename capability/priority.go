package capability

// Priority ranks providers competing for the same contract.
type Priority int

const (
	// PriorityLow marks a provider of last resort.
	PriorityLow Priority = iota
	// PriorityNormal is the default for providers that do not declare one.
	PriorityNormal
	// PriorityHigh marks a preferred provider.
	PriorityHigh
	// PriorityCritical marks a provider that must win selection when present.
	PriorityCritical
)

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParsePriority maps a priority name to its value. Unknown names map to
// PriorityNormal.
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "normal", "":
		return PriorityNormal
	case "high":
		return PriorityHigh
	case "critical":
		return PriorityCritical
	default:
		return PriorityNormal
	}
}
