package params

// Kind is a stable machine-readable resolution failure tag.
type Kind string

const (
	KindUnsupportedHardware Kind = "UNSUPPORTED_HARDWARE"
	KindIncompatibleFormat  Kind = "INCOMPATIBLE_FORMAT"
)

// Error is a resolution failure, surfaced synchronously before a job is
// ever queued.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return "resolve: " + e.Message }
