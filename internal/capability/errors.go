package capability

// Kind is a stable machine-readable detection failure tag.
type Kind string

const (
	KindBinaryNotFound     Kind = "BINARY_NOT_FOUND"
	KindExecFailed         Kind = "EXEC_FAILED"
	KindUnsupportedVersion Kind = "UNSUPPORTED_VERSION"
)

// Error is a detection failure. The engine binary is missing, broken, or
// too old to drive.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return "capability: " + e.Message }
