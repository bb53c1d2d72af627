package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency.

var (
	// Store errors (§4.1, §7).
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrSchemaMismatch   = errors.New("store schema mismatch")
	ErrIntegrityFailure = errors.New("store integrity failure")

	// Fetch/catalog errors.
	ErrNetworkFailure = errors.New("network failure")
	ErrRemoteMissing  = errors.New("remote resource missing")

	// Inference supervisor errors (§4.4, §7).
	ErrCancelledByUser = errors.New("cancelled by user")
	ErrOutOfMemory      = errors.New("out of GPU memory")

	// Control API errors — map directly onto HTTP status codes in internal/api.
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrBusy            = errors.New("busy")
)

// ModelLoadingError is raised when the inference child exits with the
// reserved model-loading failure code (1024). It propagates up through
// the supervisor, which marks the affected row as errored and stops its
// loop; the control plane then exits with the model-loading exit class,
// on which the launcher restarts it without reconciling.
type ModelLoadingError struct {
	Message string
}

func (e *ModelLoadingError) Error() string { return e.Message }

// ChildFailedError wraps a non-zero, non-reserved exit code from the
// inference child.
type ChildFailedError struct {
	Code    int
	Message string
}

func (e *ChildFailedError) Error() string { return e.Message }

// User-visible failure strings. Fixed by contract (§7) — do not reword.
const (
	MsgPreparingOOM = "There is not enough available memory to load the AI model."
	MsgRuntimeOOM   = "The system ran out of memory while running the AI model."
)

// ModelFileMissing formats the fixed "model file does not exist" message.
func ModelFileMissing(repo, path string) string {
	return "Model file does not exist: " + repo + ": " + path
}
