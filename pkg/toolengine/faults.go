package toolengine

import "fmt"

// FaultCode identifies why a tool call was rejected or failed.
type FaultCode string

const (
	// Validation fault codes. These reject a call before any side effect.
	FaultUnknownTool     FaultCode = "unknown_tool"
	FaultNotAuthorized   FaultCode = "not_authorized"
	FaultSchemaViolation FaultCode = "schema_violation"

	// Execution fault codes. These abort a call that already started.
	FaultTimeout       FaultCode = "timeout"
	FaultPathEscape    FaultCode = "path_escape"
	FaultProcessFailed FaultCode = "process_failed"
)

// ValidationFault rejects a tool call before execution. No side
// effect has happened when one is returned.
type ValidationFault struct {
	Code   FaultCode
	Tool   string
	Detail string
}

func (f *ValidationFault) Error() string {
	return fmt.Sprintf("tool %s rejected (%s): %s", f.Tool, f.Code, f.Detail)
}

// ExecutionFault aborts a tool call that was already dispatched.
type ExecutionFault struct {
	Code   FaultCode
	Tool   string
	Detail string
	Err    error
}

func (f *ExecutionFault) Error() string {
	return fmt.Sprintf("tool %s failed (%s): %s", f.Tool, f.Code, f.Detail)
}

func (f *ExecutionFault) Unwrap() error { return f.Err }
