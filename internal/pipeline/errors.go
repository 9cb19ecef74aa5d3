package pipeline

import "github.com/c29m/webhttp/internal/faults"

// Configuration error codes, raised while declaring bindings or by Initialize.
const (
	CodeUnknownArgument    faults.Code = "UNKNOWN_ARGUMENT"
	CodeAlreadyBound       faults.Code = "ALREADY_BOUND"
	CodeNotInCollection    faults.Code = "NOT_IN_COLLECTION"
	CodeTypeMismatch       faults.Code = "TYPE_MISMATCH"
	CodeOrderingViolated   faults.Code = "ORDERING_VIOLATED"
	CodeWrongDirection     faults.Code = "WRONG_DIRECTION"
	CodeAlreadyInitialized faults.Code = "ALREADY_INITIALIZED"
	CodeNotBound           faults.Code = "NOT_BOUND"
	CodeUnboundInput       faults.Code = "UNBOUND_INPUT"
	CodeUnboundOutput      faults.Code = "UNBOUND_OUTPUT"
	CodeCycle              faults.Code = "CYCLE"
	CodePipelineInvalid    faults.Code = "PIPELINE_INVALID"
)

// Contract error codes, raised by Execute.
const (
	CodeNotInitialized    faults.Code = "NOT_INITIALIZED"
	CodeArgumentCount     faults.Code = "ARGUMENT_COUNT"
	CodeProcessorContract faults.Code = "PROCESSOR_CONTRACT"
	CodeProcessorFailed   faults.Code = "PROCESSOR_FAILED"
)

// IsPipelineInvalid reports whether err came from a failed Initialize.
func IsPipelineInvalid(err error) bool {
	return faults.HasCode(err, CodePipelineInvalid)
}

// IsContractViolation reports whether err is a runtime contract violation.
func IsContractViolation(err error) bool {
	return faults.Is(err, faults.KindContract)
}
