package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUsage          = errors.New("usage error")
	ErrConfiguration  = errors.New("configuration error")
	ErrSource         = errors.New("source error")
	ErrExternalTool   = errors.New("external tool error")
	ErrSchema         = errors.New("schema error")
	ErrDeterminism    = errors.New("determinism error")
	ErrQualityGate    = errors.New("quality gate blocked")
	ErrLockContention = errors.New("lock contention")
	ErrContractDrift  = errors.New("contract drift")
	ErrStopCondition  = errors.New("stop condition")
	ErrValidation     = errors.New("validation error")
	ErrNotFound       = errors.New("not found")
)

// Process exit codes. Each fatal category gets its own code so wrappers can
// branch on the failure class without parsing output.
const (
	ExitOK             = 0
	ExitFailure        = 1
	ExitUsage          = 2
	ExitSource         = 10
	ExitSchema         = 11
	ExitDeterminism    = 12
	ExitQualityGate    = 13
	ExitLockContention = 14
	ExitContractDrift  = 15
	ExitStopCondition  = 16
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later exit-code classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrValidation
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// ExitCode maps an error onto the process exit code for its failure class.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrUsage):
		return ExitUsage
	case errors.Is(err, ErrLockContention):
		return ExitLockContention
	case errors.Is(err, ErrContractDrift):
		return ExitContractDrift
	case errors.Is(err, ErrStopCondition):
		return ExitStopCondition
	case errors.Is(err, ErrDeterminism):
		return ExitDeterminism
	case errors.Is(err, ErrSchema):
		return ExitSchema
	case errors.Is(err, ErrQualityGate):
		return ExitQualityGate
	case errors.Is(err, ErrSource), errors.Is(err, ErrConfiguration), errors.Is(err, ErrExternalTool):
		return ExitSource
	default:
		return ExitFailure
	}
}

// ErrorDetails splits an error into its failure class label and message.
type ErrorDetails struct {
	Kind    string
	Message string
}

var markers = []error{
	ErrUsage, ErrConfiguration, ErrSource, ErrExternalTool, ErrSchema,
	ErrDeterminism, ErrQualityGate, ErrLockContention, ErrContractDrift,
	ErrStopCondition, ErrValidation, ErrNotFound,
}

// Details extracts the marker label and the remaining message from err.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	msg := err.Error()
	for _, marker := range markers {
		if !errors.Is(err, marker) {
			continue
		}
		label := marker.Error()
		return ErrorDetails{
			Kind:    label,
			Message: strings.TrimSpace(strings.TrimPrefix(msg, label+":")),
		}
	}
	return ErrorDetails{Kind: "error", Message: msg}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "pipeline failure"
	}
	return strings.Join(parts, ": ")
}
