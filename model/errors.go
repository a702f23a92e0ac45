package model

import "fmt"

// ValidationError marks user-correctable schema mismatches in submitted
// parameters or definitions.
type ValidationError struct {
	Message string
}

func (e ValidationError) Error() string {
	return e.Message
}

type NotFoundError struct {
	Entity string
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// StateConflictError is returned when an action is incompatible with the
// current instance or stage status.
type StateConflictError struct {
	Message string
}

func (e StateConflictError) Error() string {
	return e.Message
}

// ConnectorError wraps an external call failure. For automatic stages it is
// captured into stage state; for interactive completions it propagates.
type ConnectorError struct {
	Type    ConnectorType
	Message string
}

func (e ConnectorError) Error() string {
	return fmt.Sprintf("[%s] connector error: %s", e.Type, e.Message)
}

// ExpressionError marks a malformed gateway condition. It is caught by the
// router, which falls through to the gateway's default route.
type ExpressionError struct {
	Message string
}

func (e ExpressionError) Error() string {
	return e.Message
}

type DefinitionInvalidError struct {
	Message string
}

func (e DefinitionInvalidError) Error() string {
	return e.Message
}
