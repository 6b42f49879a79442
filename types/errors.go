package types

import "errors"

// Domain sentinel errors. Callers wrap these with fmt.Errorf("...: %w", err)
// to add context; api/api.go maps them to the api.Error values defined in
// api/errors_definition.go.
var (
	ErrDuplicateReference = errors.New("DUPLICATE_REFERENCE")
	ErrDuplicateSession   = errors.New("duplicate session id")
	ErrGatewayUnreachable = errors.New("GATEWAY_UNREACHABLE")
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransition  = errors.New("invalid state transition")
	ErrAlreadyProcessed   = errors.New("callback already processed")
)
