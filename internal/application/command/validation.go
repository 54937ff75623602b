// Package command contains write operations (CQRS - Commands): manual
// awards, revocations, acknowledgements and achievement definitions.
package command

import (
	"github.com/go-playground/validator/v10"

	"github.com/classvest/achievement-engine/internal/domain/shared"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateCommand runs struct-tag validation and wraps failures as
// shared.ErrInvalidInput for the named operation.
func validateCommand(op string, cmd any) error {
	if err := validate.Struct(cmd); err != nil {
		return shared.WrapError("command", op, shared.ErrInvalidInput, "invalid command", err)
	}
	return nil
}
