package services

import (
	"dm-lab/domain"
	"dm-lab/errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// validateCommand checks the struct tags of a command and maps the first failing
// field to the matching validation error.
func validateCommand(cmd domain.Command) error {
	err := validate.Struct(cmd)
	if err == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if errors.As(err, &fieldErrors) && len(fieldErrors) > 0 {
		switch fieldErrors[0].Field() {
		case "ConversationID":
			return errors.ErrInvalidConversationID
		case "Content":
			return errors.ErrEmptyContent
		case "SenderID", "RequesterID", "CallerID", "TargetID":
			return errors.ErrInvalidUserID
		}
	}
	return fmt.Errorf("%w: %w", errors.ErrValidation, err)
}
