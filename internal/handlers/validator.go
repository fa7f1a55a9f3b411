package handlers

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	apperrors "github.com/MegaGrindStone/typewriter-chat/internal/errors"
	"github.com/MegaGrindStone/typewriter-chat/internal/models"
	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

type chatRequest struct {
	Message string `validate:"required"`
}

// updateSettingsRequest uses pointers so that a missing field is told apart from a zero value.
type updateSettingsRequest struct {
	TypingSpeed    *int `json:"typingSpeed" validate:"required,min=10,max=200"`
	FadeInDuration *int `json:"fadeInDuration" validate:"required,min=100,max=1000"`
	FadeInDelay    *int `json:"fadeInDelay" validate:"required,min=0,max=200"`
}

func (r updateSettingsRequest) settings() models.Settings {
	return models.Settings{
		TypingSpeed:    *r.TypingSpeed,
		FadeInDuration: *r.FadeInDuration,
		FadeInDelay:    *r.FadeInDelay,
	}
}

// validateRequest checks payload against its validate tags. A failure is returned as
// ErrValidation listing every offending field.
func validateRequest(payload any) error {
	err := validatorInstance().Struct(payload)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("%w: %s", apperrors.ErrValidation, err.Error())
	}

	messages := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		if fieldErr.Param() == "" {
			messages = append(messages, fmt.Sprintf("field '%s' failed on the '%s' tag", fieldErr.Field(), fieldErr.Tag()))
			continue
		}
		messages = append(messages, fmt.Sprintf("field '%s' must satisfy %s=%s",
			fieldErr.Field(), fieldErr.Tag(), fieldErr.Param()))
	}
	return fmt.Errorf("%w: %s", apperrors.ErrValidation, strings.Join(messages, "; "))
}
