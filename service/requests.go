package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// CreateBetRequest carries everything needed to open a new bet
type CreateBetRequest struct {
	GroupID     int64     `json:"groupId" validate:"required"`
	CreatorID   int64     `json:"creatorId" validate:"required"`
	Question    string    `json:"question" validate:"required,max=500"`
	Options     []string  `json:"options" validate:"min=2,max=20,dive,required,max=200"`
	WagerAmount int64     `json:"wagerAmount" validate:"gt=0"`
	ExpiresAt   time.Time `json:"expiresAt" validate:"required"`
}

// EditBetRequest changes the question or option texts of an open bet
type EditBetRequest struct {
	BetID       int64            `json:"betId" validate:"required"`
	RequesterID int64            `json:"requesterId" validate:"required"`
	Question    *string          `json:"question,omitempty" validate:"omitempty,max=500"`
	OptionTexts map[int64]string `json:"optionTexts,omitempty" validate:"omitempty,dive,required,max=200"`
}

// PlaceBetRequest joins a user to one option of a bet
type PlaceBetRequest struct {
	BetID    int64 `json:"betId" validate:"required"`
	UserID   int64 `json:"userId" validate:"required"`
	OptionID int64 `json:"optionId" validate:"required"`
}

// ResolveBetRequest names the winning option of a bet
type ResolveBetRequest struct {
	BetID           int64 `json:"betId" validate:"required"`
	RequesterID     int64 `json:"requesterId" validate:"required"`
	WinningOptionID int64 `json:"winningOptionId" validate:"required"`
}

// validateRequest runs the struct tags once before any mutation and turns the
// result into a validation error naming every offending field
func validateRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return wrapError(KindValidation, err, "invalid request")
	}

	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		problems = append(problems, describeFieldError(fe))
	}
	return newError(KindValidation, "invalid request: %s", strings.Join(problems, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	field := fe.Namespace()
	if idx := strings.Index(field, "."); idx >= 0 {
		field = field[idx+1:]
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must have at least %s entries", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s exceeds maximum of %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}

// normalizeOptions trims option texts and rejects blanks and case-insensitive duplicates
func normalizeOptions(options []string) ([]string, error) {
	seen := make(map[string]struct{}, len(options))
	out := make([]string, 0, len(options))
	for i, option := range options {
		text := strings.TrimSpace(option)
		if text == "" {
			return nil, newError(KindValidation, "option %d cannot be empty", i+1)
		}
		key := strings.ToLower(text)
		if _, dup := seen[key]; dup {
			return nil, newError(KindValidation, "duplicate option %q", text)
		}
		seen[key] = struct{}{}
		out = append(out, text)
	}
	return out, nil
}
