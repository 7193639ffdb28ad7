package database

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var usernameRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Limits bounds the size of usernames and message bodies (in characters)
type Limits struct {
	MaxUsernameLength int
	MaxMessageLength  int
}

// DefaultLimits returns the limits used when none are configured
func DefaultLimits() Limits {
	return Limits{
		MaxUsernameLength: 20,
		MaxMessageLength:  500,
	}
}

func (l Limits) orDefaults() Limits {
	d := DefaultLimits()
	if l.MaxUsernameLength <= 0 {
		l.MaxUsernameLength = d.MaxUsernameLength
	}
	if l.MaxMessageLength <= 0 {
		l.MaxMessageLength = d.MaxMessageLength
	}
	return l
}

// Validator checks usernames and message bodies before anything reaches a store
type Validator struct {
	validate    *validator.Validate
	limits      Limits
	usernameTag string
	bodyTag     string
}

// NewValidator creates a validator for the given limits (zero fields fall back to defaults)
func NewValidator(limits Limits) *Validator {
	limits = limits.orDefaults()

	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("chatname", func(fl validator.FieldLevel) bool {
		return usernameRegex.MatchString(fl.Field().String())
	})

	return &Validator{
		validate:    v,
		limits:      limits,
		usernameTag: fmt.Sprintf("required,max=%d,chatname", limits.MaxUsernameLength),
		bodyTag:     fmt.Sprintf("required,max=%d", limits.MaxMessageLength),
	}
}

// Limits returns the effective limits
func (v *Validator) Limits() Limits {
	return v.limits
}

// Username validates a username as-is. Surrounding whitespace is not trimmed
// and therefore rejected by the character rule.
func (v *Validator) Username(name string) error {
	err := v.validate.Var(name, v.usernameTag)
	if err == nil {
		return nil
	}
	reason := ReasonInvalidUsername
	if failedTag(err) == "max" {
		reason = ReasonUsernameTooLong
	}
	return &ValidationError{Field: "username", Reason: reason}
}

// Body trims a message body and validates the result, returning the trimmed body
func (v *Validator) Body(body string) (string, error) {
	trimmed := strings.TrimSpace(body)
	err := v.validate.Var(trimmed, v.bodyTag)
	if err == nil {
		return trimmed, nil
	}
	reason := ReasonEmptyMessage
	if failedTag(err) == "max" {
		reason = ReasonMessageTooLong
	}
	return "", &ValidationError{Field: "message", Reason: reason}
}

func failedTag(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return verrs[0].Tag()
	}
	return ""
}
