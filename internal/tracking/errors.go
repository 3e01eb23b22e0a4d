package tracking

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound      = errors.New("package not found")
	ErrAlreadyExists = errors.New("package already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrOwnerRequired = errors.New("ownerUserId required for admin-created packages")
	ErrOwnerNotFound = errors.New("ownerUserId not found")
	ErrForbidden     = errors.New("not the package owner")
	ErrUserNotFound  = errors.New("user not found")
)

// FieldError describes one rejected request field.
type FieldError struct {
	Location string `json:"location"`
	Path     string `json:"path"`
	Msg      string `json:"msg"`
	Value    any    `json:"value,omitempty"`
}

// FieldErrors is returned when boundary validation fails. It unwraps to ErrInvalidInput.
type FieldErrors []FieldError

func (fe FieldErrors) Error() string {
	msgs := make([]string, 0, len(fe))
	for _, e := range fe {
		msgs = append(msgs, fmt.Sprintf("%s: %s", e.Path, e.Msg))
	}
	return "invalid input: " + strings.Join(msgs, "; ")
}

func (fe FieldErrors) Unwrap() error { return ErrInvalidInput }
