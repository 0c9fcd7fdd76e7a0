// Package validate provides shared validation functions.
package validate

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

// Required validates a value is non-empty after trimming whitespace.
func Required(label, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", label)
	}
	return nil
}

// Email validates a bare email address such as "ada@example.com".
func Email(value string) error {
	value = strings.TrimSpace(value)
	if err := Required("email", value); err != nil {
		return err
	}

	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		return fmt.Errorf("%q is not a valid email address", value)
	}
	return nil
}

// Namespace validates a store namespace, which becomes a file name.
func Namespace(value string) error {
	switch {
	case value == "":
		return errors.New("cannot be empty")
	case value == "." || value == "..", strings.ContainsAny(value, `/\`):
		return fmt.Errorf("%q must be a plain name", value)
	}
	return nil
}
