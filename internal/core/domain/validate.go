package domain

import (
	"fmt"
	"unicode/utf8"
)

// Field limits shared by bounty and service input.
const (
	MinTitleLength        = 3
	MaxTitleLength        = 200
	MinDescriptionLength  = 10
	MaxDescriptionLength  = 5000
	MaxNameLength         = 100
	MaxServiceNameLength  = 200
	MaxTagLength          = 500
	MaxURLLength          = 500
	MaxRequirementsLength = 2000
	MaxLocationLength     = 200
	MaxWalletLength       = 42
	MaxOfferingLength     = 200
	MaxJobIDLength        = 100
	MaxBudget             = 1_000_000.0
	MaxPrice              = 1_000_000.0
)

// CheckLength validates the rune length of a required or optional field.
func CheckLength(field, value string, min, max int) error {
	n := utf8.RuneCountInString(value)
	if n < min {
		if min == 1 {
			return fmt.Errorf("%w: %s is required", ErrInvalidInput, field)
		}
		return fmt.Errorf("%w: %s must be at least %d characters", ErrInvalidInput, field, min)
	}
	if n > max {
		return fmt.Errorf("%w: %s must be at most %d characters", ErrInvalidInput, field, max)
	}
	return nil
}

// CheckOptional validates an optional field only when it is present.
func CheckOptional(field string, value *string, max int) error {
	if value == nil {
		return nil
	}
	return CheckLength(field, *value, 0, max)
}

// CheckAmount validates that 0 < v <= max.
func CheckAmount(field string, v, max float64) error {
	if !(v > 0) {
		return fmt.Errorf("%w: %s must be greater than 0", ErrInvalidInput, field)
	}
	if v > max {
		return fmt.Errorf("%w: %s must be at most %.0f", ErrInvalidInput, field, max)
	}
	return nil
}

func CheckCategory(c Category) error {
	if !c.Valid() {
		return fmt.Errorf("%w: invalid category %q, must be one of: digital, physical", ErrInvalidInput, c)
	}
	return nil
}
