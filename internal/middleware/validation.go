package middleware

import (
	"errors"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ValidatePrompt validates prompt text supplied with a run request.
func ValidatePrompt(prompt string) error {
	if len(prompt) > 100000 { // ~100KB limit
		return errors.New("prompt exceeds maximum length")
	}
	if !utf8.ValidString(prompt) {
		return errors.New("prompt must be valid UTF-8")
	}
	return nil
}

// ValidateID validates any uuid-shaped resource id (node, edge, thread).
func ValidateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid id format")
	}
	return nil
}

// ValidateInstruction validates a node's configured instruction.
func ValidateInstruction(instruction string) error {
	if len(instruction) > 10000 {
		return errors.New("instruction exceeds maximum length")
	}
	if !utf8.ValidString(instruction) {
		return errors.New("instruction must be valid UTF-8")
	}
	return nil
}

// ValidatePreamble validates a brand voice preamble.
func ValidatePreamble(preamble string) error {
	if len(preamble) > 10000 {
		return errors.New("preamble exceeds maximum length")
	}
	if !utf8.ValidString(preamble) {
		return errors.New("preamble must be valid UTF-8")
	}
	return nil
}
