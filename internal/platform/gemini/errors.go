package gemini

import "errors"

var (
	// ErrInvalidConfig is returned when the API key or model name is missing.
	ErrInvalidConfig = errors.New("invalid gemini configuration")

	// ErrInvalidPayload is returned when the task payload cannot be decoded.
	ErrInvalidPayload = errors.New("invalid generate_text payload")

	// ErrEmptyPrompt is returned when the payload carries no prompt.
	ErrEmptyPrompt = errors.New("prompt cannot be empty")

	// ErrInvalidResponse is returned when the API reply has no usable text.
	ErrInvalidResponse = errors.New("invalid response from gemini")

	// ErrContentBlocked is returned when safety filters stop generation.
	ErrContentBlocked = errors.New("content blocked by safety filters")
)
