package service

import "errors"

// Sentinel errors produced by the generation pipeline. Handlers translate
// them into HTTP statuses; everything else surfaces as a 500.
var (
	// ErrInvalidPrompt rejects empty/whitespace prompts and prompts over
	// the length cap before anything is spent on them.
	ErrInvalidPrompt = errors.New("invalid prompt")

	// ErrInFlight means another generation is already running for this
	// user. Maps to HTTP 409.
	ErrInFlight = errors.New("generation already in flight")

	// ErrQuotaExceeded means the daily generation cap was reached. Maps
	// to HTTP 429 with a retry hint at the UTC day boundary.
	ErrQuotaExceeded = errors.New("daily generation limit reached")
)
