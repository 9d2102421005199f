// Package glm talks to the upstream GLM chat-completion and image-generation
// endpoints. Both calls share one retrying transport that separates
// content-policy rejections (never retried) from transient failures
// (retried with exponential backoff).
package glm

import "errors"

// ErrPolicyViolation is returned when the upstream provider rejects a
// prompt for content-policy reasons. It is surfaced immediately, without
// retries, so callers can record a moderation event.
var ErrPolicyViolation = errors.New("content policy violation")

// ErrUpstream is returned when an upstream call still fails after all
// retries were spent.
var ErrUpstream = errors.New("upstream request failed")

// ErrEmptyResponse is returned when the upstream call succeeded but the
// response carried no usable content.
var ErrEmptyResponse = errors.New("empty upstream response")
