package token

import "errors"

// Public, stable errors for callers.
var (
	ErrSecretMissing     = errors.New("connect token secret missing")
	ErrSecretTooShort    = errors.New("connect token secret too short")
	ErrSecretPlaceholder = errors.New("connect token secret is the example placeholder")
)
