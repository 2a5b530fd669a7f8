package domain

import "errors"

var (
	// ErrTransport covers network and HTTP failures before a provider
	// response could be parsed.
	ErrTransport = errors.New("provider_transport_error")

	// ErrProvider covers structured failures reported by the provider,
	// including a terminal failed job status.
	ErrProvider = errors.New("provider_error")

	// ErrTimeout means the polling loop exhausted its wall-clock budget.
	ErrTimeout = errors.New("provider_timeout")

	// ErrInvalidCredentials is kept distinct so callers can surface a
	// fix-your-API-key message instead of a generic failure.
	ErrInvalidCredentials = errors.New("provider_invalid_credentials")

	// ErrMissingCredentials fails caller construction when neither explicit
	// config nor the environment supplies a secret.
	ErrMissingCredentials = errors.New("provider_missing_credentials")

	ErrProviderNotFound = errors.New("provider_not_found")
)
