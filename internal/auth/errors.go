package auth

import "errors"

// ErrNoCredentials indicates no usable OAuth credentials are available.
// Surfaced to clients as an authentication error; the gateway never retries.
var ErrNoCredentials = errors.New("no valid OAuth credentials; run `llmux login`")
