package ai

import "errors"

// ErrRateLimited indicates the vision provider returned a rate-limit/quota
// error (HTTP 429 or similar). Callers surface it with a dedicated code so
// clients can show a wait-and-retry message instead of a generic failure.
var ErrRateLimited = errors.New("vision model rate limited")
