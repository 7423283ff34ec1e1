package stats

import "errors"

// Sentinel errors for the stats service layer.
var (
	ErrCredentialMissing = errors.New("user has no remote-source credential")
	ErrUserNotFound      = errors.New("user not found")
	ErrInvalidAction     = errors.New("invalid stat action")
)
