package membership

import "errors"

var (
	ErrAlreadyMember    = errors.New("user is already a member")
	ErrTooManyConflicts = errors.New("group changed concurrently too many times")
)
