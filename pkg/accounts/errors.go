package accounts

import "errors"

// Account store errors.
var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrDuplicateAccount = errors.New("account already exists")
	ErrAccountDisabled  = errors.New("account is disabled")
	ErrEmptyPassword    = errors.New("password must not be empty")
)
