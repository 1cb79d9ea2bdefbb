package bankgo

import (
	"errors"
	"fmt"
)

var (
	ErrInternalServer = errors.New("internal server error")
	ErrUnauthorized   = errors.New("invalid credentials")
	ErrOverCapacity   = errors.New("server over capacity")
)

type ErrBadRequest struct {
	Fields map[string]string `json:"fields"`
}

func (e ErrBadRequest) Error() string {
	return fmt.Sprintf("missing/invalid params: %v", e.Fields)
}

type ErrNotFound struct {
	ID       int64  `json:"id,omitempty"`
	Resource string `json:"resource,omitempty"`
}

func (e ErrNotFound) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return "record not found"
}

type ErrInsufficientFunds struct {
	AcctID int64 `json:"acct_id"`
}

func (e ErrInsufficientFunds) Error() string {
	return "insufficient balance for requested amount"
}

type ErrConflict struct {
	Resource string `json:"resource"`
}

func (e ErrConflict) Error() string {
	return fmt.Sprintf("conflict on %s", e.Resource)
}

// ErrStorage wraps failures of the underlying store. Operations that
// return it have made no partial change to accounts or ledger.
type ErrStorage struct {
	Op  string
	Err error
}

func (e ErrStorage) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e ErrStorage) Unwrap() error {
	return e.Err
}
