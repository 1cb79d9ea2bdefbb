package bankgo

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type CreateAccountReq struct {
	AcctID   snowflake.ID
	Username string
}

// Repository is the durable keyed store for accounts plus the
// append-only ledger. Credit, Debit, and Transfer are atomic units:
// the balance mutation(s) and the ledger append commit together or
// not at all, and concurrent calls against the same account serialize.
type Repository interface {
	CreateAccount(ctx context.Context, req CreateAccountReq) (*Account, error)
	GetAccount(ctx context.Context, id snowflake.ID) (*Account, error)
	GetUserAccount(ctx context.Context, id snowflake.ID, username string) (*Account, error)
	// Credit adds amount to the account balance and appends a DEPOSIT
	// entry. Returns the new balance and the appended entry.
	Credit(ctx context.Context, id snowflake.ID, amount decimal.Decimal) (*decimal.Decimal, *Transaction, error)
	// Debit subtracts amount from the account balance and appends a
	// WITHDRAW entry. Fails with ErrInsufficientFunds when the balance
	// under lock is less than amount; nothing is written in that case.
	Debit(ctx context.Context, id snowflake.ID, amount decimal.Decimal) (*decimal.Decimal, *Transaction, error)
	// Transfer moves amount from sender to receiver and appends a single
	// TRANSFER entry against the sender. Both accounts are locked in
	// ascending id order for the duration of the update.
	Transfer(ctx context.Context, sender, receiver snowflake.ID, amount decimal.Decimal) (*decimal.Decimal, *Transaction, error)
	// ListTransactions returns one page of the account's history scoped
	// to the owning username, ordered by (occurred_at, id) ascending.
	// An account owned by someone else yields an empty page, not an error.
	ListTransactions(ctx context.Context, id snowflake.ID, username string, page, size int) (*TransactionPage, error)
}

// UserRepository is the keyed store for user profiles. Usernames are
// unique; creation and renames fail with ErrConflict on a taken name.
type UserRepository interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, username string) (*User, error)
	UpdateUser(ctx context.Context, username string, u *User) error
	UpdatePassword(ctx context.Context, username string, hash []byte) error
}
