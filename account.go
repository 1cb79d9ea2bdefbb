package bankgo

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TxnDeposit  TransactionType = "DEPOSIT"
	TxnWithdraw TransactionType = "WITHDRAW"
	TxnTransfer TransactionType = "TRANSFER"
)

// Account is a balance-holding record owned by exactly one user.
// Balance is mutated only through the Service charge operations.
type Account struct {
	AcctID      snowflake.ID
	Username    string
	OpeningDate time.Time
	Balance     decimal.Decimal
}

// Transaction is one recorded balance-affecting event. Entries are
// append-only: once written they are never mutated or deleted. A
// transfer records a single entry against the sender account.
type Transaction struct {
	ID         snowflake.ID
	AcctID     snowflake.ID
	Type       TransactionType
	Amount     decimal.Decimal
	OccurredAt time.Time
}

type AccountView struct {
	AcctID      string          `json:"account_id"`
	OpeningDate time.Time       `json:"opening_date"`
	Balance     decimal.Decimal `json:"balance"`
}

type TransactionView struct {
	ID         string          `json:"id"`
	AccountID  string          `json:"account_id"`
	Type       TransactionType `json:"type"`
	Amount     decimal.Decimal `json:"amount"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// TransactionPage is one page of an account's history, ordered by
// (OccurredAt, ID) ascending. The ordering is total, so paging never
// duplicates or skips entries under concurrent appends.
type TransactionPage struct {
	Items []TransactionView `json:"items"`
	Page  int               `json:"page"`
	Size  int               `json:"size"`
	Total int64             `json:"total"`
}

func newAccountView(acct *Account) *AccountView {
	return &AccountView{
		AcctID:      acct.AcctID.String(),
		OpeningDate: acct.OpeningDate,
		Balance:     acct.Balance,
	}
}

func newTransactionView(txn Transaction) TransactionView {
	return TransactionView{
		ID:         txn.ID.String(),
		AccountID:  txn.AcctID.String(),
		Type:       txn.Type,
		Amount:     txn.Amount,
		OccurredAt: txn.OccurredAt,
	}
}
