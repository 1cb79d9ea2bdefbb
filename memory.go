package bankgo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// MemoryEndpoint is an in-memory Repository and UserRepository, used by
// the seeder and by tests. Every charge operation holds the per-account
// mutex for the full read-modify-write-append sequence; transfers lock
// both accounts in ascending id order regardless of role, so opposing
// transfers between the same pair cannot deadlock.
type MemoryEndpoint struct {
	node *snowflake.Node

	mu    sync.RWMutex
	accts map[snowflake.ID]*memAccount
	users map[string]User
}

type memAccount struct {
	mu   sync.Mutex
	acct Account
	txns []Transaction
}

var (
	_ Repository     = (*MemoryEndpoint)(nil)
	_ UserRepository = (*MemoryEndpoint)(nil)
)

func NewMemoryEndpoint(node *snowflake.Node) *MemoryEndpoint {
	return &MemoryEndpoint{
		node:  node,
		accts: make(map[snowflake.ID]*memAccount),
		users: make(map[string]User),
	}
}

func (m *MemoryEndpoint) CreateAccount(ctx context.Context, req CreateAccountReq) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accts[req.AcctID]; ok {
		return nil, ErrConflict{Resource: "account"}
	}
	acct := Account{
		AcctID:      req.AcctID,
		Username:    req.Username,
		OpeningDate: time.Now().UTC(),
		Balance:     decimal.Zero,
	}
	m.accts[req.AcctID] = &memAccount{acct: acct}
	return &acct, nil
}

func (m *MemoryEndpoint) GetAccount(ctx context.Context, id snowflake.ID) (*Account, error) {
	ma, ok := m.lookup(id)
	if !ok {
		return nil, ErrNotFound{ID: id.Int64()}
	}
	ma.mu.Lock()
	defer ma.mu.Unlock()
	acct := ma.acct
	return &acct, nil
}

func (m *MemoryEndpoint) GetUserAccount(ctx context.Context, id snowflake.ID, username string) (*Account, error) {
	acct, err := m.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if acct.Username != username {
		return nil, ErrNotFound{ID: id.Int64()}
	}
	return acct, nil
}

func (m *MemoryEndpoint) Credit(ctx context.Context, id snowflake.ID, amount decimal.Decimal) (*decimal.Decimal, *Transaction, error) {
	ma, ok := m.lookup(id)
	if !ok {
		return nil, nil, ErrNotFound{ID: id.Int64()}
	}
	ma.mu.Lock()
	defer ma.mu.Unlock()

	ma.acct.Balance = ma.acct.Balance.Add(amount)
	txn := m.append(ma, TxnDeposit, amount)
	bal := ma.acct.Balance
	return &bal, &txn, nil
}

func (m *MemoryEndpoint) Debit(ctx context.Context, id snowflake.ID, amount decimal.Decimal) (*decimal.Decimal, *Transaction, error) {
	ma, ok := m.lookup(id)
	if !ok {
		return nil, nil, ErrNotFound{ID: id.Int64()}
	}
	ma.mu.Lock()
	defer ma.mu.Unlock()

	if ma.acct.Balance.LessThan(amount) {
		return nil, nil, ErrInsufficientFunds{AcctID: id.Int64()}
	}
	ma.acct.Balance = ma.acct.Balance.Sub(amount)
	txn := m.append(ma, TxnWithdraw, amount)
	bal := ma.acct.Balance
	return &bal, &txn, nil
}

func (m *MemoryEndpoint) Transfer(ctx context.Context, sender, receiver snowflake.ID, amount decimal.Decimal) (*decimal.Decimal, *Transaction, error) {
	snd, ok := m.lookup(sender)
	if !ok {
		return nil, nil, ErrNotFound{ID: sender.Int64()}
	}
	rcv, ok := m.lookup(receiver)
	if !ok {
		return nil, nil, ErrNotFound{ID: receiver.Int64(), Resource: "receiver account"}
	}

	// fixed global lock order: ascending account id
	lo, hi := snd, rcv
	if rcv.acct.AcctID < snd.acct.AcctID {
		lo, hi = rcv, snd
	}
	lo.mu.Lock()
	defer lo.mu.Unlock()
	hi.mu.Lock()
	defer hi.mu.Unlock()

	if snd.acct.Balance.LessThan(amount) {
		return nil, nil, ErrInsufficientFunds{AcctID: sender.Int64()}
	}
	snd.acct.Balance = snd.acct.Balance.Sub(amount)
	rcv.acct.Balance = rcv.acct.Balance.Add(amount)
	txn := m.append(snd, TxnTransfer, amount)
	bal := snd.acct.Balance
	return &bal, &txn, nil
}

func (m *MemoryEndpoint) ListTransactions(ctx context.Context, id snowflake.ID, username string, page, size int) (*TransactionPage, error) {
	empty := &TransactionPage{Items: []TransactionView{}, Page: page, Size: size}
	ma, ok := m.lookup(id)
	if !ok {
		return empty, nil
	}
	ma.mu.Lock()
	if ma.acct.Username != username {
		ma.mu.Unlock()
		return empty, nil
	}
	txns := make([]Transaction, len(ma.txns))
	copy(txns, ma.txns)
	ma.mu.Unlock()

	sort.SliceStable(txns, func(i, j int) bool {
		if txns[i].OccurredAt.Equal(txns[j].OccurredAt) {
			return txns[i].ID < txns[j].ID
		}
		return txns[i].OccurredAt.Before(txns[j].OccurredAt)
	})

	total := int64(len(txns))
	start := page * size
	if start > len(txns) {
		start = len(txns)
	}
	end := start + size
	if end > len(txns) {
		end = len(txns)
	}
	items := make([]TransactionView, 0, end-start)
	for _, t := range txns[start:end] {
		items = append(items, newTransactionView(t))
	}
	return &TransactionPage{Items: items, Page: page, Size: size, Total: total}, nil
}

func (m *MemoryEndpoint) CreateUser(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.Username]; ok {
		return ErrConflict{Resource: "username"}
	}
	m.users[u.Username] = *u
	return nil
}

func (m *MemoryEndpoint) GetUser(ctx context.Context, username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[username]
	if !ok {
		return nil, ErrNotFound{Resource: "user"}
	}
	return &u, nil
}

func (m *MemoryEndpoint) UpdateUser(ctx context.Context, username string, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.users[username]
	if !ok {
		return ErrNotFound{Resource: "user"}
	}
	if u.Username != username {
		if _, taken := m.users[u.Username]; taken {
			return ErrConflict{Resource: "username"}
		}
		delete(m.users, username)
	}
	u.PasswordHash = cur.PasswordHash
	u.RegistrationDate = cur.RegistrationDate
	m.users[u.Username] = *u
	return nil
}

func (m *MemoryEndpoint) UpdatePassword(ctx context.Context, username string, hash []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return ErrNotFound{Resource: "user"}
	}
	u.PasswordHash = hash
	m.users[username] = u
	return nil
}

func (m *MemoryEndpoint) lookup(id snowflake.ID) (*memAccount, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ma, ok := m.accts[id]
	return ma, ok
}

// append records a ledger entry for the account; callers hold the
// account mutex, which keeps OccurredAt non-decreasing per account.
func (m *MemoryEndpoint) append(ma *memAccount, typ TransactionType, amount decimal.Decimal) Transaction {
	txn := Transaction{
		ID:         m.node.Generate(),
		AcctID:     ma.acct.AcctID,
		Type:       typ,
		Amount:     amount,
		OccurredAt: time.Now().UTC(),
	}
	ma.txns = append(ma.txns, txn)
	return txn
}
