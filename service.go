package bankgo

import (
	"context"
	"errors"
	"io"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type ChargeReq struct {
	Amount   decimal.Decimal `json:"amount"`
	AcctID   snowflake.ID    `json:"-"`
	Username string          `json:"-"`
}

type TransferReq struct {
	Amount       decimal.Decimal `json:"amount"`
	TargetAcctID snowflake.ID    `json:"target_account_id"`
	AcctID       snowflake.ID    `json:"-"`
	Username     string          `json:"-"`
}

type GetAccountReq struct {
	AcctID   snowflake.ID
	Username string
}

type HistoryReq struct {
	AcctID   snowflake.ID
	Username string
	Page     int
	Size     int
}

type StatementReq struct {
	AcctID   snowflake.ID
	Username string
}

// Service is the sole mutator of account balances and the sole producer
// of ledger entries. Every charge operation is atomic: the balance
// change and its ledger entry are durably visible together or not at all.
type Service interface {
	CreateAccount(ctx context.Context, req CreateAccountReq) (*Account, error)
	GetAccount(ctx context.Context, req GetAccountReq) (*AccountView, error)
	Deposit(ctx context.Context, req ChargeReq) (*decimal.Decimal, error)
	Withdraw(ctx context.Context, req ChargeReq) (*decimal.Decimal, error)
	Transfer(ctx context.Context, req TransferReq) (*decimal.Decimal, error)
	ListTransactions(ctx context.Context, req HistoryReq) (*TransactionPage, error)
	Statement(ctx context.Context, w io.Writer, req StatementReq) error
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func NewService(repo Repository, pub Publisher, log *zerolog.Logger) *serviceImpl {
	if pub == nil {
		pub = NopPublisher{}
	}
	return &serviceImpl{
		repo: repo,
		pub:  pub,
		log:  log,
	}
}

type serviceImpl struct {
	repo Repository
	pub  Publisher
	log  *zerolog.Logger
}

var (
	_ Service = (*serviceImpl)(nil)
)

func (s *serviceImpl) CreateAccount(ctx context.Context, req CreateAccountReq) (*Account, error) {
	return s.repo.CreateAccount(ctx, req)
}

func (s *serviceImpl) GetAccount(ctx context.Context, req GetAccountReq) (*AccountView, error) {
	acct, err := s.repo.GetUserAccount(ctx, req.AcctID, req.Username)
	if err != nil {
		return nil, err
	}
	return newAccountView(acct), nil
}

func (s *serviceImpl) Deposit(ctx context.Context, req ChargeReq) (*decimal.Decimal, error) {
	if err := checkAmount(req.Amount); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetUserAccount(ctx, req.AcctID, req.Username); err != nil {
		return nil, err
	}
	bal, txn, err := s.repo.Credit(ctx, req.AcctID, req.Amount)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, txn)
	return bal, nil
}

func (s *serviceImpl) Withdraw(ctx context.Context, req ChargeReq) (*decimal.Decimal, error) {
	if err := checkAmount(req.Amount); err != nil {
		return nil, err
	}
	acct, err := s.repo.GetUserAccount(ctx, req.AcctID, req.Username)
	if err != nil {
		return nil, err
	}
	if acct.Balance.LessThan(req.Amount) {
		return nil, ErrInsufficientFunds{AcctID: req.AcctID.Int64()}
	}
	bal, txn, err := s.repo.Debit(ctx, req.AcctID, req.Amount)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, txn)
	return bal, nil
}

// Transfer checks the sender's funds before the receiver is even looked
// up, so a nonexistent receiver never surfaces as ErrInsufficientFunds
// and a broke sender never costs a receiver lookup. The funds check is
// repeated by the store under lock.
func (s *serviceImpl) Transfer(ctx context.Context, req TransferReq) (*decimal.Decimal, error) {
	if err := checkAmount(req.Amount); err != nil {
		return nil, err
	}
	if req.AcctID == req.TargetAcctID {
		return nil, ErrBadRequest{Fields: map[string]string{"target_account_id": "cannot transfer to the same account"}}
	}
	sender, err := s.repo.GetUserAccount(ctx, req.AcctID, req.Username)
	if err != nil {
		return nil, err
	}
	if sender.Balance.LessThan(req.Amount) {
		return nil, ErrInsufficientFunds{AcctID: req.AcctID.Int64()}
	}
	if _, err = s.repo.GetAccount(ctx, req.TargetAcctID); err != nil {
		nf := ErrNotFound{}
		if errors.As(err, &nf) {
			return nil, ErrNotFound{ID: req.TargetAcctID.Int64(), Resource: "receiver account"}
		}
		return nil, err
	}
	bal, txn, err := s.repo.Transfer(ctx, req.AcctID, req.TargetAcctID, req.Amount)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, txn)
	return bal, nil
}

func (s *serviceImpl) ListTransactions(ctx context.Context, req HistoryReq) (*TransactionPage, error) {
	page, size := normalizePage(req.Page, req.Size)
	return s.repo.ListTransactions(ctx, req.AcctID, req.Username, page, size)
}

func (s *serviceImpl) Statement(ctx context.Context, w io.Writer, req StatementReq) error {
	acct, err := s.repo.GetUserAccount(ctx, req.AcctID, req.Username)
	if err != nil {
		return err
	}
	var txns []TransactionView
	for page := 0; ; page++ {
		pg, err := s.repo.ListTransactions(ctx, req.AcctID, req.Username, page, maxPageSize)
		if err != nil {
			return err
		}
		txns = append(txns, pg.Items...)
		if len(pg.Items) < maxPageSize {
			break
		}
	}
	return writeStatementPDF(w, acct, txns)
}

// publish is best effort; a failed event never fails the money movement
// it describes.
func (s *serviceImpl) publish(ctx context.Context, txn *Transaction) {
	if txn == nil {
		return
	}
	if err := s.pub.PublishTransaction(ctx, txn); err != nil {
		s.log.Err(err).
			Str("txn_id", txn.ID.String()).
			Str("type", string(txn.Type)).
			Msg("transaction event publish failed")
	}
}

func normalizePage(page, size int) (int, int) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = defaultPageSize
	} else if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}
