package bankgo

import (
	"context"
	"errors"
	"io"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/semaphore"
)

type Middleware func(Service) Service

// validationMiddleware is the caller-facing boundary check: positive
// cent-precision amounts and a resolved caller identity. The service
// repeats the amount check defensively.
type validationMiddleware struct {
	next Service
}

var (
	_ Service = (*validationMiddleware)(nil)
)

func NewValidationMiddleware() Middleware {
	return func(next Service) Service {
		return &validationMiddleware{next: next}
	}
}

func (v *validationMiddleware) CreateAccount(ctx context.Context, req CreateAccountReq) (*Account, error) {
	if req.Username == "" {
		return nil, ErrBadRequest{Fields: map[string]string{"username": "missing"}}
	}
	return v.next.CreateAccount(ctx, req)
}

func (v *validationMiddleware) GetAccount(ctx context.Context, req GetAccountReq) (*AccountView, error) {
	if req.Username == "" {
		return nil, ErrBadRequest{Fields: map[string]string{"username": "missing"}}
	}
	return v.next.GetAccount(ctx, req)
}

func (v *validationMiddleware) Deposit(ctx context.Context, req ChargeReq) (*decimal.Decimal, error) {
	if err := v.checkCharge(req.Username, req.Amount); err != nil {
		return nil, err
	}
	return v.next.Deposit(ctx, req)
}

func (v *validationMiddleware) Withdraw(ctx context.Context, req ChargeReq) (*decimal.Decimal, error) {
	if err := v.checkCharge(req.Username, req.Amount); err != nil {
		return nil, err
	}
	return v.next.Withdraw(ctx, req)
}

func (v *validationMiddleware) Transfer(ctx context.Context, req TransferReq) (*decimal.Decimal, error) {
	if err := v.checkCharge(req.Username, req.Amount); err != nil {
		return nil, err
	}
	if req.TargetAcctID == 0 {
		return nil, ErrBadRequest{Fields: map[string]string{"target_account_id": "missing"}}
	}
	if req.TargetAcctID == req.AcctID {
		return nil, ErrBadRequest{Fields: map[string]string{"target_account_id": "cannot transfer to the same account"}}
	}
	return v.next.Transfer(ctx, req)
}

func (v *validationMiddleware) ListTransactions(ctx context.Context, req HistoryReq) (*TransactionPage, error) {
	if req.Username == "" {
		return nil, ErrBadRequest{Fields: map[string]string{"username": "missing"}}
	}
	return v.next.ListTransactions(ctx, req)
}

func (v *validationMiddleware) Statement(ctx context.Context, w io.Writer, req StatementReq) error {
	if req.Username == "" {
		return ErrBadRequest{Fields: map[string]string{"username": "missing"}}
	}
	return v.next.Statement(ctx, w, req)
}

func (v *validationMiddleware) checkCharge(username string, amount decimal.Decimal) error {
	if username == "" {
		return ErrBadRequest{Fields: map[string]string{"username": "missing"}}
	}
	return checkAmount(amount)
}

//
// Rate limiting middlewares
//

// limitMiddleware bounds the number of in-flight requests per operation
// group with weighted semaphores. Acquisition respects the request
// context deadline; a failed acquisition is reported as over capacity.
type limitMiddleware struct {
	next   Service
	limits *ServiceLimits
}

var (
	_ Service = (*limitMiddleware)(nil)
)

type ServiceLimits struct {
	Charge *semaphore.Weighted
	Query  *semaphore.Weighted
}

func NewLimitMiddleware(limits *ServiceLimits) Middleware {
	return func(next Service) Service {
		return &limitMiddleware{
			next:   next,
			limits: limits,
		}
	}
}

func (l *limitMiddleware) acquire(ctx context.Context, sem *semaphore.Weighted) (func(), error) {
	if sem == nil {
		return func() {}, nil
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, ErrOverCapacity
	}
	return func() { sem.Release(1) }, nil
}

func (l *limitMiddleware) CreateAccount(ctx context.Context, req CreateAccountReq) (*Account, error) {
	release, err := l.acquire(ctx, l.limits.Charge)
	if err != nil {
		return nil, err
	}
	defer release()
	return l.next.CreateAccount(ctx, req)
}

func (l *limitMiddleware) GetAccount(ctx context.Context, req GetAccountReq) (*AccountView, error) {
	release, err := l.acquire(ctx, l.limits.Query)
	if err != nil {
		return nil, err
	}
	defer release()
	return l.next.GetAccount(ctx, req)
}

func (l *limitMiddleware) Deposit(ctx context.Context, req ChargeReq) (*decimal.Decimal, error) {
	release, err := l.acquire(ctx, l.limits.Charge)
	if err != nil {
		return nil, err
	}
	defer release()
	return l.next.Deposit(ctx, req)
}

func (l *limitMiddleware) Withdraw(ctx context.Context, req ChargeReq) (*decimal.Decimal, error) {
	release, err := l.acquire(ctx, l.limits.Charge)
	if err != nil {
		return nil, err
	}
	defer release()
	return l.next.Withdraw(ctx, req)
}

func (l *limitMiddleware) Transfer(ctx context.Context, req TransferReq) (*decimal.Decimal, error) {
	release, err := l.acquire(ctx, l.limits.Charge)
	if err != nil {
		return nil, err
	}
	defer release()
	return l.next.Transfer(ctx, req)
}

func (l *limitMiddleware) ListTransactions(ctx context.Context, req HistoryReq) (*TransactionPage, error) {
	release, err := l.acquire(ctx, l.limits.Query)
	if err != nil {
		return nil, err
	}
	defer release()
	return l.next.ListTransactions(ctx, req)
}

func (l *limitMiddleware) Statement(ctx context.Context, w io.Writer, req StatementReq) error {
	release, err := l.acquire(ctx, l.limits.Query)
	if err != nil {
		return err
	}
	defer release()
	return l.next.Statement(ctx, w, req)
}

type ServiceBreaker struct {
	Charge *gobreaker.TwoStepCircuitBreaker[*decimal.Decimal]
	Query  *gobreaker.TwoStepCircuitBreaker[*TransactionPage]
}

// circuitBreakMiddleware sheds load on the mutation and query paths
// when the store is struggling. Business failures (not found, bad
// amount, insufficient funds) never count against the breaker; only
// storage-level failures do.
type circuitBreakMiddleware struct {
	next  Service
	brkrs *ServiceBreaker
}

var (
	_ Service = (*circuitBreakMiddleware)(nil)
)

func NewCircuitBreakMiddleware(brkrs *ServiceBreaker) Middleware {
	return func(next Service) Service {
		return &circuitBreakMiddleware{
			next:  next,
			brkrs: brkrs,
		}
	}
}

func (c *circuitBreakMiddleware) CreateAccount(ctx context.Context, req CreateAccountReq) (*Account, error) {
	return c.next.CreateAccount(ctx, req)
}

func (c *circuitBreakMiddleware) GetAccount(ctx context.Context, req GetAccountReq) (*AccountView, error) {
	return c.next.GetAccount(ctx, req)
}

func (c *circuitBreakMiddleware) Deposit(ctx context.Context, req ChargeReq) (*decimal.Decimal, error) {
	done, err := c.brkrs.Charge.Allow()
	if err != nil {
		return nil, ErrOverCapacity
	}
	bal, err := c.next.Deposit(ctx, req)
	done(!isStorageErr(err))
	return bal, err
}

func (c *circuitBreakMiddleware) Withdraw(ctx context.Context, req ChargeReq) (*decimal.Decimal, error) {
	done, err := c.brkrs.Charge.Allow()
	if err != nil {
		return nil, ErrOverCapacity
	}
	bal, err := c.next.Withdraw(ctx, req)
	done(!isStorageErr(err))
	return bal, err
}

func (c *circuitBreakMiddleware) Transfer(ctx context.Context, req TransferReq) (*decimal.Decimal, error) {
	done, err := c.brkrs.Charge.Allow()
	if err != nil {
		return nil, ErrOverCapacity
	}
	bal, err := c.next.Transfer(ctx, req)
	done(!isStorageErr(err))
	return bal, err
}

func (c *circuitBreakMiddleware) ListTransactions(ctx context.Context, req HistoryReq) (*TransactionPage, error) {
	done, err := c.brkrs.Query.Allow()
	if err != nil {
		return nil, ErrOverCapacity
	}
	page, err := c.next.ListTransactions(ctx, req)
	done(!isStorageErr(err))
	return page, err
}

func (c *circuitBreakMiddleware) Statement(ctx context.Context, w io.Writer, req StatementReq) error {
	done, err := c.brkrs.Query.Allow()
	if err != nil {
		return ErrOverCapacity
	}
	err = c.next.Statement(ctx, w, req)
	done(!isStorageErr(err))
	return err
}

func isStorageErr(err error) bool {
	if err == nil {
		return false
	}
	se := ErrStorage{}
	return errors.As(err, &se) || errors.Is(err, ErrInternalServer)
}
