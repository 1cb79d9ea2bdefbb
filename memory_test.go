package bankgo_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adrianmb/bankgo"
)

func newMemService(t *testing.T) (*bankgo.MemoryEndpoint, bankgo.Service, *snowflake.Node) {
	t.Helper()
	node, err := snowflake.NewNode(111)
	require.NoError(t, err)
	endpt := bankgo.NewMemoryEndpoint(node)
	log := zerolog.Nop()
	return endpt, bankgo.NewService(endpt, bankgo.NopPublisher{}, &log), node
}

func openAccount(t *testing.T, endpt *bankgo.MemoryEndpoint, node *snowflake.Node, username string, balance decimal.Decimal) snowflake.ID {
	t.Helper()
	ctx := context.Background()
	acct, err := endpt.CreateAccount(ctx, bankgo.CreateAccountReq{
		AcctID:   node.Generate(),
		Username: username,
	})
	require.NoError(t, err)
	if balance.IsPositive() {
		_, _, err = endpt.Credit(ctx, acct.AcctID, balance)
		require.NoError(t, err)
	}
	return acct.AcctID
}

func TestConcurrentWithdrawals(t *testing.T) {
	as := assert.New(t)
	endpt, svc, node := newMemService(t)
	ctx := context.Background()

	// B = 1000.00, a = 30.00: exactly floor(B/a) = 33 must succeed
	acctID := openAccount(t, endpt, node, "adrian", decimal.New(100000, -2))
	amount := decimal.New(3000, -2)

	const workers = 50
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		failed    int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Withdraw(ctx, bankgo.ChargeReq{
				Amount:   amount,
				AcctID:   acctID,
				Username: "adrian",
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
				return
			}
			if errors.As(err, &bankgo.ErrInsufficientFunds{}) {
				failed++
			}
		}()
	}
	wg.Wait()

	as.Equal(33, succeeded)
	as.Equal(workers-33, failed)

	acct, err := endpt.GetAccount(ctx, acctID)
	require.NoError(t, err)
	as.True(decimal.New(1000, -2).Equal(acct.Balance), "final balance %s", acct.Balance)
	as.False(acct.Balance.IsNegative())

	// one WITHDRAW entry per success, plus the funding deposit
	page, err := endpt.ListTransactions(ctx, acctID, "adrian", 0, 100)
	require.NoError(t, err)
	as.Equal(int64(34), page.Total)
}

func TestConcurrentOpposingTransfers(t *testing.T) {
	as := assert.New(t)
	endpt, svc, node := newMemService(t)
	ctx := context.Background()

	acctA := openAccount(t, endpt, node, "alice", decimal.New(50000, -2))
	acctB := openAccount(t, endpt, node, "bob", decimal.New(50000, -2))
	amount := decimal.New(100, -2)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			svc.Transfer(ctx, bankgo.TransferReq{
				Amount:       amount,
				AcctID:       acctA,
				TargetAcctID: acctB,
				Username:     "alice",
			})
		}()
		go func() {
			defer wg.Done()
			svc.Transfer(ctx, bankgo.TransferReq{
				Amount:       amount,
				AcctID:       acctB,
				TargetAcctID: acctA,
				Username:     "bob",
			})
		}()
	}
	wg.Wait()

	a, err := endpt.GetAccount(ctx, acctA)
	require.NoError(t, err)
	b, err := endpt.GetAccount(ctx, acctB)
	require.NoError(t, err)
	as.False(a.Balance.IsNegative())
	as.False(b.Balance.IsNegative())
	// money is conserved across the pair
	as.True(decimal.New(100000, -2).Equal(a.Balance.Add(b.Balance)),
		"total %s", a.Balance.Add(b.Balance))
}

func TestTransferSemantics(t *testing.T) {
	t.Run("full-balance transfer zeroes the sender and funds the receiver", func(tt *testing.T) {
		as := assert.New(tt)
		endpt, svc, node := newMemService(tt)
		ctx := context.Background()

		sender := openAccount(tt, endpt, node, "alice", decimal.New(20000, -2))
		receiver := openAccount(tt, endpt, node, "bob", decimal.Zero)

		bal, err := svc.Transfer(ctx, bankgo.TransferReq{
			Amount:       decimal.New(20000, -2),
			AcctID:       sender,
			TargetAcctID: receiver,
			Username:     "alice",
		})
		require.NoError(tt, err)
		as.True(bal.IsZero())

		rcv, err := endpt.GetAccount(ctx, receiver)
		require.NoError(tt, err)
		as.True(decimal.New(20000, -2).Equal(rcv.Balance))

		// exactly one TRANSFER entry, on the sender's history only
		sndPage, err := endpt.ListTransactions(ctx, sender, "alice", 0, 10)
		require.NoError(tt, err)
		var transfers int
		for _, item := range sndPage.Items {
			if item.Type == bankgo.TxnTransfer {
				transfers++
			}
		}
		as.Equal(1, transfers)

		rcvPage, err := endpt.ListTransactions(ctx, receiver, "bob", 0, 10)
		require.NoError(tt, err)
		as.Empty(rcvPage.Items)
	})

	t.Run("missing receiver leaves sender balance and ledger unchanged", func(tt *testing.T) {
		as := assert.New(tt)
		endpt, svc, node := newMemService(tt)
		ctx := context.Background()

		sender := openAccount(tt, endpt, node, "alice", decimal.New(50000, -2))

		_, err := svc.Transfer(ctx, bankgo.TransferReq{
			Amount:       decimal.New(20000, -2),
			AcctID:       sender,
			TargetAcctID: node.Generate(),
			Username:     "alice",
		})
		as.ErrorAs(err, &bankgo.ErrNotFound{})

		acct, err := endpt.GetAccount(ctx, sender)
		require.NoError(tt, err)
		as.True(decimal.New(50000, -2).Equal(acct.Balance))

		page, err := endpt.ListTransactions(ctx, sender, "alice", 0, 10)
		require.NoError(tt, err)
		as.Equal(int64(1), page.Total) // only the funding deposit
	})
}

func TestListTransactions(t *testing.T) {
	t.Run("pages are stable and totally ordered", func(tt *testing.T) {
		as := assert.New(tt)
		endpt, svc, node := newMemService(tt)
		ctx := context.Background()

		acctID := openAccount(tt, endpt, node, "adrian", decimal.Zero)
		for i := 0; i < 25; i++ {
			_, err := svc.Deposit(ctx, bankgo.ChargeReq{
				Amount:   decimal.New(int64(i+1), 0),
				AcctID:   acctID,
				Username: "adrian",
			})
			require.NoError(tt, err)
		}

		var seen []string
		for page := 0; page < 3; page++ {
			pg, err := svc.ListTransactions(ctx, bankgo.HistoryReq{
				AcctID:   acctID,
				Username: "adrian",
				Page:     page,
				Size:     10,
			})
			require.NoError(tt, err)
			as.Equal(int64(25), pg.Total)
			for _, item := range pg.Items {
				seen = append(seen, item.ID)
			}
		}
		as.Len(seen, 25)
		for i := 1; i < len(seen); i++ {
			as.Less(seen[i-1], seen[i])
		}
	})

	t.Run("an account owned by someone else yields an empty page, not an error", func(tt *testing.T) {
		as := assert.New(tt)
		endpt, svc, node := newMemService(tt)
		ctx := context.Background()

		acctID := openAccount(tt, endpt, node, "alice", decimal.New(100, 0))

		pg, err := svc.ListTransactions(ctx, bankgo.HistoryReq{
			AcctID:   acctID,
			Username: "mallory",
		})
		require.NoError(tt, err)
		as.Empty(pg.Items)
		as.Equal(int64(0), pg.Total)
	})

	t.Run("a nonexistent account yields an empty page", func(tt *testing.T) {
		as := assert.New(tt)
		_, svc, node := newMemService(tt)

		pg, err := svc.ListTransactions(context.Background(), bankgo.HistoryReq{
			AcctID:   node.Generate(),
			Username: "nobody",
		})
		require.NoError(tt, err)
		as.Empty(pg.Items)
	})
}

func TestStatement(t *testing.T) {
	t.Run("renders a PDF of the owner's history", func(tt *testing.T) {
		as := assert.New(tt)
		endpt, svc, node := newMemService(tt)
		ctx := context.Background()

		acctID := openAccount(tt, endpt, node, "adrian", decimal.New(12345, -2))
		_, err := svc.Withdraw(ctx, bankgo.ChargeReq{
			Amount:   decimal.New(45, -2),
			AcctID:   acctID,
			Username: "adrian",
		})
		require.NoError(tt, err)

		buf := &bytes.Buffer{}
		err = svc.Statement(ctx, buf, bankgo.StatementReq{AcctID: acctID, Username: "adrian"})
		require.NoError(tt, err)
		as.True(bytes.HasPrefix(buf.Bytes(), []byte("%PDF")))
	})

	t.Run("fails with NotFound for a non-owner", func(tt *testing.T) {
		as := assert.New(tt)
		endpt, svc, node := newMemService(tt)

		acctID := openAccount(tt, endpt, node, "alice", decimal.Zero)
		buf := &bytes.Buffer{}
		err := svc.Statement(context.Background(), buf, bankgo.StatementReq{AcctID: acctID, Username: "mallory"})
		as.ErrorAs(err, &bankgo.ErrNotFound{})
	})
}
