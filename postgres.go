package bankgo

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	pgSelectAcctSQL = `
		SELECT username, opening_date, balance
		FROM accounts
		WHERE id = $1;
	`

	pgSelectForUpdateAcctSQL = `
		SELECT balance
		FROM accounts
		WHERE id = $1
		FOR UPDATE;
	`

	pgUpdateAcctSQL = `
		UPDATE accounts
		SET balance = $1
		WHERE id = $2;
	`

	pgInsertTxnSQL = `
		INSERT INTO transactions (id, acct_id, typ, amount, occurred_at)
		VALUES ($1, $2, $3, $4, $5);
	`

	pgListTxnsSQL = `
		SELECT t.id, t.acct_id, t.typ, t.amount, t.occurred_at
		FROM transactions t
		JOIN accounts a ON a.id = t.acct_id
		WHERE t.acct_id = $1 AND a.username = $2
		ORDER BY t.occurred_at ASC, t.id ASC
		LIMIT $3 OFFSET $4;
	`

	pgCountTxnsSQL = `
		SELECT count(*)
		FROM transactions t
		JOIN accounts a ON a.id = t.acct_id
		WHERE t.acct_id = $1 AND a.username = $2;
	`
)

type PostgresEndpoint struct {
	pool *pgxpool.Pool
	node *snowflake.Node
	log  *zerolog.Logger
}

var (
	_ Repository     = (*PostgresEndpoint)(nil)
	_ UserRepository = (*PostgresEndpoint)(nil)
)

func NewPostgresEndpoint(connStr string, node *snowflake.Node, log *zerolog.Logger) (*PostgresEndpoint, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	if err = pool.Ping(context.Background()); err != nil {
		return nil, err
	}

	endpt := &PostgresEndpoint{
		pool: pool,
		node: node,
		log:  log,
	}
	return endpt, nil
}

func (pg *PostgresEndpoint) CreateAccount(ctx context.Context, req CreateAccountReq) (*Account, error) {
	sql := `
	INSERT INTO accounts (id, username, opening_date, balance)
	VALUES ($1, $2, $3, 0)
	RETURNING opening_date, balance;
	`

	acct := Account{
		AcctID:   req.AcctID,
		Username: req.Username,
	}
	row := pg.pool.QueryRow(ctx, sql, req.AcctID.Int64(), req.Username, time.Now().UTC())
	if err := row.Scan(&acct.OpeningDate, &acct.Balance); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict{Resource: "account"}
		}
		return nil, ErrStorage{Op: "create account", Err: err}
	}
	return &acct, nil
}

func (pg *PostgresEndpoint) GetAccount(ctx context.Context, id snowflake.ID) (*Account, error) {
	acct := Account{AcctID: id}
	row := pg.pool.QueryRow(ctx, pgSelectAcctSQL, id.Int64())
	if err := row.Scan(&acct.Username, &acct.OpeningDate, &acct.Balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound{ID: id.Int64()}
		}
		return nil, ErrStorage{Op: "get account", Err: err}
	}
	return &acct, nil
}

func (pg *PostgresEndpoint) GetUserAccount(ctx context.Context, id snowflake.ID, username string) (*Account, error) {
	acct, err := pg.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if acct.Username != username {
		return nil, ErrNotFound{ID: id.Int64()}
	}
	return acct, nil
}

func (pg *PostgresEndpoint) Credit(ctx context.Context, id snowflake.ID, amount decimal.Decimal) (*decimal.Decimal, *Transaction, error) {
	return pg.charge(ctx, id, amount, TxnDeposit)
}

func (pg *PostgresEndpoint) Debit(ctx context.Context, id snowflake.ID, amount decimal.Decimal) (*decimal.Decimal, *Transaction, error) {
	return pg.charge(ctx, id, amount, TxnWithdraw)
}

// charge applies a single-account balance mutation and its ledger entry
// inside one database transaction. The row lock taken by FOR UPDATE
// serializes concurrent charges against the same account.
func (pg *PostgresEndpoint) charge(ctx context.Context, id snowflake.ID, amount decimal.Decimal, typ TransactionType) (*decimal.Decimal, *Transaction, error) {
	conn, err := pg.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, ErrStorage{Op: "acquire conn", Err: err}
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, nil, ErrStorage{Op: "begin tx", Err: err}
	}
	defer pg.rollback(ctx, tx)

	var bal decimal.Decimal
	row := tx.QueryRow(ctx, pgSelectForUpdateAcctSQL, id.Int64())
	if err = row.Scan(&bal); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrNotFound{ID: id.Int64()}
		}
		return nil, nil, ErrStorage{Op: "lock account", Err: err}
	}

	if typ == TxnWithdraw {
		if bal.LessThan(amount) {
			return nil, nil, ErrInsufficientFunds{AcctID: id.Int64()}
		}
		bal = bal.Sub(amount)
	} else {
		bal = bal.Add(amount)
	}

	if _, err = tx.Exec(ctx, pgUpdateAcctSQL, bal, id.Int64()); err != nil {
		return nil, nil, ErrStorage{Op: "update balance", Err: err}
	}

	txn := pg.newTxn(id, typ, amount)
	if _, err = tx.Exec(ctx, pgInsertTxnSQL,
		txn.ID.Int64(), txn.AcctID.Int64(), string(txn.Type), txn.Amount, txn.OccurredAt); err != nil {
		return nil, nil, ErrStorage{Op: "append transaction", Err: err}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, nil, ErrStorage{Op: "commit", Err: err}
	}
	return &bal, &txn, nil
}

// Transfer locks both account rows in ascending id order, regardless of
// which is the sender, so opposing transfers between the same pair of
// accounts cannot deadlock.
func (pg *PostgresEndpoint) Transfer(ctx context.Context, sender, receiver snowflake.ID, amount decimal.Decimal) (*decimal.Decimal, *Transaction, error) {
	conn, err := pg.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, ErrStorage{Op: "acquire conn", Err: err}
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, nil, ErrStorage{Op: "begin tx", Err: err}
	}
	defer pg.rollback(ctx, tx)

	lockOrder := []snowflake.ID{sender, receiver}
	if receiver < sender {
		lockOrder[0], lockOrder[1] = receiver, sender
	}
	balances := make(map[snowflake.ID]decimal.Decimal, 2)
	for _, id := range lockOrder {
		var bal decimal.Decimal
		row := tx.QueryRow(ctx, pgSelectForUpdateAcctSQL, id.Int64())
		if err = row.Scan(&bal); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, nil, ErrNotFound{ID: id.Int64()}
			}
			return nil, nil, ErrStorage{Op: "lock account", Err: err}
		}
		balances[id] = bal
	}

	if balances[sender].LessThan(amount) {
		return nil, nil, ErrInsufficientFunds{AcctID: sender.Int64()}
	}

	sndBal := balances[sender].Sub(amount)
	rcvBal := balances[receiver].Add(amount)
	batch := &pgx.Batch{}
	batch.Queue(pgUpdateAcctSQL, sndBal, sender.Int64())
	batch.Queue(pgUpdateAcctSQL, rcvBal, receiver.Int64())
	txn := pg.newTxn(sender, TxnTransfer, amount)
	batch.Queue(pgInsertTxnSQL,
		txn.ID.Int64(), txn.AcctID.Int64(), string(txn.Type), txn.Amount, txn.OccurredAt)
	btresults := tx.SendBatch(ctx, batch)
	for i := 0; i < 3; i++ {
		if _, err = btresults.Exec(); err != nil {
			btresults.Close()
			return nil, nil, ErrStorage{Op: "apply transfer", Err: err}
		}
	}
	if err = btresults.Close(); err != nil {
		return nil, nil, ErrStorage{Op: "apply transfer", Err: err}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, nil, ErrStorage{Op: "commit", Err: err}
	}
	return &sndBal, &txn, nil
}

func (pg *PostgresEndpoint) ListTransactions(ctx context.Context, id snowflake.ID, username string, page, size int) (*TransactionPage, error) {
	out := &TransactionPage{Items: []TransactionView{}, Page: page, Size: size}

	row := pg.pool.QueryRow(ctx, pgCountTxnsSQL, id.Int64(), username)
	if err := row.Scan(&out.Total); err != nil {
		return nil, ErrStorage{Op: "count transactions", Err: err}
	}

	rows, err := pg.pool.Query(ctx, pgListTxnsSQL, id.Int64(), username, size, page*size)
	if err != nil {
		return nil, ErrStorage{Op: "list transactions", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var (
			tid, aid int64
			typ      string
			txn      Transaction
		)
		if err = rows.Scan(&tid, &aid, &typ, &txn.Amount, &txn.OccurredAt); err != nil {
			return nil, ErrStorage{Op: "scan transaction", Err: err}
		}
		txn.ID = snowflake.ID(tid)
		txn.AcctID = snowflake.ID(aid)
		txn.Type = TransactionType(typ)
		out.Items = append(out.Items, newTransactionView(txn))
	}
	if err = rows.Err(); err != nil {
		return nil, ErrStorage{Op: "list transactions", Err: err}
	}
	return out, nil
}

func (pg *PostgresEndpoint) CreateUser(ctx context.Context, u *User) error {
	sql := `
	INSERT INTO users (username, name, email, phone, password_hash, registration_date)
	VALUES ($1, $2, $3, $4, $5, $6);
	`

	_, err := pg.pool.Exec(ctx, sql,
		u.Username, u.Name, u.Email, u.Phone, u.PasswordHash, u.RegistrationDate)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict{Resource: "username"}
		}
		return ErrStorage{Op: "create user", Err: err}
	}
	return nil
}

func (pg *PostgresEndpoint) GetUser(ctx context.Context, username string) (*User, error) {
	sql := `
	SELECT username, name, email, phone, password_hash, registration_date
	FROM users
	WHERE username = $1;
	`

	var u User
	row := pg.pool.QueryRow(ctx, sql, username)
	err := row.Scan(&u.Username, &u.Name, &u.Email, &u.Phone, &u.PasswordHash, &u.RegistrationDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound{Resource: "user"}
		}
		return nil, ErrStorage{Op: "get user", Err: err}
	}
	return &u, nil
}

func (pg *PostgresEndpoint) UpdateUser(ctx context.Context, username string, u *User) error {
	sql := `
	UPDATE users
	SET username = $1, name = $2, email = $3, phone = $4
	WHERE username = $5;
	`

	tag, err := pg.pool.Exec(ctx, sql, u.Username, u.Name, u.Email, u.Phone, username)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict{Resource: "username"}
		}
		return ErrStorage{Op: "update user", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound{Resource: "user"}
	}
	return nil
}

func (pg *PostgresEndpoint) UpdatePassword(ctx context.Context, username string, hash []byte) error {
	sql := `
	UPDATE users
	SET password_hash = $1
	WHERE username = $2;
	`

	tag, err := pg.pool.Exec(ctx, sql, hash, username)
	if err != nil {
		return ErrStorage{Op: "update password", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound{Resource: "user"}
	}
	return nil
}

func (pg *PostgresEndpoint) Close() {
	pg.pool.Close()
}

func (pg *PostgresEndpoint) newTxn(acct snowflake.ID, typ TransactionType, amount decimal.Decimal) Transaction {
	return Transaction{
		ID:         pg.node.Generate(),
		AcctID:     acct,
		Type:       typ,
		Amount:     amount,
		OccurredAt: time.Now().UTC(),
	}
}

func (pg *PostgresEndpoint) rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		pg.log.Err(err).Msg("transaction rollback fail")
	}
}

func isUniqueViolation(err error) bool {
	var pgerr *pgconn.PgError
	return errors.As(err, &pgerr) && pgerr.Code == "23505"
}
