package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresStore persists ledger rows in PostgreSQL. Amounts travel as text to keep all 18 digits.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgTx struct {
	tx pgx.Tx
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
		case "23514":
			if pgErr.ConstraintName == "balance_currencies_amount_check" {
				return ErrInsufficientFunds
			}
		}
	}
	return err
}

func parseAmount(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse stored amount %q: %w", raw, err)
	}
	return d, nil
}

func encodeMetadata(m Metadata) ([]byte, error) {
	if m == nil {
		m = Metadata{}
	}
	return json.Marshal(m)
}

func decodeMetadata(raw []byte) (Metadata, error) {
	m := Metadata{}
	if len(raw) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return m, nil
}

func rawOrNull(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// balances

func (t *pgTx) GetOrCreateBalance(ctx context.Context, userID string) (Balance, error) {
	if _, err := t.tx.Exec(ctx, `INSERT INTO balances (id, user_id) VALUES ($1, $2)
        ON CONFLICT (user_id) DO NOTHING`, uuid.New(), userID); err != nil {
		return Balance{}, translate(err)
	}
	return t.FindBalance(ctx, userID)
}

func (t *pgTx) FindBalance(ctx context.Context, userID string) (Balance, error) {
	var b Balance
	err := t.tx.QueryRow(ctx, `SELECT id, user_id, created_at FROM balances WHERE user_id = $1`, userID).
		Scan(&b.ID, &b.UserID, &b.CreatedAt)
	if err != nil {
		return Balance{}, translate(err)
	}

	rows, err := t.tx.Query(ctx, `SELECT id, balance_id, currency, amount::text, updated_at
        FROM balance_currencies WHERE balance_id = $1 ORDER BY currency`, b.ID)
	if err != nil {
		return Balance{}, err
	}
	defer rows.Close()
	for rows.Next() {
		c, err := scanCurrency(rows)
		if err != nil {
			return Balance{}, err
		}
		b.Currencies = append(b.Currencies, c)
	}
	return b, rows.Err()
}

func scanCurrency(row pgx.Row) (BalanceCurrency, error) {
	var (
		c      BalanceCurrency
		amount string
	)
	if err := row.Scan(&c.ID, &c.BalanceID, &c.Currency, &amount, &c.UpdatedAt); err != nil {
		return BalanceCurrency{}, translate(err)
	}
	d, err := parseAmount(amount)
	if err != nil {
		return BalanceCurrency{}, err
	}
	c.Amount = d
	return c, nil
}

func (t *pgTx) LockCurrency(ctx context.Context, balanceID uuid.UUID, currency string) (BalanceCurrency, error) {
	if _, err := t.tx.Exec(ctx, `INSERT INTO balance_currencies (id, balance_id, currency, amount)
        VALUES ($1, $2, $3, 0) ON CONFLICT (balance_id, currency) DO NOTHING`, uuid.New(), balanceID, currency); err != nil {
		return BalanceCurrency{}, translate(err)
	}
	return scanCurrency(t.tx.QueryRow(ctx, `SELECT id, balance_id, currency, amount::text, updated_at
        FROM balance_currencies WHERE balance_id = $1 AND currency = $2 FOR UPDATE`, balanceID, currency))
}

func (t *pgTx) SetCurrencyAmount(ctx context.Context, currencyID uuid.UUID, amount decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, `UPDATE balance_currencies SET amount = $2::numeric, updated_at = now()
        WHERE id = $1`, currencyID, amount.String())
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// transactions

const transactionColumns = `id, user_id, amount::text, currency, type, bonus_type, source, status,
        provider, reference_id, raw_response, metadata, description, created_at`

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		tr       Transaction
		amount   string
		raw      []byte
		metadata []byte
	)
	if err := row.Scan(&tr.ID, &tr.UserID, &amount, &tr.Currency, &tr.Type, &tr.BonusType, &tr.Source,
		&tr.Status, &tr.Provider, &tr.ReferenceID, &raw, &metadata, &tr.Description, &tr.CreatedAt); err != nil {
		return Transaction{}, translate(err)
	}
	var err error
	if tr.Amount, err = parseAmount(amount); err != nil {
		return Transaction{}, err
	}
	if tr.Metadata, err = decodeMetadata(metadata); err != nil {
		return Transaction{}, err
	}
	if len(raw) > 0 {
		tr.RawResponse = json.RawMessage(raw)
	}
	return tr, nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, tr *Transaction) error {
	if tr.ID == uuid.Nil {
		tr.ID = uuid.New()
	}
	tr.CreatedAt = stamp(tr.CreatedAt)
	meta, err := encodeMetadata(tr.Metadata)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO transactions
        (id, user_id, amount, currency, type, bonus_type, source, status, provider, reference_id,
         raw_response, metadata, description, created_at)
        VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $9, $10, $11::jsonb, $12::jsonb, $13, $14)`,
		tr.ID, tr.UserID, tr.Amount.String(), tr.Currency, tr.Type, tr.BonusType, tr.Source, tr.Status,
		tr.Provider, tr.ReferenceID, rawOrNull(tr.RawResponse), meta, tr.Description, tr.CreatedAt)
	return translate(err)
}

func (t *pgTx) GetTransaction(ctx context.Context, id uuid.UUID) (Transaction, error) {
	return scanTransaction(t.tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
}

func (t *pgTx) SetTransactionStatus(ctx context.Context, id uuid.UUID, status TransactionStatus, description string) error {
	var current TransactionStatus
	if err := t.tx.QueryRow(ctx, `SELECT status FROM transactions WHERE id = $1 FOR UPDATE`, id).Scan(&current); err != nil {
		return translate(err)
	}
	if current == status {
		return nil
	}
	if current != TxPending {
		return ErrImmutableTransaction
	}
	_, err := t.tx.Exec(ctx, `UPDATE transactions
        SET status = $2, description = CASE WHEN $3 = '' THEN description ELSE $3 END
        WHERE id = $1`, id, status, description)
	return translate(err)
}

func (t *pgTx) HasRewardOnDay(ctx context.Context, userID, currency, rewardKey string, from, to time.Time) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (
        SELECT 1 FROM transactions
        WHERE user_id = $1 AND currency = $2 AND status = 'completed'
          AND metadata->>'reward_key' = $3 AND created_at >= $4 AND created_at < $5)`,
		userID, currency, rewardKey, from, to).Scan(&exists)
	return exists, err
}

func (t *pgTx) ListTransactions(ctx context.Context, userID string, page Page) ([]Transaction, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+transactionColumns+` FROM transactions
        WHERE user_id = $1 ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`, userID, page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		tr, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// payments

const paymentColumns = `id, user_id, amount::text, currency, payment_type, status, metadata,
        transaction_id, created_at, paid_at, failure_reason, refunded_at`

func scanPayment(row pgx.Row) (Payment, error) {
	var (
		p        Payment
		amount   string
		metadata []byte
	)
	if err := row.Scan(&p.ID, &p.UserID, &amount, &p.Currency, &p.Type, &p.Status, &metadata,
		&p.TransactionID, &p.CreatedAt, &p.PaidAt, &p.FailureReason, &p.RefundedAt); err != nil {
		return Payment{}, translate(err)
	}
	var err error
	if p.Amount, err = parseAmount(amount); err != nil {
		return Payment{}, err
	}
	if p.Metadata, err = decodeMetadata(metadata); err != nil {
		return Payment{}, err
	}
	return p, nil
}

func (t *pgTx) InsertPayment(ctx context.Context, p *Payment) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = stamp(p.CreatedAt)
	meta, err := encodeMetadata(p.Metadata)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO payments
        (id, user_id, amount, currency, payment_type, status, metadata, transaction_id, created_at)
        VALUES ($1, $2, $3::numeric, $4, $5, $6, $7::jsonb, $8, $9)`,
		p.ID, p.UserID, p.Amount.String(), p.Currency, p.Type, p.Status, meta, p.TransactionID, p.CreatedAt)
	return translate(err)
}

func (t *pgTx) GetPayment(ctx context.Context, id uuid.UUID) (Payment, error) {
	return scanPayment(t.tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
}

func (t *pgTx) LockPayment(ctx context.Context, id uuid.UUID) (Payment, error) {
	return scanPayment(t.tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) UpdatePayment(ctx context.Context, p Payment) error {
	meta, err := encodeMetadata(p.Metadata)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `UPDATE payments SET status = $2, metadata = $3::jsonb, transaction_id = $4,
        paid_at = $5, failure_reason = $6, refunded_at = $7 WHERE id = $1`,
		p.ID, p.Status, meta, p.TransactionID, p.PaidAt, p.FailureReason, p.RefundedAt)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) ListPayments(ctx context.Context, userID string, page Page) ([]Payment, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+paymentColumns+` FROM payments
        WHERE ($1 = '' OR user_id = $1) ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`,
		userID, page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// recharges

const rechargeColumns = `id, user_id, amount::text, currency, provider, reference, method, status,
        transaction_id, requested_at, completed_at, failure_reason`

func scanRecharge(row pgx.Row) (Recharge, error) {
	var (
		r      Recharge
		amount string
	)
	if err := row.Scan(&r.ID, &r.UserID, &amount, &r.Currency, &r.Provider, &r.Reference, &r.Method,
		&r.Status, &r.TransactionID, &r.RequestedAt, &r.CompletedAt, &r.FailureReason); err != nil {
		return Recharge{}, translate(err)
	}
	d, err := parseAmount(amount)
	if err != nil {
		return Recharge{}, err
	}
	r.Amount = d
	return r, nil
}

func (t *pgTx) InsertRecharge(ctx context.Context, r *Recharge) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	r.RequestedAt = stamp(r.RequestedAt)
	_, err := t.tx.Exec(ctx, `INSERT INTO recharges
        (id, user_id, amount, currency, provider, reference, method, status, requested_at)
        VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.UserID, r.Amount.String(), r.Currency, r.Provider, r.Reference, r.Method, r.Status, r.RequestedAt)
	return translate(err)
}

func (t *pgTx) GetRecharge(ctx context.Context, id uuid.UUID) (Recharge, error) {
	return scanRecharge(t.tx.QueryRow(ctx, `SELECT `+rechargeColumns+` FROM recharges WHERE id = $1`, id))
}

func (t *pgTx) LockRecharge(ctx context.Context, id uuid.UUID) (Recharge, error) {
	return scanRecharge(t.tx.QueryRow(ctx, `SELECT `+rechargeColumns+` FROM recharges WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) UpdateRecharge(ctx context.Context, r Recharge) error {
	tag, err := t.tx.Exec(ctx, `UPDATE recharges SET status = $2, transaction_id = $3, completed_at = $4,
        failure_reason = $5 WHERE id = $1`, r.ID, r.Status, r.TransactionID, r.CompletedAt, r.FailureReason)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) ListRecharges(ctx context.Context, userID string, page Page) ([]Recharge, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+rechargeColumns+` FROM recharges
        WHERE ($1 = '' OR user_id = $1) ORDER BY requested_at DESC, id LIMIT $2 OFFSET $3`,
		userID, page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Recharge
	for rows.Next() {
		r, err := scanRecharge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// transfers

const transferColumns = `id, sender_id, receiver_id, amount::text, currency, status, description,
        sender_transaction_id, receiver_transaction_id, requested_at, completed_at, failure_reason`

func scanTransfer(row pgx.Row) (FundTransfer, error) {
	var (
		ft     FundTransfer
		amount string
	)
	if err := row.Scan(&ft.ID, &ft.SenderID, &ft.ReceiverID, &amount, &ft.Currency, &ft.Status, &ft.Description,
		&ft.SenderTransactionID, &ft.ReceiverTransactionID, &ft.RequestedAt, &ft.CompletedAt, &ft.FailureReason); err != nil {
		return FundTransfer{}, translate(err)
	}
	d, err := parseAmount(amount)
	if err != nil {
		return FundTransfer{}, err
	}
	ft.Amount = d
	return ft, nil
}

func (t *pgTx) InsertTransfer(ctx context.Context, ft *FundTransfer) error {
	if ft.ID == uuid.Nil {
		ft.ID = uuid.New()
	}
	ft.RequestedAt = stamp(ft.RequestedAt)
	_, err := t.tx.Exec(ctx, `INSERT INTO fund_transfers
        (id, sender_id, receiver_id, amount, currency, status, description, requested_at)
        VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)`,
		ft.ID, ft.SenderID, ft.ReceiverID, ft.Amount.String(), ft.Currency, ft.Status, ft.Description, ft.RequestedAt)
	return translate(err)
}

func (t *pgTx) GetTransfer(ctx context.Context, id uuid.UUID) (FundTransfer, error) {
	return scanTransfer(t.tx.QueryRow(ctx, `SELECT `+transferColumns+` FROM fund_transfers WHERE id = $1`, id))
}

func (t *pgTx) LockTransfer(ctx context.Context, id uuid.UUID) (FundTransfer, error) {
	return scanTransfer(t.tx.QueryRow(ctx, `SELECT `+transferColumns+` FROM fund_transfers WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) UpdateTransfer(ctx context.Context, ft FundTransfer) error {
	tag, err := t.tx.Exec(ctx, `UPDATE fund_transfers SET status = $2, sender_transaction_id = $3,
        receiver_transaction_id = $4, completed_at = $5, failure_reason = $6 WHERE id = $1`,
		ft.ID, ft.Status, ft.SenderTransactionID, ft.ReceiverTransactionID, ft.CompletedAt, ft.FailureReason)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) ListTransfers(ctx context.Context, userID string, page Page) ([]FundTransfer, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+transferColumns+` FROM fund_transfers
        WHERE ($1 = '' OR sender_id = $1 OR receiver_id = $1)
        ORDER BY requested_at DESC, id LIMIT $2 OFFSET $3`, userID, page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FundTransfer
	for rows.Next() {
		ft, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ft)
	}
	return out, rows.Err()
}

// wallets

const walletColumns = `id, user_id, balance_id, network, COALESCE(public_key, ''), address, wallet_type,
        external_balance::text, is_verified, is_active, last_synced_at, created_at`

func scanWallet(row pgx.Row) (Wallet, error) {
	var (
		w       Wallet
		balance string
	)
	if err := row.Scan(&w.ID, &w.UserID, &w.BalanceID, &w.Network, &w.PublicKey, &w.Address, &w.Type,
		&balance, &w.IsVerified, &w.IsActive, &w.LastSyncedAt, &w.CreatedAt); err != nil {
		return Wallet{}, translate(err)
	}
	d, err := parseAmount(balance)
	if err != nil {
		return Wallet{}, err
	}
	w.ExternalBalance = d
	return w, nil
}

func collectWallets(rows pgx.Rows) ([]Wallet, error) {
	defer rows.Close()
	var out []Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertWallet(ctx context.Context, w *Wallet) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	w.CreatedAt = stamp(w.CreatedAt)
	var publicKey *string
	if w.PublicKey != "" {
		publicKey = &w.PublicKey
	}
	_, err := t.tx.Exec(ctx, `INSERT INTO wallets
        (id, user_id, balance_id, network, public_key, address, wallet_type, external_balance,
         is_verified, is_active, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11)`,
		w.ID, w.UserID, w.BalanceID, w.Network, publicKey, w.Address, w.Type, w.ExternalBalance.String(),
		w.IsVerified, w.IsActive, w.CreatedAt)
	return translate(err)
}

func (t *pgTx) GetWallet(ctx context.Context, id uuid.UUID) (Wallet, error) {
	return scanWallet(t.tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id))
}

func (t *pgTx) FindActiveWallet(ctx context.Context, userID, network string) (Wallet, error) {
	return scanWallet(t.tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets
        WHERE user_id = $1 AND network = $2 AND is_active ORDER BY created_at LIMIT 1`, userID, network))
}

func (t *pgTx) ListWallets(ctx context.Context, userID string) ([]Wallet, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	return collectWallets(rows)
}

func (t *pgTx) ListActiveWallets(ctx context.Context, network string) ([]Wallet, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+walletColumns+` FROM wallets
        WHERE network = $1 AND is_active ORDER BY created_at`, network)
	if err != nil {
		return nil, err
	}
	return collectWallets(rows)
}

func (t *pgTx) UpdateWallet(ctx context.Context, w Wallet) error {
	tag, err := t.tx.Exec(ctx, `UPDATE wallets SET external_balance = $2::numeric, is_verified = $3,
        is_active = $4, last_synced_at = $5 WHERE id = $1`,
		w.ID, w.ExternalBalance.String(), w.IsVerified, w.IsActive, w.LastSyncedAt)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// settlement targets

var targetTables = map[PaymentType]struct{ table, paidColumn string }{
	PaymentFine:     {"fines", "is_paid"},
	PaymentToll:     {"toll_debts", "is_fully_paid"},
	PaymentRenewal:  {"document_renewals", "is_paid"},
	PaymentContract: {"contracts", "is_paid"},
}

func (t *pgTx) LockTarget(ctx context.Context, kind PaymentType, id int64) (Target, error) {
	tbl, ok := targetTables[kind]
	if !ok {
		return Target{}, ErrNotFound
	}
	target := Target{Kind: kind, ID: id}
	query := fmt.Sprintf(`SELECT %s, paid_at FROM %s WHERE id = $1 FOR UPDATE`, tbl.paidColumn, tbl.table)
	if err := t.tx.QueryRow(ctx, query, id).Scan(&target.Paid, &target.PaidAt); err != nil {
		return Target{}, translate(err)
	}
	return target, nil
}

func (t *pgTx) SetTargetPaid(ctx context.Context, kind PaymentType, id int64, paid bool, at *time.Time) error {
	tbl, ok := targetTables[kind]
	if !ok {
		return ErrNotFound
	}
	query := fmt.Sprintf(`UPDATE %s SET %s = $2, paid_at = $3 WHERE id = $1`, tbl.table, tbl.paidColumn)
	tag, err := t.tx.Exec(ctx, query, id, paid, at)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
