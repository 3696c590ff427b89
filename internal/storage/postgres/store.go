package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"payrollx/internal/domain/payroll"
)

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{DB: db}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.DB.Ping(ctx)
}

func (s *Store) Create(ctx context.Context, run payroll.Run) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if run.Version == 0 {
		run.Version = 1
	}
	if _, err := tx.Exec(ctx, `
    INSERT INTO payroll_runs (id, organization_id, status, scheduled_at, currency, total_amount, source_wallet, created_by, version, created_at, updated_at)
    VALUES ($1,$2,$3,$4,$5,$6::numeric,$7,$8,$9,$10,$11)
  `, run.ID, run.OrganizationID, run.Status, run.ScheduledAt, run.Currency, run.TotalAmount.String(),
		run.SourceWallet, run.CreatedBy, run.Version, run.CreatedAt, run.UpdatedAt); err != nil {
		return fmt.Errorf("insert payroll run: %w", err)
	}

	batch := &pgx.Batch{}
	for i, item := range run.Items {
		batch.Queue(`
      INSERT INTO payroll_items (id, run_id, position, employee_id, amount, status, tx_signature, retry_count, last_error, destination_wallet, updated_at)
      VALUES ($1,$2,$3,$4,$5::numeric,$6,$7,$8,$9,$10,$11)
    `, item.ID, run.ID, i, item.EmployeeID, item.Amount.String(), item.Status, item.TxSignature,
			item.RetryCount, item.LastError, item.DestinationWallet, item.UpdatedAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert payroll items: %w", err)
	}
	return tx.Commit(ctx)
}

const runColumns = `id, organization_id, status, scheduled_at, currency, total_amount::text, source_wallet, created_by, version, created_at, updated_at`

func scanRun(row pgx.Row) (payroll.Run, error) {
	var run payroll.Run
	var total string
	if err := row.Scan(&run.ID, &run.OrganizationID, &run.Status, &run.ScheduledAt, &run.Currency, &total,
		&run.SourceWallet, &run.CreatedBy, &run.Version, &run.CreatedAt, &run.UpdatedAt); err != nil {
		return payroll.Run{}, err
	}
	amount, err := decimal.NewFromString(total)
	if err != nil {
		return payroll.Run{}, fmt.Errorf("payroll run %s total: %w", run.ID, err)
	}
	run.TotalAmount = amount
	run.ScheduledAt = run.ScheduledAt.UTC()
	run.CreatedAt = run.CreatedAt.UTC()
	run.UpdatedAt = run.UpdatedAt.UTC()
	return run, nil
}

const itemColumns = `id, run_id, employee_id, amount::text, status, tx_signature, retry_count, last_error, destination_wallet, updated_at`

func scanItem(row pgx.Row) (payroll.Item, error) {
	var item payroll.Item
	var amount string
	if err := row.Scan(&item.ID, &item.RunID, &item.EmployeeID, &amount, &item.Status, &item.TxSignature,
		&item.RetryCount, &item.LastError, &item.DestinationWallet, &item.UpdatedAt); err != nil {
		return payroll.Item{}, err
	}
	value, err := decimal.NewFromString(amount)
	if err != nil {
		return payroll.Item{}, fmt.Errorf("payroll item %s amount: %w", item.ID, err)
	}
	item.Amount = value
	item.UpdatedAt = item.UpdatedAt.UTC()
	return item, nil
}

func (s *Store) Load(ctx context.Context, runID string) (payroll.Run, error) {
	run, err := scanRun(s.DB.QueryRow(ctx, `SELECT `+runColumns+` FROM payroll_runs WHERE id = $1`, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return payroll.Run{}, fmt.Errorf("%w: %s", payroll.ErrRunNotFound, runID)
	}
	if err != nil {
		return payroll.Run{}, err
	}
	items, err := s.items(ctx, []string{runID})
	if err != nil {
		return payroll.Run{}, err
	}
	run.Items = items[runID]
	return run, nil
}

func (s *Store) items(ctx context.Context, runIDs []string) (map[string][]payroll.Item, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT `+itemColumns+`
    FROM payroll_items
    WHERE run_id = ANY($1)
    ORDER BY run_id, position
  `, runIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string][]payroll.Item, len(runIDs))
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out[item.RunID] = append(out[item.RunID], item)
	}
	return out, rows.Err()
}

func (s *Store) Save(ctx context.Context, run payroll.Run, expectedVersion int64) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
    UPDATE payroll_runs
    SET status = $1, source_wallet = $2, total_amount = $3::numeric, updated_at = $4, version = version + 1
    WHERE id = $5 AND version = $6
  `, run.Status, run.SourceWallet, run.TotalAmount.String(), run.UpdatedAt, run.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("update payroll run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payroll_runs WHERE id = $1)`, run.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %s", payroll.ErrRunNotFound, run.ID)
		}
		return fmt.Errorf("%w: run %s expected version %d", payroll.ErrVersionConflict, run.ID, expectedVersion)
	}

	batch := &pgx.Batch{}
	for _, item := range run.Items {
		batch.Queue(`
      UPDATE payroll_items
      SET status = $1, tx_signature = $2, retry_count = $3, last_error = $4, destination_wallet = $5, updated_at = $6
      WHERE id = $7 AND run_id = $8
    `, item.Status, item.TxSignature, item.RetryCount, item.LastError, item.DestinationWallet, item.UpdatedAt, item.ID, run.ID)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("update payroll items: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Store) List(ctx context.Context, organizationID string, limit, offset int) ([]payroll.Run, int, error) {
	var total int
	if err := s.DB.QueryRow(ctx, `
    SELECT COUNT(1) FROM payroll_runs WHERE ($1 = '' OR organization_id = $1)
  `, organizationID).Scan(&total); err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.Query(ctx, `
    SELECT `+runColumns+`
    FROM payroll_runs
    WHERE ($1 = '' OR organization_id = $1)
    ORDER BY created_at DESC, id
    LIMIT $2 OFFSET $3
  `, organizationID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var runs []payroll.Run
	var ids []string
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
		ids = append(ids, run.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if len(ids) == 0 {
		return runs, total, nil
	}
	items, err := s.items(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range runs {
		runs[i].Items = items[runs[i].ID]
	}
	return runs, total, nil
}

func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT id
    FROM payroll_runs
    WHERE (status = 'draft' AND scheduled_at <= $1) OR status = 'pending'
    ORDER BY scheduled_at, id
    LIMIT $2
  `, now, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *Store) ListRetryable(ctx context.Context, maxRetries, limit int) ([]payroll.RetryGroup, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT i.run_id, i.id
    FROM payroll_items i
    JOIN payroll_runs r ON r.id = i.run_id
    WHERE r.status IN ('processing','failed') AND i.status = 'failed' AND i.retry_count < $1
    ORDER BY i.run_id, i.position
  `, maxRetries)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var groups []payroll.RetryGroup
	for rows.Next() {
		var runID, itemID string
		if err := rows.Scan(&runID, &itemID); err != nil {
			return nil, err
		}
		if n := len(groups); n > 0 && groups[n-1].RunID == runID {
			groups[n-1].ItemIDs = append(groups[n-1].ItemIDs, itemID)
			continue
		}
		if limit > 0 && len(groups) == limit {
			break
		}
		groups = append(groups, payroll.RetryGroup{RunID: runID, ItemIDs: []string{itemID}})
	}
	return groups, rows.Err()
}

func (s *Store) ListExhausted(ctx context.Context, organizationID string, maxRetries, limit int) ([]payroll.Item, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.Query(ctx, `
    SELECT `+itemColumns+`
    FROM payroll_items
    WHERE status = 'failed' AND retry_count >= $1
      AND ($2 = '' OR run_id IN (SELECT id FROM payroll_runs WHERE organization_id = $2))
    ORDER BY run_id, position
    LIMIT $3
  `, maxRetries, organizationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []payroll.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
