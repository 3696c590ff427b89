package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"payrollx/internal/domain/payroll"
)

// timeLayout is fixed width so text comparison orders like time.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) (time.Time, error) {
	return time.Parse(timeLayout, raw)
}

type Store struct {
	DB *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{DB: db}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

func (s *Store) Create(ctx context.Context, run payroll.Run) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if run.Version == 0 {
		run.Version = 1
	}
	if _, err := tx.ExecContext(ctx, `
    INSERT INTO payroll_runs (id, organization_id, status, scheduled_at, currency, total_amount, source_wallet, created_by, version, created_at, updated_at)
    VALUES (?,?,?,?,?,?,?,?,?,?,?)
  `, run.ID, run.OrganizationID, string(run.Status), formatTime(run.ScheduledAt), run.Currency, run.TotalAmount.String(),
		run.SourceWallet, run.CreatedBy, run.Version, formatTime(run.CreatedAt), formatTime(run.UpdatedAt)); err != nil {
		return fmt.Errorf("insert payroll run: %w", err)
	}
	for i, item := range run.Items {
		if _, err := tx.ExecContext(ctx, `
      INSERT INTO payroll_items (id, run_id, position, employee_id, amount, status, tx_signature, retry_count, last_error, destination_wallet, updated_at)
      VALUES (?,?,?,?,?,?,?,?,?,?,?)
    `, item.ID, run.ID, i, item.EmployeeID, item.Amount.String(), string(item.Status), item.TxSignature,
			item.RetryCount, item.LastError, item.DestinationWallet, formatTime(item.UpdatedAt)); err != nil {
			return fmt.Errorf("insert payroll item: %w", err)
		}
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

const runColumns = `id, organization_id, status, scheduled_at, currency, total_amount, source_wallet, created_by, version, created_at, updated_at`

func scanRun(row scanner) (payroll.Run, error) {
	var run payroll.Run
	var status, scheduled, total, created, updated string
	if err := row.Scan(&run.ID, &run.OrganizationID, &status, &scheduled, &run.Currency, &total,
		&run.SourceWallet, &run.CreatedBy, &run.Version, &created, &updated); err != nil {
		return payroll.Run{}, err
	}
	run.Status = payroll.RunStatus(status)
	var err error
	if run.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return payroll.Run{}, fmt.Errorf("payroll run %s total: %w", run.ID, err)
	}
	if run.ScheduledAt, err = parseTime(scheduled); err != nil {
		return payroll.Run{}, err
	}
	if run.CreatedAt, err = parseTime(created); err != nil {
		return payroll.Run{}, err
	}
	if run.UpdatedAt, err = parseTime(updated); err != nil {
		return payroll.Run{}, err
	}
	return run, nil
}

const itemColumns = `id, run_id, employee_id, amount, status, tx_signature, retry_count, last_error, destination_wallet, updated_at`

func scanItem(row scanner) (payroll.Item, error) {
	var item payroll.Item
	var amount, status, updated string
	if err := row.Scan(&item.ID, &item.RunID, &item.EmployeeID, &amount, &status, &item.TxSignature,
		&item.RetryCount, &item.LastError, &item.DestinationWallet, &updated); err != nil {
		return payroll.Item{}, err
	}
	item.Status = payroll.ItemStatus(status)
	var err error
	if item.Amount, err = decimal.NewFromString(amount); err != nil {
		return payroll.Item{}, fmt.Errorf("payroll item %s amount: %w", item.ID, err)
	}
	if item.UpdatedAt, err = parseTime(updated); err != nil {
		return payroll.Item{}, err
	}
	return item, nil
}

func (s *Store) Load(ctx context.Context, runID string) (payroll.Run, error) {
	run, err := scanRun(s.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM payroll_runs WHERE id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
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
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(runIDs)), ",")
	args := make([]any, len(runIDs))
	for i, id := range runIDs {
		args[i] = id
	}
	rows, err := s.DB.QueryContext(ctx, `
    SELECT `+itemColumns+`
    FROM payroll_items
    WHERE run_id IN (`+placeholders+`)
    ORDER BY run_id, position
  `, args...)
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
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
    UPDATE payroll_runs
    SET status = ?, source_wallet = ?, total_amount = ?, updated_at = ?, version = version + 1
    WHERE id = ? AND version = ?
  `, string(run.Status), run.SourceWallet, run.TotalAmount.String(), formatTime(run.UpdatedAt), run.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("update payroll run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM payroll_runs WHERE id = ?`, run.ID).Scan(&count); err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("%w: %s", payroll.ErrRunNotFound, run.ID)
		}
		return fmt.Errorf("%w: run %s expected version %d", payroll.ErrVersionConflict, run.ID, expectedVersion)
	}

	for _, item := range run.Items {
		if _, err := tx.ExecContext(ctx, `
      UPDATE payroll_items
      SET status = ?, tx_signature = ?, retry_count = ?, last_error = ?, destination_wallet = ?, updated_at = ?
      WHERE id = ? AND run_id = ?
    `, string(item.Status), item.TxSignature, item.RetryCount, item.LastError, item.DestinationWallet,
			formatTime(item.UpdatedAt), item.ID, run.ID); err != nil {
			return fmt.Errorf("update payroll item: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) List(ctx context.Context, organizationID string, limit, offset int) ([]payroll.Run, int, error) {
	var total int
	if err := s.DB.QueryRowContext(ctx, `
    SELECT COUNT(1) FROM payroll_runs WHERE (? = '' OR organization_id = ?)
  `, organizationID, organizationID).Scan(&total); err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
    SELECT `+runColumns+`
    FROM payroll_runs
    WHERE (? = '' OR organization_id = ?)
    ORDER BY created_at DESC, id
    LIMIT ? OFFSET ?
  `, organizationID, organizationID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	var runs []payroll.Run
	var ids []string
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		runs = append(runs, run)
		ids = append(ids, run.ID)
	}
	rows.Close()
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
	rows, err := s.DB.QueryContext(ctx, `
    SELECT id
    FROM payroll_runs
    WHERE (status = 'draft' AND scheduled_at <= ?) OR status = 'pending'
    ORDER BY scheduled_at, id
    LIMIT ?
  `, formatTime(now), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) ListRetryable(ctx context.Context, maxRetries, limit int) ([]payroll.RetryGroup, error) {
	rows, err := s.DB.QueryContext(ctx, `
    SELECT i.run_id, i.id
    FROM payroll_items i
    JOIN payroll_runs r ON r.id = i.run_id
    WHERE r.status IN ('processing','failed') AND i.status = 'failed' AND i.retry_count < ?
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
	rows, err := s.DB.QueryContext(ctx, `
    SELECT `+itemColumns+`
    FROM payroll_items
    WHERE status = 'failed' AND retry_count >= ?
      AND (? = '' OR run_id IN (SELECT id FROM payroll_runs WHERE organization_id = ?))
    ORDER BY run_id, position
    LIMIT ?
  `, maxRetries, organizationID, organizationID, limit)
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

// JobRecorder stores job executions in the SQLite job_runs table.
type JobRecorder struct {
	DB *sql.DB
}

func (r JobRecorder) Begin(ctx context.Context, jobType string) (string, error) {
	id := uuid.NewString()
	_, err := r.DB.ExecContext(ctx, `
    INSERT INTO job_runs (id, job_type, status, started_at)
    VALUES (?,?,?,?)
  `, id, jobType, "running", formatTime(time.Now()))
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r JobRecorder) Finish(ctx context.Context, id, status string, detailsJSON []byte) error {
	_, err := r.DB.ExecContext(ctx, `
    UPDATE job_runs
    SET status = ?, details_json = ?, completed_at = ?
    WHERE id = ?
  `, status, string(detailsJSON), formatTime(time.Now()), id)
	return err
}
