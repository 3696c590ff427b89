package payroll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"payrollx/internal/platform/events"
	"payrollx/internal/platform/lease"
	"payrollx/internal/platform/metrics"
)

type Config struct {
	MaxRetries          int
	CallTimeout         time.Duration
	LeaseTTL            time.Duration
	ConflictRetries     int
	DispatchConcurrency int
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 2 * time.Minute
	}
	if c.ConflictRetries <= 0 {
		c.ConflictRetries = 5
	}
	if c.DispatchConcurrency <= 0 {
		c.DispatchConcurrency = 8
	}
	return c
}

type Deps struct {
	Store     StoreAPI
	Directory Directory
	Treasury  Treasury
	Tx        TransactionService
	Locker    lease.Locker
	Publisher events.Publisher
	Logger    *slog.Logger
	Metrics   Recorder
	Tracer    trace.Tracer
	Now       func() time.Time
	NewID     func() string
}

// Coordinator drives runs through their lifecycle. Every state-changing
// operation holds the run's lease and writes with the loaded version.
type Coordinator struct {
	cfg       Config
	store     StoreAPI
	directory Directory
	treasury  Treasury
	tx        TransactionService
	locker    lease.Locker
	publisher events.Publisher
	log       *slog.Logger
	metrics   Recorder
	tracer    trace.Tracer
	now       func() time.Time
	newID     func() string
}

func NewCoordinator(cfg Config, deps Deps) *Coordinator {
	c := &Coordinator{
		cfg:       cfg.withDefaults(),
		store:     deps.Store,
		directory: deps.Directory,
		treasury:  deps.Treasury,
		tx:        deps.Tx,
		locker:    deps.Locker,
		publisher: deps.Publisher,
		log:       deps.Logger,
		metrics:   deps.Metrics,
		tracer:    deps.Tracer,
		now:       deps.Now,
		newID:     deps.NewID,
	}
	if c.locker == nil {
		c.locker = lease.NewMemory()
	}
	if c.publisher == nil {
		c.publisher = events.NewMemory()
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.metrics == nil {
		c.metrics = nopRecorder{}
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer("payrollx/payroll")
	}
	if c.now == nil {
		c.now = func() time.Time { return time.Now().UTC() }
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	return c
}

func (c *Coordinator) MaxRetries() int {
	return c.cfg.MaxRetries
}

type heldLeaseKey struct{}

// WithLease runs fn while holding the run's lease. Nested calls for the
// same run reuse the lease already carried by ctx.
func (c *Coordinator) WithLease(ctx context.Context, runID string, fn func(ctx context.Context) error) error {
	if held, _ := ctx.Value(heldLeaseKey{}).(string); held == runID {
		return fn(ctx)
	}
	l, err := c.locker.Acquire(ctx, "payroll-run:"+runID, c.cfg.LeaseTTL)
	if errors.Is(err, lease.ErrHeld) {
		c.metrics.Inc(metrics.LeaseSkips, 1)
		c.log.Debug("payroll run lease held elsewhere", "runId", runID)
		return fmt.Errorf("%w: %s", ErrRunBusy, runID)
	}
	if err != nil {
		return err
	}
	defer func() {
		if err := l.Release(context.WithoutCancel(ctx)); err != nil {
			c.log.Warn("payroll run lease release failed", "runId", runID, "err", err)
		}
	}()

	leaseCtx, lost := context.WithCancelCause(ctx)
	defer lost(nil)
	stop := c.keepLease(leaseCtx, l, runID, lost)
	err = fn(context.WithValue(leaseCtx, heldLeaseKey{}, runID))
	stop()
	if cause := context.Cause(leaseCtx); err != nil && errors.Is(cause, ErrRunBusy) {
		return fmt.Errorf("%w: %w", cause, err)
	}
	return err
}

// keepLease extends the lease every third of its TTL until stop is called.
// Losing the lease cancels ctx with an ErrRunBusy cause so in-flight work
// stops before it saves.
func (c *Coordinator) keepLease(ctx context.Context, l lease.Lease, runID string, lost context.CancelCauseFunc) (stop func()) {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(max(c.cfg.LeaseTTL/3, time.Millisecond))
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := l.Extend(ctx, c.cfg.LeaseTTL)
				if errors.Is(err, lease.ErrLost) {
					c.log.Warn("payroll run lease lost", "runId", runID)
					lost(fmt.Errorf("%w: lease lost for %s", ErrRunBusy, runID))
					return
				}
				if err != nil {
					c.log.Warn("payroll run lease renewal failed", "runId", runID, "err", err)
				}
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

func (c *Coordinator) startSpan(ctx context.Context, name, runID string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "payroll."+name, trace.WithAttributes(attribute.String("payroll.run_id", runID)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (c *Coordinator) CreateDraft(ctx context.Context, req DraftRequest) (Run, error) {
	if err := validateDraft(req); err != nil {
		return Run{}, err
	}
	now := c.now()
	scheduled := req.ScheduledAt.UTC()
	if req.ScheduledAt.IsZero() {
		scheduled = now
	}
	run := Run{
		ID:             c.newID(),
		OrganizationID: strings.TrimSpace(req.OrganizationID),
		Status:         RunStatusDraft,
		ScheduledAt:    scheduled,
		Currency:       strings.ToUpper(strings.TrimSpace(req.Currency)),
		CreatedBy:      req.CreatedBy,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
		Items:          make([]Item, 0, len(req.Items)),
	}
	for _, in := range req.Items {
		run.Items = append(run.Items, Item{
			ID:         c.newID(),
			RunID:      run.ID,
			EmployeeID: strings.TrimSpace(in.EmployeeID),
			Amount:     in.Amount,
			Status:     ItemStatusPending,
			UpdatedAt:  now,
		})
	}
	run.TotalAmount = run.Sum()
	if err := c.store.Create(ctx, run); err != nil {
		return Run{}, fmt.Errorf("create payroll run: %w", err)
	}
	c.log.Info("payroll run drafted", "runId", run.ID, "organizationId", run.OrganizationID, "items", len(run.Items), "total", run.TotalAmount.String())
	return run, nil
}

func validateDraft(req DraftRequest) error {
	var problems []string
	if strings.TrimSpace(req.OrganizationID) == "" {
		problems = append(problems, "organizationId is required")
	}
	if strings.TrimSpace(req.Currency) == "" {
		problems = append(problems, "currency is required")
	}
	if len(req.Items) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidRun, ErrEmptyRun)
	}
	seen := make(map[string]bool, len(req.Items))
	for i, item := range req.Items {
		employee := strings.TrimSpace(item.EmployeeID)
		switch {
		case employee == "":
			problems = append(problems, fmt.Sprintf("items[%d].employeeId is required", i))
		case seen[employee]:
			problems = append(problems, fmt.Sprintf("items[%d].employeeId %s is duplicated", i, employee))
		}
		seen[employee] = true
		if !item.Amount.IsPositive() {
			problems = append(problems, fmt.Sprintf("items[%d].amount must be positive", i))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRun, strings.Join(problems, "; "))
	}
	return nil
}

func (c *Coordinator) GetRun(ctx context.Context, runID string) (Run, error) {
	return c.store.Load(ctx, runID)
}

func (c *Coordinator) ListRuns(ctx context.Context, organizationID string, limit, offset int) ([]Run, int, error) {
	return c.store.List(ctx, organizationID, limit, offset)
}

func (c *Coordinator) ListExhausted(ctx context.Context, organizationID string, limit int) ([]Item, error) {
	return c.store.ListExhausted(ctx, organizationID, c.cfg.MaxRetries, limit)
}

// Execute moves a Draft run to Pending once every employee is approved.
// Any unapproved, unknown or unreachable employee blocks the whole run.
func (c *Coordinator) Execute(ctx context.Context, runID string) (run Run, err error) {
	ctx, span := c.startSpan(ctx, "Execute", runID)
	defer func() { endSpan(span, err) }()

	err = c.WithLease(ctx, runID, func(ctx context.Context) error {
		loaded, err := c.store.Load(ctx, runID)
		if err != nil {
			return err
		}
		if loaded.Status != RunStatusDraft {
			return transitionError("run "+runID, loaded.Status, RunStatusPending)
		}
		if len(loaded.Items) == 0 {
			return fmt.Errorf("%w: %w", ErrInvalidRun, ErrEmptyRun)
		}
		if blocked := c.unapproved(ctx, loaded); len(blocked) > 0 {
			return &NotApprovedError{EmployeeIDs: blocked}
		}

		staged := loaded.Clone()
		staged.Status = RunStatusPending
		staged.UpdatedAt = c.now()
		if err := c.save(ctx, &staged, loaded.Version); err != nil {
			return err
		}
		run = staged
		return nil
	})
	if err != nil {
		return Run{}, err
	}
	c.metrics.Inc(metrics.RunsExecuted, 1)
	c.log.Info("payroll run approved for dispatch", "runId", runID)
	return run, nil
}

func (c *Coordinator) unapproved(ctx context.Context, run Run) []string {
	statuses := make([]ApprovalStatus, len(run.Items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.DispatchConcurrency)
	for i, item := range run.Items {
		i, item := i, item
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, c.cfg.CallTimeout)
			defer cancel()
			status, err := c.directory.ApprovalStatus(callCtx, run.OrganizationID, item.EmployeeID)
			if err != nil {
				c.log.Warn("approval lookup failed", "runId", run.ID, "employeeId", item.EmployeeID, "err", err)
				status = ApprovalUnknown
			}
			statuses[i] = status
			return nil
		})
	}
	_ = g.Wait()

	var blocked []string
	for i, status := range statuses {
		if status != ApprovalApproved {
			blocked = append(blocked, run.Items[i].EmployeeID)
		}
	}
	return blocked
}

type submission struct {
	result SubmitResult
	err    error
}

// BeginDispatch submits every eligible item. A Pending run is dispatched
// for the first time; a Processing or Failed run re-dispatches only its
// failed items that still have retries left. Nothing is written when
// wallets cannot be resolved or the transaction service is unreachable
// for the whole batch.
func (c *Coordinator) BeginDispatch(ctx context.Context, runID string) (run Run, err error) {
	ctx, span := c.startSpan(ctx, "BeginDispatch", runID)
	defer func() { endSpan(span, err) }()

	var retry bool
	err = c.WithLease(ctx, runID, func(ctx context.Context) error {
		loaded, err := c.store.Load(ctx, runID)
		if err != nil {
			return err
		}
		switch loaded.Status {
		case RunStatusPending:
		case RunStatusProcessing, RunStatusFailed:
			retry = true
		default:
			return transitionError("run "+runID, loaded.Status, RunStatusProcessing)
		}

		var eligible []int
		for i, item := range loaded.Items {
			if Eligible(item, c.cfg.MaxRetries) {
				eligible = append(eligible, i)
			}
		}
		if len(eligible) == 0 {
			if loaded.Status == RunStatusFailed {
				return fmt.Errorf("%w: run %s has no retryable items", ErrRetryExhausted, runID)
			}
			run = loaded
			return nil
		}

		staged := loaded.Clone()
		if err := c.resolveWallets(ctx, &staged, eligible); err != nil {
			c.metrics.Inc(metrics.DispatchUnavailable, 1)
			return err
		}
		for _, idx := range eligible {
			item, err := Dispatch(staged.Items[idx], c.cfg.MaxRetries)
			if err != nil {
				return err
			}
			staged.Items[idx] = item
		}

		results := c.submit(ctx, staged, eligible)
		unavailable := 0
		for _, res := range results {
			if res.err != nil {
				unavailable++
			}
		}
		if unavailable == len(results) {
			c.metrics.Inc(metrics.DispatchUnavailable, 1)
			return fmt.Errorf("%w: transaction service: %v", ErrDispatchUnavailable, results[0].err)
		}

		now := c.now()
		for n, idx := range eligible {
			item := staged.Items[idx]
			item.UpdatedAt = now
			res := results[n]
			switch {
			case res.err != nil:
				item, _, _ = Fail(item, "transaction service unavailable: "+res.err.Error())
				c.metrics.Inc(metrics.ItemsFailed, 1)
			case !res.result.Accepted:
				item, _, _ = Fail(item, "rejected: "+res.result.Reason)
				c.metrics.Inc(metrics.ItemsRejected, 1)
			default:
				c.metrics.Inc(metrics.ItemsDispatched, 1)
			}
			staged.Items[idx] = item
		}

		status, err := Aggregate(staged.Items)
		if err != nil {
			return err
		}
		staged.Status = status
		staged.UpdatedAt = now
		if err := c.save(ctx, &staged, loaded.Version); err != nil {
			return err
		}
		run = staged

		c.publish(ctx, EventRunInitiated, run.ID, initiatedPayload(run, eligible, retry))
		if run.Status.Terminal() {
			c.publishTerminal(ctx, run)
		}
		c.log.Info("payroll run dispatched", "runId", run.ID, "retry", retry, "items", len(eligible), "unavailable", unavailable, "status", run.Status)
		return nil
	})
	if err != nil {
		return Run{}, err
	}
	return run, nil
}

func (c *Coordinator) resolveWallets(ctx context.Context, run *Run, eligible []int) error {
	if run.SourceWallet == "" {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		wallet, err := c.treasury.OrganizationWallet(callCtx, run.OrganizationID)
		cancel()
		if err != nil {
			return fmt.Errorf("%w: organization wallet: %v", ErrDispatchUnavailable, err)
		}
		run.SourceWallet = wallet
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.DispatchConcurrency)
	for _, idx := range eligible {
		item := &run.Items[idx]
		if item.DestinationWallet != "" {
			continue
		}
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, c.cfg.CallTimeout)
			defer cancel()
			wallet, err := c.directory.EmployeeWallet(callCtx, run.OrganizationID, item.EmployeeID)
			if err != nil {
				return fmt.Errorf("employee %s wallet: %v", item.EmployeeID, err)
			}
			item.DestinationWallet = wallet
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("%w: %v", ErrDispatchUnavailable, err)
	}
	return nil
}

func (c *Coordinator) submit(ctx context.Context, run Run, eligible []int) []submission {
	results := make([]submission, len(eligible))
	g := new(errgroup.Group)
	g.SetLimit(c.cfg.DispatchConcurrency)
	for n, idx := range eligible {
		n := n
		item := run.Items[idx]
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
			defer cancel()
			res, err := c.tx.Submit(callCtx, PaymentInstruction{
				Key:        IdempotencyKey{RunID: run.ID, ItemID: item.ID},
				FromWallet: run.SourceWallet,
				ToWallet:   item.DestinationWallet,
				Amount:     item.Amount,
				Currency:   run.Currency,
			})
			if err != nil {
				c.log.Warn("payment submission failed", "runId", run.ID, "itemId", item.ID, "err", err)
			}
			results[n] = submission{result: res, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func initiatedPayload(run Run, eligible []int, retry bool) RunInitiatedPayload {
	p := RunInitiatedPayload{
		PayrollRunID:   run.ID,
		OrganizationID: run.OrganizationID,
		Currency:       run.Currency,
		SourceWallet:   run.SourceWallet,
		Retry:          retry,
		Items:          make([]InitiatedItem, 0, len(eligible)),
	}
	for _, idx := range eligible {
		item := run.Items[idx]
		p.Items = append(p.Items, InitiatedItem{
			ItemID:            item.ID,
			EmployeeID:        item.EmployeeID,
			DestinationWallet: item.DestinationWallet,
			Amount:            item.Amount,
			IdempotencyKey:    IdempotencyKey{RunID: run.ID, ItemID: item.ID}.String(),
			Status:            item.Status,
		})
	}
	return p
}

// OnItemResult applies one inbound outcome. Duplicates leave state as is;
// a version conflict reloads and reapplies up to ConflictRetries times.
func (c *Coordinator) OnItemResult(ctx context.Context, key IdempotencyKey, outcome Outcome) (run Run, err error) {
	ctx, span := c.startSpan(ctx, "OnItemResult", key.RunID)
	span.SetAttributes(attribute.String("payroll.item_id", key.ItemID))
	defer func() { endSpan(span, err) }()

	err = c.WithLease(ctx, key.RunID, func(ctx context.Context) error {
		var lastErr error
		for attempt := 0; attempt < c.cfg.ConflictRetries; attempt++ {
			applied, err := c.applyResult(ctx, key, outcome)
			if errors.Is(err, ErrVersionConflict) {
				c.metrics.Inc(metrics.VersionConflicts, 1)
				lastErr = err
				continue
			}
			run = applied
			return err
		}
		return lastErr
	})
	if err != nil && !errors.Is(err, ErrConflictingCompletion) {
		return Run{}, err
	}
	return run, err
}

func (c *Coordinator) applyResult(ctx context.Context, key IdempotencyKey, outcome Outcome) (Run, error) {
	loaded, err := c.store.Load(ctx, key.RunID)
	if err != nil {
		return Run{}, err
	}
	idx := loaded.ItemIndex(key.ItemID)
	if idx < 0 {
		return Run{}, fmt.Errorf("%w: %s", ErrItemNotFound, key)
	}
	current := loaded.Items[idx]

	updated, changed, err := Apply(current, outcome)
	if errors.Is(err, ErrConflictingCompletion) {
		reported := ""
		if s, ok := outcome.(Success); ok {
			reported = s.Signature
		}
		c.metrics.Inc(metrics.Anomalies, 1)
		c.log.Error("conflicting completion for payroll item",
			"anomaly", true,
			"runId", key.RunID,
			"itemId", key.ItemID,
			"storedSignature", current.TxSignature,
			"reportedSignature", reported,
		)
		c.publish(ctx, EventItemAnomaly, key.RunID, AnomalyPayload{
			PayrollRunID:      key.RunID,
			ItemID:            key.ItemID,
			StoredSignature:   current.TxSignature,
			ReportedSignature: reported,
		})
		return loaded, err
	}
	if err != nil {
		return Run{}, err
	}
	if !changed {
		c.metrics.Inc(metrics.DuplicateResults, 1)
		c.log.Debug("duplicate payroll result ignored", "runId", key.RunID, "itemId", key.ItemID)
		return loaded, nil
	}

	staged := loaded.Clone()
	now := c.now()
	updated.UpdatedAt = now
	staged.Items[idx] = updated
	status, err := Aggregate(staged.Items)
	if err != nil {
		return Run{}, err
	}
	staged.Status = status
	staged.UpdatedAt = now
	if err := c.save(ctx, &staged, loaded.Version); err != nil {
		return Run{}, err
	}

	if updated.Status == ItemStatusCompleted {
		c.metrics.Inc(metrics.ItemsCompleted, 1)
	} else {
		c.metrics.Inc(metrics.ItemsFailed, 1)
	}
	c.publish(ctx, EventItemSettled, staged.ID, ItemSettledPayload{
		PayrollRunID: staged.ID,
		ItemID:       updated.ID,
		Status:       updated.Status,
		TxSignature:  updated.TxSignature,
		Reason:       updated.LastError,
		RetryCount:   updated.RetryCount,
	})
	if staged.Status != loaded.Status && staged.Status.Terminal() {
		c.publishTerminal(ctx, staged)
		c.log.Info("payroll run settled", "runId", staged.ID, "status", staged.Status)
	}
	return staged, nil
}

// Cancel is only legal before dispatch.
func (c *Coordinator) Cancel(ctx context.Context, runID string) (run Run, err error) {
	ctx, span := c.startSpan(ctx, "Cancel", runID)
	defer func() { endSpan(span, err) }()

	err = c.WithLease(ctx, runID, func(ctx context.Context) error {
		loaded, err := c.store.Load(ctx, runID)
		if err != nil {
			return err
		}
		if loaded.Status != RunStatusDraft && loaded.Status != RunStatusPending {
			return transitionError("run "+runID, loaded.Status, RunStatusCancelled)
		}
		staged := loaded.Clone()
		staged.Status = RunStatusCancelled
		staged.UpdatedAt = c.now()
		if err := c.save(ctx, &staged, loaded.Version); err != nil {
			return err
		}
		run = staged
		return nil
	})
	if err != nil {
		return Run{}, err
	}
	c.metrics.Inc(metrics.RunsCancelled, 1)
	c.publish(ctx, EventRunCancelled, run.ID, RunCancelledPayload{PayrollRunID: run.ID})
	c.log.Info("payroll run cancelled", "runId", runID)
	return run, nil
}

// RequestExecution approves a Draft run and dispatches it under one lease.
// When dispatch is unavailable the run stays Pending and is returned
// without error; the run trigger picks it up on a later tick.
func (c *Coordinator) RequestExecution(ctx context.Context, runID string) (Run, error) {
	var run Run
	err := c.WithLease(ctx, runID, func(ctx context.Context) error {
		current, err := c.store.Load(ctx, runID)
		if err != nil {
			return err
		}
		if current.Status == RunStatusDraft {
			if current, err = c.Execute(ctx, runID); err != nil {
				return err
			}
		}
		if current.Status != RunStatusPending {
			return transitionError("run "+runID, current.Status, RunStatusProcessing)
		}
		dispatched, err := c.BeginDispatch(ctx, runID)
		if errors.Is(err, ErrDispatchUnavailable) {
			c.log.Warn("payroll dispatch deferred", "runId", runID, "err", err)
			run = current
			return nil
		}
		if err != nil {
			return err
		}
		run = dispatched
		return nil
	})
	return run, err
}

// save writes staged with the expected version and bumps staged.Version on
// success.
func (c *Coordinator) save(ctx context.Context, staged *Run, expected int64) error {
	staged.TotalAmount = staged.Sum()
	if err := c.store.Save(ctx, *staged, expected); err != nil {
		return err
	}
	staged.Version = expected + 1
	return nil
}
