package payroll

type RunStatus string

const (
	RunStatusDraft      RunStatus = "draft"
	RunStatusPending    RunStatus = "pending"
	RunStatusProcessing RunStatus = "processing"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
	RunStatusCancelled  RunStatus = "cancelled"
)

// Terminal reports whether no regular operation moves the run out of s.
// A failed run may still be re-opened by the retry path of BeginDispatch.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

type ItemStatus string

const (
	ItemStatusPending    ItemStatus = "pending"
	ItemStatusDispatched ItemStatus = "dispatched"
	ItemStatusCompleted  ItemStatus = "completed"
	ItemStatusFailed     ItemStatus = "failed"
)

func (s ItemStatus) Terminal() bool {
	return s == ItemStatusCompleted || s == ItemStatusFailed
}

type ApprovalStatus string

const (
	ApprovalApproved    ApprovalStatus = "approved"
	ApprovalNotApproved ApprovalStatus = "not_approved"
	ApprovalUnknown     ApprovalStatus = "unknown"
)

const (
	EventRunInitiated = "payroll.run.initiated"
	EventRunCompleted = "payroll.run.completed"
	EventRunCancelled = "payroll.run.cancelled"
	EventItemSettled  = "payroll.item.settled"
	EventItemAnomaly  = "payroll.item.anomaly"
)

const DefaultMaxRetries = 3
