package payroll

// Aggregate derives a run status from its items. It ignores the order of
// items and any previous run status.
func Aggregate(items []Item) (RunStatus, error) {
	if len(items) == 0 {
		return "", ErrEmptyRun
	}
	completed := 0
	for _, item := range items {
		switch item.Status {
		case ItemStatusPending, ItemStatusDispatched:
			return RunStatusProcessing, nil
		case ItemStatusCompleted:
			completed++
		}
	}
	if completed == len(items) {
		return RunStatusCompleted, nil
	}
	return RunStatusFailed, nil
}
