package task

// Status is the persisted lifecycle state of a task or job.
// These values are stored in the database and must be stable across deployments.
type Status string

const (
	StatusScheduled    Status = "SCHEDULED"
	StatusRunning      Status = "RUNNING"
	StatusSuccess      Status = "SUCCESS"
	StatusFailed       Status = "FAILED"
	StatusSkipped      Status = "SKIPPED"
	StatusReadyToRetry Status = "READY_TO_RETRY"
)

// IsFinal reports whether a task in this status will not transition again
// without an explicit retry.
func (s Status) IsFinal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// ComputeStatus folds the statuses of a job's children into the job's own
// status. Precedence is a contract: READY_TO_RETRY outranks everything so that
// reopening a single descendant pulls the whole ancestor chain out of its
// final state, and FAILED outranks RUNNING so a job fails as soon as any child
// has failed even while siblings continue.
func ComputeStatus(statuses []Status) Status {
	if len(statuses) == 0 {
		return StatusScheduled
	}

	allSkipped := true
	allSuccess := true
	anyRunning := false
	anyFailed := false
	for _, s := range statuses {
		if s == StatusReadyToRetry {
			return StatusReadyToRetry
		}
		if s == StatusFailed {
			anyFailed = true
		}
		if s == StatusRunning {
			anyRunning = true
		}
		if s != StatusSkipped {
			allSkipped = false
		}
		if s != StatusSuccess {
			allSuccess = false
		}
	}

	switch {
	case anyFailed:
		return StatusFailed
	case anyRunning:
		return StatusRunning
	case allSkipped:
		return StatusSkipped
	case allSuccess:
		return StatusSuccess
	default:
		return StatusScheduled
	}
}
