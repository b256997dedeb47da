package types

var jobEdges = map[JobStatus][]JobStatus{
	JobAccepted:   {JobProcessing, JobFailed},
	JobProcessing: {JobCompleted, JobPartiallyCompleted, JobFailed},
	JobFailed:     {JobProcessing},
}

var taskEdges = map[TaskStatus][]TaskStatus{
	TaskPending:    {TaskInProgress, TaskFailure},
	TaskInProgress: {TaskSuccess, TaskFailure},
	TaskFailure:    {TaskPending},
}

// CanTransitionJob reports whether the job edge from → to is permitted.
func CanTransitionJob(from, to JobStatus) bool {
	for _, next := range jobEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanTransitionTask reports whether the task edge from → to is permitted.
func CanTransitionTask(from, to TaskStatus) bool {
	for _, next := range taskEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}
