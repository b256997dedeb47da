package types

import "testing"

func TestTaskEdges(t *testing.T) {
	allowed := []struct{ from, to TaskStatus }{
		{TaskPending, TaskInProgress},
		{TaskPending, TaskFailure},
		{TaskInProgress, TaskSuccess},
		{TaskInProgress, TaskFailure},
		{TaskFailure, TaskPending},
	}
	for _, e := range allowed {
		if !CanTransitionTask(e.from, e.to) {
			t.Fatalf("edge %s -> %s should be permitted", e.from, e.to)
		}
	}
	denied := []struct{ from, to TaskStatus }{
		{TaskSuccess, TaskPending},
		{TaskSuccess, TaskFailure},
		{TaskSuccess, TaskInProgress},
		{TaskPending, TaskSuccess},
		{TaskFailure, TaskSuccess},
		{TaskFailure, TaskInProgress},
	}
	for _, e := range denied {
		if CanTransitionTask(e.from, e.to) {
			t.Fatalf("edge %s -> %s should be rejected", e.from, e.to)
		}
	}
}

func TestJobEdges(t *testing.T) {
	allowed := []struct{ from, to JobStatus }{
		{JobAccepted, JobProcessing},
		{JobAccepted, JobFailed},
		{JobProcessing, JobCompleted},
		{JobProcessing, JobPartiallyCompleted},
		{JobProcessing, JobFailed},
		{JobFailed, JobProcessing},
	}
	for _, e := range allowed {
		if !CanTransitionJob(e.from, e.to) {
			t.Fatalf("edge %s -> %s should be permitted", e.from, e.to)
		}
	}
	denied := []struct{ from, to JobStatus }{
		{JobCompleted, JobProcessing},
		{JobCompleted, JobFailed},
		{JobPartiallyCompleted, JobProcessing},
		{JobPartiallyCompleted, JobCompleted},
		{JobAccepted, JobCompleted},
		{JobAccepted, JobPartiallyCompleted},
	}
	for _, e := range denied {
		if CanTransitionJob(e.from, e.to) {
			t.Fatalf("edge %s -> %s should be rejected", e.from, e.to)
		}
	}
}

func TestIsIgnored(t *testing.T) {
	skip := SkipInvalidSQLPrefix + ": ._ghost.sql"
	real := "analyzer exited with status 2"
	cases := []struct {
		task Task
		want bool
	}{
		{Task{Status: TaskFailure, ErrorMessage: &skip}, true},
		{Task{Status: TaskFailure, ErrorMessage: &real}, false},
		{Task{Status: TaskFailure}, false},
		{Task{Status: TaskSuccess, ErrorMessage: &skip}, false},
	}
	for i, c := range cases {
		if got := c.task.IsIgnored(); got != c.want {
			t.Fatalf("case %d: IsIgnored = %v, want %v", i, got, c.want)
		}
	}
}

func TestFileName(t *testing.T) {
	tk := Task{SourceFilePath: "jobs/job-x/reports/daily.sql"}
	if tk.FileName() != "daily.sql" {
		t.Fatalf("FileName = %q", tk.FileName())
	}
	tk.SourceFilePath = "plain.sql"
	if tk.FileName() != "plain.sql" {
		t.Fatalf("FileName = %q", tk.FileName())
	}
}
