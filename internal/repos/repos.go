package repos

import "time"

// Page is the common pagination input. Page is 1-based.
type Page struct {
	Page int
	Size int
}

func (p Page) normalized() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Size < 1 {
		p.Size = 20
	}
	if p.Size > 100 {
		p.Size = 100
	}
	return p
}

func (p Page) offset() int { return (p.Page - 1) * p.Size }

// JobFilter narrows job listings. Zero values mean "no filter".
type JobFilter struct {
	Status         string
	SubmissionType string
	CreatedAfter   *time.Time
	CreatedBefore  *time.Time
}

// TaskFilter narrows task listings.
type TaskFilter struct {
	Status string
	JobID  string
}
