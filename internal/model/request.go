package model

// ReportTimeRequest is the body of POST .../time.
type ReportTimeRequest struct {
	TimeSpentMs int64 `json:"time_spent_ms" binding:"required,gt=0"`
}

// ListAttemptsQuery is the query string of GET /attempts/tests/:testId.
type ListAttemptsQuery struct {
	Status  string `form:"status" binding:"omitempty,oneof=in-progress completed timed-out abandoned"`
	Page    int    `form:"page" binding:"omitempty,min=1"`
	PerPage int    `form:"per_page" binding:"omitempty,min=1,max=100"`
}

// Normalize fills pagination defaults.
func (q *ListAttemptsQuery) Normalize() {
	if q.Page == 0 {
		q.Page = 1
	}
	if q.PerPage == 0 {
		q.PerPage = 20
	}
}
