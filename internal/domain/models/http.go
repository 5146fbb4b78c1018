package models

// Requests for the forecast HTTP endpoints.

type ForecastRequest struct {
	Series  string `query:"series" json:"series" validate:"required"`
	Model   string `query:"model" json:"model" validate:"required"`
	History int    `query:"history" json:"history" validate:"gte=0,lte=2000"`
}

type ChartRequest struct {
	Series  string `query:"series" json:"series" validate:"required"`
	Model   string `query:"model" json:"model" validate:"required"`
	History int    `query:"history" json:"history" default:"72" validate:"gte=1,lte=2000"`
}

type StateRequest struct {
	Series string `query:"series" json:"series"`
}

type ErrorStatsRequest struct {
	Series string `query:"series" json:"series" validate:"required"`
	Days   int    `query:"days" json:"days" default:"30" validate:"gte=1,lte=365"`
}

type RunTickRequest struct {
	// Now is RFC3339 or unix seconds; empty means the current time.
	Now string `query:"now" json:"now"`
	// Wait blocks the request until the tick finishes and returns its report.
	Wait bool `query:"wait" json:"wait"`
}

type TickReportRequest struct {
	// Hour selects the tick that ran in that hour; empty means the latest.
	Hour string `query:"hour" json:"hour"`
}
