package dto

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error" example:"validation_error"`
	Message string `json:"message,omitempty" example:"source_id is required"`
}

// PublishMessageResponse represents an accepted inbound message
type PublishMessageResponse struct {
	Fingerprint string `json:"fingerprint" example:"-1001234567890/4821"`
	Status      string `json:"status" example:"accepted"`
}

// PublishBulkMessagesResponse represents the result of a bulk publish
type PublishBulkMessagesResponse struct {
	Accepted     int      `json:"accepted" example:"5"`
	Rejected     int      `json:"rejected" example:"0"`
	Fingerprints []string `json:"fingerprints,omitempty"`
	Errors       []string `json:"errors,omitempty"`
}

// OutcomeGroupData represents aggregated outcomes for a specific group
type OutcomeGroupData struct {
	GroupValue string `json:"group_value" example:"committed"`
	TotalCount uint64 `json:"total_count" example:"120"`
}

// GetOutcomeMetricsResponse represents the outcome metrics query response
type GetOutcomeMetricsResponse struct {
	State        string             `json:"state,omitempty" example:"committed"`
	From         int64              `json:"from" example:"1714521600"`
	To           int64              `json:"to" example:"1714607999"`
	TotalCount   uint64             `json:"total_count" example:"500"`
	UniqueSource uint64             `json:"unique_source" example:"12"`
	GroupBy      string             `json:"group_by,omitempty" example:"source"`
	Groups       []OutcomeGroupData `json:"groups,omitempty"`
}

// StatsResponse represents the operator view of the admission pipeline
type StatsResponse struct {
	Date           string `json:"date" example:"2024-05-01"`
	TodayCount     int    `json:"today_count" example:"87"`
	DailyLimit     int    `json:"daily_limit" example:"500"`
	Remaining      int    `json:"remaining" example:"413"`
	TotalEmissions int64  `json:"total_emissions" example:"15230"`
	UptimeSeconds  int64  `json:"uptime_seconds" example:"3600"`
	Ready          bool   `json:"ready" example:"true"`
	Halted         bool   `json:"halted" example:"false"`
}
