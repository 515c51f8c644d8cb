package dto

// PublishMessageRequest represents an inbound message captured from a source feed
type PublishMessageRequest struct {
	SourceID  string `json:"source_id" binding:"required" example:"-1001234567890"`
	MessageID string `json:"message_id" binding:"required" example:"4821"`
	Text      string `json:"text" example:"Breaking: AI startup raises new round"`
	// ArrivedAt is the unix time the message was seen; zero means now
	ArrivedAt int64 `json:"arrived_at" example:"1714564800"`
}

// PublishMessagesBulkRequest represents a bulk publish request
type PublishMessagesBulkRequest struct {
	Messages []PublishMessageRequest `json:"messages" binding:"required,min=1,max=1000,dive"`
}

// GetOutcomeMetricsRequest represents an outcome metrics query request
type GetOutcomeMetricsRequest struct {
	State   string `form:"state" example:"committed"`
	From    int64  `form:"from" binding:"required" example:"1714521600"`
	To      int64  `form:"to" binding:"required" example:"1714607999"`
	GroupBy string `form:"group_by" example:"source"`
}
