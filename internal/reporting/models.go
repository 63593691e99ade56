package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// StatsRequest requests aggregated call metrics. Limit caps how many
// recent call records feed the aggregation.
type StatsRequest struct {
	Range TimeRange `json:"range"`
	Limit int       `json:"limit,omitempty"`
}

type CallStats struct {
	TotalCalls     int `json:"total_calls"`
	InboundCalls   int `json:"inbound_calls"`
	OutboundCalls  int `json:"outbound_calls"`
	CompletedCalls int `json:"completed_calls"`
	FailedCalls    int `json:"failed_calls"`
	NoAnswerCalls  int `json:"no_answer_calls"`
	BusyCalls      int `json:"busy_calls"`
	ActiveCalls    int `json:"active_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	// TotalCost sums provider-reported prices; charges arrive as
	// negative amounts and are reported here as positive spend.
	TotalCost float64 `json:"total_cost"`
	Currency  string  `json:"currency,omitempty"`

	// SuccessRate is completed over total, 0..1.
	SuccessRate float64 `json:"success_rate"`
}
