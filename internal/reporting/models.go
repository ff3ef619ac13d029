package reporting

// CallStatsRequest selects the records aggregated into CallStats.
type CallStatsRequest struct {
	// SinceDays limits the window to records created in the last N days.
	// Zero means no window.
	SinceDays int `json:"sinceDays"`
	// Limit caps the number of most recent records considered.
	Limit int `json:"limit"`
}

type CallStats struct {
	SinceDays int `json:"sinceDays"`

	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	NoAnswer   int `json:"noAnswer"`
	InProgress int `json:"inProgress"`
	Busy       int `json:"busy"`
	Canceled   int `json:"canceled"`

	ByStatus map[string]int `json:"byStatus"`

	TotalDurationSec   int `json:"totalDurationSec"`
	AverageDurationSec int `json:"averageDurationSec"`

	Recorded int `json:"recorded"`

	// SuccessRate is completed over terminal calls.
	SuccessRate float64 `json:"successRate"`
}
