package model

// Progress is a point-in-time view of a publish run.
type Progress struct {
	Total  int64 `json:"total"`
	Sent   int64 `json:"sent"`
	Failed int64 `json:"failed"`
	Done   bool  `json:"done"`
}
