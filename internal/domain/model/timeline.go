package model

// 时间线事件置信度。来源表的时间戳质量决定默认档位。
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// TimelineEvent 是跨工件时间线上的一个事件。
// 它是从源工件表派生的物化记录，不是权威数据，随时可以重建；
// (ref_table, ref_id) 指回来源行。
type TimelineEvent struct {
	ID         int64
	EvidenceID int64
	TsUTC      string
	Kind       string
	RefTable   string
	RefID      int64
	Confidence string
	Note       string
	Provenance string
	RunID      string
}
