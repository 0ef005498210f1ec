// Package model holds the data types shared across the poller, ring
// buffer, and event cache packages (spec §3): ChangeEvent and priorities.
// The bus event envelope lives in package bus.
package model

import "qcbridge/internal/control"

// Priority is a per-group hint guiding eviction order under memory
// pressure (spec §3, §4.4).
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "Low"
	case PriorityHigh:
		return "High"
	default:
		return "Normal"
	}
}

// ChangeEvent is an immutable record of one control's value changing,
// produced by the poller and stored by the event cache (spec §3).
type ChangeEvent struct {
	GroupID        string
	ControlName    string
	Value          control.Value
	String         string
	PreviousValue  *control.Value
	PreviousString *string
	Delta          *float64
	Timestamp      int64 // monotonic nanoseconds
	TimestampMs    int64 // wall-clock ms, for display
	SequenceNumber uint64
}
