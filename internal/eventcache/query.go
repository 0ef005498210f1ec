package eventcache

import (
	"fmt"
	"sort"
	"time"

	"qcbridge/internal/control"
	"qcbridge/internal/model"
)

// PredicateOp is one of the value-predicate comparison operators listed
// in spec §4.4.
type PredicateOp string

const (
	OpNone       PredicateOp = ""
	OpEq         PredicateOp = "eq"
	OpNeq        PredicateOp = "neq"
	OpGt         PredicateOp = "gt"
	OpGte        PredicateOp = "gte"
	OpLt         PredicateOp = "lt"
	OpLte        PredicateOp = "lte"
	OpBetween    PredicateOp = "between"
	OpIn         PredicateOp = "in"
	OpChangedFrom PredicateOp = "changed_from"
	OpChangedTo   PredicateOp = "changed_to"
)

// Predicate filters events by value. Op == OpNone means "no predicate".
type Predicate struct {
	Op       PredicateOp
	Value    control.Value
	Value2   control.Value // upper bound for "between"
	Values   []control.Value // candidate set for "in"
}

func (p Predicate) canonical() string {
	if p.Op == OpNone {
		return ""
	}
	return fmt.Sprintf("%s:%v:%v:%v", p.Op, p.Value.Display(), p.Value2.Display(), p.Values)
}

// Match reports whether event satisfies the predicate.
func (p Predicate) Match(ev model.ChangeEvent) bool {
	switch p.Op {
	case OpNone:
		return true
	case OpEq:
		return ev.Value.Equal(p.Value)
	case OpNeq:
		return !ev.Value.Equal(p.Value)
	case OpGt, OpGte, OpLt, OpLte, OpBetween:
		if ev.Value.Kind != control.TagNumber {
			return false
		}
		return p.matchNumeric(ev.Value.Num)
	case OpIn:
		for _, v := range p.Values {
			if ev.Value.Equal(v) {
				return true
			}
		}
		return false
	case OpChangedFrom:
		return ev.PreviousValue != nil && ev.PreviousValue.Equal(p.Value)
	case OpChangedTo:
		return ev.Value.Equal(p.Value)
	default:
		return true
	}
}

func (p Predicate) matchNumeric(n float64) bool {
	switch p.Op {
	case OpGt:
		return n > p.Value.Num
	case OpGte:
		return n >= p.Value.Num
	case OpLt:
		return n < p.Value.Num
	case OpLte:
		return n <= p.Value.Num
	case OpBetween:
		return n >= p.Value.Num && n <= p.Value2.Num
	default:
		return false
	}
}

// OrderBy selects the sort key for query results.
type OrderBy string

const (
	OrderByTimestamp OrderBy = "timestamp"
	OrderByValue     OrderBy = "value"
)

// Aggregation selects how raw matches are reduced before being returned.
type Aggregation string

const (
	AggregationNone            Aggregation = "none"
	AggregationChangesOnly     Aggregation = "changes_only"
	AggregationLatestPerControl Aggregation = "latest_per_control"
)

// Query describes what events to return from the cache (spec §4.4).
type Query struct {
	GroupIDs     []string // empty means "all groups"
	From, To     time.Time
	ControlNames []string // empty means "no control-name filter"
	Predicate    Predicate
	OrderBy      OrderBy
	Aggregation  Aggregation
	Limit        int
	Offset       int
}

func (q Query) nameFilterSet() map[string]struct{} {
	if len(q.ControlNames) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(q.ControlNames))
	for _, n := range q.ControlNames {
		set[n] = struct{}{}
	}
	return set
}

// applyTo filters and transforms a raw, timestamp-ordered slice of events
// into the query's result shape.
func (q Query) applyTo(events []model.ChangeEvent) []model.ChangeEvent {
	nameFilter := q.nameFilterSet()

	filtered := make([]model.ChangeEvent, 0, len(events))
	for _, ev := range events {
		if nameFilter != nil {
			if _, ok := nameFilter[ev.ControlName]; !ok {
				continue
			}
		}
		if !q.Predicate.Match(ev) {
			continue
		}
		filtered = append(filtered, ev)
	}

	filtered = applyAggregation(filtered, q.Aggregation)

	switch q.OrderBy {
	case OrderByValue:
		sort.SliceStable(filtered, func(i, j int) bool {
			return lessValue(filtered[i].Value, filtered[j].Value)
		})
	default:
		sort.SliceStable(filtered, func(i, j int) bool {
			return filtered[i].Timestamp < filtered[j].Timestamp
		})
	}

	if q.Offset > 0 {
		if q.Offset >= len(filtered) {
			return nil
		}
		filtered = filtered[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(filtered) {
		filtered = filtered[:q.Limit]
	}
	return filtered
}

func lessValue(a, b control.Value) bool {
	if a.Kind == control.TagNumber && b.Kind == control.TagNumber {
		return a.Num < b.Num
	}
	return a.Display() < b.Display()
}

// applyAggregation reduces the filtered set per spec §4.4's aggregation
// modes. changes_only is the identity here: the cache only ever stores
// change events, so every stored event already represents a change.
// latest_per_control keeps only the most recent event per control name.
func applyAggregation(events []model.ChangeEvent, mode Aggregation) []model.ChangeEvent {
	switch mode {
	case AggregationLatestPerControl:
		latest := make(map[string]model.ChangeEvent, len(events))
		for _, ev := range events {
			cur, ok := latest[ev.ControlName]
			if !ok || ev.Timestamp >= cur.Timestamp {
				latest[ev.ControlName] = ev
			}
		}
		out := make([]model.ChangeEvent, 0, len(latest))
		for _, ev := range latest {
			out = append(out, ev)
		}
		return out
	default:
		return events
	}
}
