package models

import (
	"fmt"
	"sort"
	"strings"
)

// DateRange bounds a query in time. Either side may be zero-valued strings
// in ISO date form (the core never interprets them, only forwards to SQL-GEN).
type DateRange struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// EntityFrame is the accumulated set of structured values extracted across
// a conversation. Kinds are fixed; a nil pointer / zero value means unset.
type EntityFrame struct {
	DecisionNumber   *int       `json:"decision_number,omitempty"`
	GovernmentNumber *int       `json:"government_number,omitempty"`
	Topic            string     `json:"topic,omitempty"`
	Ministries       []string   `json:"ministries,omitempty"`
	DateRange        *DateRange `json:"date_range,omitempty"`
	Limit            int        `json:"limit,omitempty"`
	OperationalOnly  *bool      `json:"operational_only,omitempty"`
}

// IsEmpty reports whether no entity kind is set.
func (f EntityFrame) IsEmpty() bool {
	return f.DecisionNumber == nil &&
		f.GovernmentNumber == nil &&
		f.Topic == "" &&
		len(f.Ministries) == 0 &&
		f.DateRange == nil &&
		f.Limit == 0 &&
		f.OperationalOnly == nil
}

// Clone returns a deep copy of the frame.
func (f EntityFrame) Clone() EntityFrame {
	out := f
	if f.DecisionNumber != nil {
		v := *f.DecisionNumber
		out.DecisionNumber = &v
	}
	if f.GovernmentNumber != nil {
		v := *f.GovernmentNumber
		out.GovernmentNumber = &v
	}
	if f.DateRange != nil {
		v := *f.DateRange
		out.DateRange = &v
	}
	if f.OperationalOnly != nil {
		v := *f.OperationalOnly
		out.OperationalOnly = &v
	}
	if len(f.Ministries) > 0 {
		out.Ministries = append([]string(nil), f.Ministries...)
	}
	return out
}

// Merge overlays delta onto the frame: set kinds in delta add or overwrite,
// unset kinds leave the existing value untouched.
func (f *EntityFrame) Merge(delta EntityFrame) {
	if delta.DecisionNumber != nil {
		v := *delta.DecisionNumber
		f.DecisionNumber = &v
	}
	if delta.GovernmentNumber != nil {
		v := *delta.GovernmentNumber
		f.GovernmentNumber = &v
	}
	if delta.Topic != "" {
		f.Topic = delta.Topic
	}
	if len(delta.Ministries) > 0 {
		f.Ministries = append([]string(nil), delta.Ministries...)
	}
	if delta.DateRange != nil {
		v := *delta.DateRange
		f.DateRange = &v
	}
	if delta.Limit > 0 {
		f.Limit = delta.Limit
	}
	if delta.OperationalOnly != nil {
		v := *delta.OperationalOnly
		f.OperationalOnly = &v
	}
}

// Extends reports whether f is a monotone extension of prev: every kind set
// in prev is set to the same value in f. Used to detect a narrowing turn
// (adds constraints, contradicts none).
func (f EntityFrame) Extends(prev EntityFrame) bool {
	if prev.DecisionNumber != nil &&
		(f.DecisionNumber == nil || *f.DecisionNumber != *prev.DecisionNumber) {
		return false
	}
	if prev.GovernmentNumber != nil &&
		(f.GovernmentNumber == nil || *f.GovernmentNumber != *prev.GovernmentNumber) {
		return false
	}
	if prev.Topic != "" && f.Topic != prev.Topic {
		return false
	}
	if prev.DateRange != nil &&
		(f.DateRange == nil || *f.DateRange != *prev.DateRange) {
		return false
	}
	if len(prev.Ministries) > 0 {
		have := make(map[string]bool, len(f.Ministries))
		for _, m := range f.Ministries {
			have[m] = true
		}
		for _, m := range prev.Ministries {
			if !have[m] {
				return false
			}
		}
	}
	return true
}

// CanonicalPairs renders the frame as sorted "kind=value" pairs for cache
// key construction. Reference-only kinds (decision_number) are excluded;
// a frame carrying one is never cacheable in the first place, and excluding
// it here keeps the key deterministic either way.
func (f EntityFrame) CanonicalPairs() []string {
	var pairs []string
	if f.GovernmentNumber != nil {
		pairs = append(pairs, fmt.Sprintf("government_number=%d", *f.GovernmentNumber))
	}
	if f.Topic != "" {
		pairs = append(pairs, "topic="+f.Topic)
	}
	if len(f.Ministries) > 0 {
		ms := append([]string(nil), f.Ministries...)
		sort.Strings(ms)
		pairs = append(pairs, "ministries="+strings.Join(ms, ","))
	}
	if f.DateRange != nil {
		pairs = append(pairs, "date_range="+f.DateRange.Start+".."+f.DateRange.End)
	}
	if f.Limit > 0 {
		pairs = append(pairs, fmt.Sprintf("limit=%d", f.Limit))
	}
	if f.OperationalOnly != nil {
		pairs = append(pairs, fmt.Sprintf("operational_only=%t", *f.OperationalOnly))
	}
	sort.Strings(pairs)
	return pairs
}
