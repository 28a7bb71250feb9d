package breakdown

import (
	"context"
)

type LogicOp string

const (
	LogicAnd LogicOp = "and"
	LogicOr  LogicOp = "or"
)

type ConditionOp string

const (
	ConditionIs     ConditionOp = "is"
	ConditionIsNot  ConditionOp = "is_not"
	ConditionIn     ConditionOp = "in"
	ConditionNotIn  ConditionOp = "not_in"
	ConditionIsNull ConditionOp = "is_null"
)

// Condition is one leaf predicate over a record field.
type Condition struct {
	Field string      `json:"field"`
	Op    ConditionOp `json:"op"`
	Value any         `json:"value,omitempty"`
}

func Cond(field string, op ConditionOp, value any) *Condition {
	return &Condition{
		Field: field,
		Op:    op,
		Value: value,
	}
}

// FilterNode is a conjunction or disjunction over leaf conditions and nested
// nodes.
type FilterNode struct {
	Logic      LogicOp       `json:"logic"`
	Conditions []*Condition  `json:"conditions,omitempty"`
	Children   []*FilterNode `json:"children,omitempty"`
}

func And(conditions ...*Condition) *FilterNode {
	return &FilterNode{
		Logic:      LogicAnd,
		Conditions: conditions,
	}
}

func Or(children ...*FilterNode) *FilterNode {
	return &FilterNode{
		Logic:    LogicOr,
		Children: children,
	}
}

func (self *FilterNode) AddCondition(condition *Condition) {
	self.Conditions = append(self.Conditions, condition)
}

func (self *FilterNode) AddChild(child *FilterNode) {
	self.Children = append(self.Children, child)
}

// RecordQuery is the repository query contract: a filter tree, the fields to
// return, and optionally newest-version-first ordering and a result limit.
type RecordQuery struct {
	Filters            *FilterNode `json:"filters"`
	Fields             []string    `json:"fields"`
	OrderDescByVersion bool        `json:"order_desc_by_version,omitempty"`
	Limit              int         `json:"limit,omitempty"`
}

// RepositoryChannel answers record queries. Implementations are safe for
// concurrent use; all calls take a context because they are dispatched from
// background request goroutines.
type RepositoryChannel interface {
	FindRecords(ctx context.Context, query *RecordQuery) ([]Record, error)

	// resolves local paths to their records, keyed by the path each record
	// was matched from. Paths with no record are absent from the result.
	FindRecordsByPaths(ctx context.Context, paths []string, fields []string, extraFilters []*Condition) (map[string]Record, error)
}
