package breakdown

import (
	"regexp"

	"github.com/golang/glog"

	"golang.org/x/exp/slices"
)

type FilterType string

const (
	FilterTypeBool   FilterType = "bool"
	FilterTypeStr    FilterType = "str"
	FilterTypeNumber FilterType = "number"
	FilterTypeList   FilterType = "list"
	// a group of sub filters joined by the op (and/or)
	FilterTypeGroup FilterType = "group"
)

type FilterOp string

const (
	FilterOpAnd              FilterOp = "and"
	FilterOpOr               FilterOp = "or"
	FilterOpIsTrue           FilterOp = "true"
	FilterOpIsFalse          FilterOp = "false"
	FilterOpIn               FilterOp = "in"
	FilterOpNotIn            FilterOp = "!in"
	FilterOpEqual            FilterOp = "="
	FilterOpNotEqual         FilterOp = "!="
	FilterOpLessThan         FilterOp = "<"
	FilterOpLessThanEqual    FilterOp = "<="
	FilterOpGreaterThan      FilterOp = ">"
	FilterOpGreaterThanEqual FilterOp = ">="
)

// FilterDataFunc extracts the value a filter tests from an item.
type FilterDataFunc = func(item *FileItem) any

// FilterItem is one composable predicate over items. Group filters recurse
// into `Filters` with and/or logic; leaf filters test the value extracted by
// `DataFunc` against `Value`.
type FilterItem struct {
	FilterType FilterType
	Op         FilterOp
	Value      any
	DataFunc   FilterDataFunc

	Filters []*FilterItem
}

func NewFilterItem(filterType FilterType, op FilterOp, value any, dataFunc FilterDataFunc) *FilterItem {
	return &FilterItem{
		FilterType: filterType,
		Op:         op,
		Value:      value,
		DataFunc:   dataFunc,
	}
}

func NewFilterGroup(op FilterOp, filters ...*FilterItem) *FilterItem {
	return &FilterItem{
		FilterType: FilterTypeGroup,
		Op:         op,
		Filters:    filters,
	}
}

func (self *FilterItem) Accepts(item *FileItem) bool {
	switch self.FilterType {
	case FilterTypeGroup:
		return self.acceptsGroup(item)
	case FilterTypeBool:
		return self.acceptsBool(item)
	case FilterTypeStr:
		return self.acceptsStr(item)
	case FilterTypeNumber:
		return self.acceptsNumber(item)
	case FilterTypeList:
		return self.acceptsList(item)
	default:
		glog.Infof("[model]unknown filter type %s\n", self.FilterType)
		return false
	}
}

func (self *FilterItem) acceptsGroup(item *FileItem) bool {
	switch self.Op {
	case FilterOpAnd:
		for _, filter := range self.Filters {
			if !filter.Accepts(item) {
				return false
			}
		}
		return true
	case FilterOpOr:
		for _, filter := range self.Filters {
			if filter.Accepts(item) {
				return true
			}
		}
		return len(self.Filters) == 0
	default:
		glog.Infof("[model]unsupported group filter op %s\n", self.Op)
		return false
	}
}

func (self *FilterItem) acceptsBool(item *FileItem) bool {
	value, _ := self.DataFunc(item).(bool)
	switch self.Op {
	case FilterOpIsTrue:
		return value
	case FilterOpIsFalse:
		return !value
	case FilterOpEqual:
		expected, _ := self.Value.(bool)
		return value == expected
	case FilterOpNotEqual:
		expected, _ := self.Value.(bool)
		return value != expected
	default:
		glog.Infof("[model]unsupported bool filter op %s\n", self.Op)
		return false
	}
}

func (self *FilterItem) acceptsStr(item *FileItem) bool {
	value, _ := toString(self.DataFunc(item))
	expected, _ := toString(self.Value)
	switch self.Op {
	case FilterOpEqual:
		return value == expected
	case FilterOpNotEqual:
		return value != expected
	case FilterOpIn:
		return matchStr(expected, value)
	case FilterOpNotIn:
		return !matchStr(expected, value)
	default:
		glog.Infof("[model]unsupported str filter op %s\n", self.Op)
		return false
	}
}

// case insensitive regex containment. A pattern that does not compile
// matches nothing.
func matchStr(pattern string, value string) bool {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return false
	}
	return re.MatchString(value)
}

func (self *FilterItem) acceptsNumber(item *FileItem) bool {
	value, ok := toFloat64(self.DataFunc(item))
	if !ok {
		return false
	}
	expected, ok := toFloat64(self.Value)
	if !ok {
		return false
	}
	switch self.Op {
	case FilterOpEqual:
		return value == expected
	case FilterOpNotEqual:
		return value != expected
	case FilterOpLessThan:
		return value < expected
	case FilterOpLessThanEqual:
		return value <= expected
	case FilterOpGreaterThan:
		return value > expected
	case FilterOpGreaterThanEqual:
		return value >= expected
	default:
		glog.Infof("[model]unsupported number filter op %s\n", self.Op)
		return false
	}
}

func (self *FilterItem) acceptsList(item *FileItem) bool {
	values := toStrList(self.DataFunc(item))
	expected, _ := toString(self.Value)
	switch self.Op {
	case FilterOpIn:
		return slices.Contains(values, expected)
	case FilterOpNotIn:
		return !slices.Contains(values, expected)
	default:
		glog.Infof("[model]unsupported list filter op %s\n", self.Op)
		return false
	}
}

func toStrList(value any) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []any:
		values := make([]string, 0, len(v))
		for _, element := range v {
			if s, ok := toString(element); ok {
				values = append(values, s)
			}
		}
		return values
	default:
		return nil
	}
}
