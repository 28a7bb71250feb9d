package breakdown

import (
	"fmt"
	"strings"

	"golang.org/x/exp/maps"
)

// EntityRef is a reference-valued record field, e.g. the linked entity, task
// or project of a published record.
type EntityRef struct {
	Type string `json:"type"`
	Id   int64  `json:"id"`
	Name string `json:"name,omitempty"`
}

// stable grouping/bucketing key. Zero refs key to the empty string.
func (self EntityRef) Key() string {
	if self.Type == "" && self.Id == 0 {
		return ""
	}
	return fmt.Sprintf("%s.%d", self.Type, self.Id)
}

func entityRefFromValue(value any) (EntityRef, bool) {
	switch v := value.(type) {
	case EntityRef:
		return v, true
	case *EntityRef:
		if v == nil {
			return EntityRef{}, false
		}
		return *v, true
	case map[string]any:
		ref := EntityRef{}
		if entityType, ok := toString(v["type"]); ok {
			ref.Type = entityType
		}
		if id, ok := toInt64(v["id"]); ok {
			ref.Id = id
		}
		if name, ok := toString(v["name"]); ok {
			ref.Name = name
		}
		if ref.Type == "" && ref.Id == 0 {
			return EntityRef{}, false
		}
		return ref, true
	default:
		return EntityRef{}, false
	}
}

func toInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float32:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

func toFloat64(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

func toString(value any) (string, bool) {
	if s, ok := value.(string); ok {
		return s, true
	}
	return "", false
}

// Record is one repository record, an open field bag in the shape the
// repository returns it. Typed accessors below decode the well-known fields.
type Record map[string]any

func (self Record) RecordId() int64 {
	id, _ := toInt64(self["id"])
	return id
}

func (self Record) Version() (int64, bool) {
	return toInt64(self["version_number"])
}

func (self Record) Name() string {
	name, _ := toString(self["name"])
	return name
}

func (self Record) RecordType() (EntityRef, bool) {
	return entityRefFromValue(self["published_file_type"])
}

func (self Record) Entity() (EntityRef, bool) {
	return entityRefFromValue(self["entity"])
}

func (self Record) Task() (EntityRef, bool) {
	return entityRefFromValue(self["task"])
}

func (self Record) Project() (EntityRef, bool) {
	return entityRefFromValue(self["project"])
}

// local filesystem path of the record's payload, "" when the record carries
// no resolvable path
func (self Record) LocalPath() string {
	path, ok := self["path"].(map[string]any)
	if !ok {
		return ""
	}
	localPath, _ := toString(path["local_path"])
	return localPath
}

func (self Record) ThumbnailUrl() string {
	url, _ := toString(self["image"])
	return url
}

func (self Record) Clone() Record {
	if self == nil {
		return nil
	}
	return Record(maps.Clone(map[string]any(self)))
}

// GroupValue derives the grouping (id, display) pair for one field:
// reference values group by their type.id key and display their name,
// list values join their elements, nil displays as "None", and a field the
// record does not carry at all yields ("", "").
func (self Record) GroupValue(field string) (groupId string, display string) {
	value, ok := self[field]
	if !ok {
		return "", ""
	}
	if value == nil {
		return "None", "None"
	}

	if ref, ok := entityRefFromValue(value); ok {
		return ref.Key(), ref.Name
	}

	if list, ok := value.([]any); ok {
		parts := make([]string, len(list))
		for i, element := range list {
			if ref, ok := entityRefFromValue(element); ok {
				parts[i] = ref.Name
			} else {
				parts[i] = fmt.Sprintf("%v", element)
			}
		}
		display := strings.Join(parts, ", ")
		return display, display
	}

	display = fmt.Sprintf("%v", value)
	return display, display
}
