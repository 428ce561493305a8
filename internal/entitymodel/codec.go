package entitymodel

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind tags a column with the conversion applied between the stored value
// and the entity field.
type Kind int

const (
	// KindText columns hold nullable strings.
	KindText Kind = iota
	// KindBool columns store INTEGER 0/1 and decode to bool.
	KindBool
	// KindJSON columns store serialized objects as TEXT.
	KindJSON
	// KindTime columns store RFC3339 UTC timestamps as TEXT.
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindJSON:
		return "json"
	case KindTime:
		return "time"
	default:
		return "text"
	}
}

// Record holds one row keyed by canonical column name. Values are typed by
// column kind: *string for text, bool, map[string]any for json and
// time.Time.
type Record map[string]any

// Text returns the string value of col or "" when null.
func (r Record) Text(col string) string {
	if p := r.TextPtr(col); p != nil {
		return *p
	}
	return ""
}

// TextPtr returns the nullable string value of col.
func (r Record) TextPtr(col string) *string {
	switch v := r[col].(type) {
	case *string:
		return v
	case string:
		return &v
	}
	return nil
}

// Bool returns the boolean value of col.
func (r Record) Bool(col string) bool {
	b, _ := r[col].(bool)
	return b
}

// Object returns the decoded JSON object of col.
func (r Record) Object(col string) map[string]any {
	m, _ := r[col].(map[string]any)
	return m
}

// Time returns the timestamp value of col.
func (r Record) Time(col string) time.Time {
	t, _ := r[col].(time.Time)
	return t
}

// DecodeValue converts a stored value into the typed value for kind.
func DecodeValue(kind Kind, v any) (any, error) {
	switch kind {
	case KindBool:
		return decodeBool(v)
	case KindJSON:
		return decodeObject(v)
	case KindTime:
		return decodeTime(v)
	default:
		return decodeText(v), nil
	}
}

// EncodeValue converts a typed value into its stored form for kind.
func EncodeValue(kind Kind, v any) (any, error) {
	switch kind {
	case KindBool:
		b, err := decodeBool(v)
		if err != nil {
			return nil, err
		}
		return boolToInt(b), nil
	case KindJSON:
		return encodeObject(v)
	case KindTime:
		return encodeTime(v)
	default:
		switch t := v.(type) {
		case nil:
			return nil, nil
		case *string:
			if t == nil {
				return nil, nil
			}
			return *t, nil
		case string:
			return t, nil
		case fmt.Stringer:
			return t.String(), nil
		default:
			return fmt.Sprint(t), nil
		}
	}
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func decodeBool(v any) (bool, error) {
	switch t := v.(type) {
	case nil:
		return false, nil
	case bool:
		return t, nil
	case int64:
		return t != 0, nil
	case int:
		return t != 0, nil
	case float64:
		return t != 0, nil
	case []byte:
		return parseBoolText(string(t))
	case string:
		return parseBoolText(t)
	default:
		return false, fmt.Errorf("cannot decode %T as boolean", v)
	}
}

func parseBoolText(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "0", "false", "f", "no":
		return false, nil
	case "1", "true", "t", "yes":
		return true, nil
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n != 0, nil
	}
	return false, fmt.Errorf("cannot decode %q as boolean", s)
}

func decodeText(v any) *string {
	var s string
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		s = t
	case []byte:
		s = string(t)
	case int64:
		s = strconv.FormatInt(t, 10)
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case time.Time:
		s = t.UTC().Format(time.RFC3339Nano)
	default:
		s = fmt.Sprint(t)
	}
	return &s
}

func decodeObject(v any) (map[string]any, error) {
	var raw []byte
	switch t := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return t, nil
	case string:
		raw = []byte(t)
	case []byte:
		raw = t
	default:
		return nil, fmt.Errorf("cannot decode %T as json object", v)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode json column: %w", err)
	}
	switch obj := out.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return obj, nil
	default:
		return nil, fmt.Errorf("json column holds %T, want object", out)
	}
}

func encodeObject(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		if t == nil {
			return nil, nil
		}
	case string:
		return t, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json column: %w", err)
	}
	return string(data), nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func decodeTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return t.UTC(), nil
	case int64:
		if t > 1e12 {
			return time.UnixMilli(t).UTC(), nil
		}
		return time.Unix(t, 0).UTC(), nil
	case float64:
		return decodeTime(int64(t))
	case []byte:
		return decodeTime(string(t))
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, nil
		}
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("cannot parse timestamp %q", s)
	default:
		return time.Time{}, fmt.Errorf("cannot decode %T as timestamp", v)
	}
}

func encodeTime(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		if t.IsZero() {
			return nil, nil
		}
		return t.UTC().Format(time.RFC3339Nano), nil
	case string:
		ts, err := decodeTime(t)
		if err != nil {
			return nil, err
		}
		return encodeTime(ts)
	default:
		return nil, fmt.Errorf("cannot encode %T as timestamp", v)
	}
}
