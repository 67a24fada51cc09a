package notification

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// fields is a read-only view over a decoded payload object.
type fields map[string]interface{}

func (f fields) has(key string) bool {
	v, ok := f[key]
	return ok && v != nil
}

func (f fields) str(key string) string {
	switch v := f[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func (f fields) obj(key string) fields {
	if m, ok := f[key].(map[string]interface{}); ok {
		return fields(m)
	}
	return nil
}

// path walks nested objects; a missing step yields nil.
func (f fields) path(keys ...string) interface{} {
	cur := f
	for i, k := range keys {
		if cur == nil {
			return nil
		}
		if i == len(keys)-1 {
			return cur[k]
		}
		cur = cur.obj(k)
	}
	return nil
}

// intOr returns the integer at path, or def when absent.
func (f fields) intOr(def int64, keys ...string) int64 {
	if n, ok := toInt64(f.path(keys...)); ok {
		return n
	}
	return def
}

func (f fields) list(key string) []fields {
	raw, ok := f[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]fields, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, fields(m))
		}
	}
	return out
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	case float32:
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return int64(f), true
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}
