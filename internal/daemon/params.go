package daemon

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"agentbrowser/internal/config"
)

// params is a read-only view of a command's action-specific fields.
type params map[string]any

func (p params) str(key string) string {
	switch v := p[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func (p params) required(key string) (string, error) {
	v := p.str(key)
	if v == "" {
		return "", fmt.Errorf("missing required field %q", key)
	}
	return v, nil
}

func (p params) boolean(key string) (bool, bool) {
	switch v := p[key].(type) {
	case bool:
		return v, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(v))
		return parsed, err == nil
	default:
		return false, false
	}
}

func (p params) number(key string) (float64, bool) {
	switch v := p[key].(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// list accepts a JSON array of strings or a comma-separated string.
func (p params) list(key string) []string {
	switch v := p[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	case []string:
		return v
	case string:
		return config.SplitList(v)
	default:
		return nil
	}
}

func (p params) object(key string) params {
	if v, ok := p[key].(map[string]any); ok {
		return params(v)
	}
	return nil
}

// stringMap reads a JSON object whose values are strings, numbers or
// booleans. present is false when the field is absent or null.
func (p params) stringMap(key string) (out map[string]string, present bool, err error) {
	raw, ok := p[key]
	if !ok || raw == nil {
		return nil, false, nil
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, true, fmt.Errorf("field %q must be a JSON object", key)
	}
	out = make(map[string]string, len(obj))
	for name, value := range obj {
		switch v := value.(type) {
		case string:
			out[name] = v
		case json.Number:
			out[name] = v.String()
		case float64:
			out[name] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			out[name] = strconv.FormatBool(v)
		default:
			return nil, true, fmt.Errorf("field %q: value of %q must be a string", key, name)
		}
	}
	return out, true, nil
}

// cdpEndpoint reads a DevTools port number or URL. Ports map to localhost.
func (p params) cdpEndpoint(key string) (string, error) {
	raw, ok := p[key]
	if !ok || raw == nil {
		return "", nil
	}
	if s, isString := raw.(string); isString {
		s = strings.TrimSpace(s)
		if s == "" {
			return "", nil
		}
		lower := strings.ToLower(s)
		for _, scheme := range []string{"ws://", "wss://", "http://", "https://"} {
			if strings.HasPrefix(lower, scheme) {
				return s, nil
			}
		}
	}
	n, ok := p.number(key)
	if !ok || n != math.Trunc(n) {
		return "", fmt.Errorf("invalid CDP endpoint %v: use a port number (1-65535) or a ws:// URL", raw)
	}
	if n < 1 || n > 65535 {
		return "", fmt.Errorf("invalid CDP port %v: valid range is 1-65535", n)
	}
	return "http://localhost:" + strconv.Itoa(int(n)), nil
}
