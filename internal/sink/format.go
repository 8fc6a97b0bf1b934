package sink

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/btouchard/courier/internal/message"
)

// DefaultFormat renders one message as an alert block.
const DefaultFormat = `<div class="alert alert-{type} mt-2">{message}</div>`

// TextFormat is a plain single-line rendering for terminals.
const TextFormat = `[{timestamp}] {type} {target}: {message}`

const timeLayout = "15:04:05"

// render substitutes every {field} placeholder in format. timestamp is
// shown as a time of day in loc; unknown fields render empty.
func render(format string, m message.Message, loc *time.Location, escape func(string) string) string {
	fields := m.Fields()

	var b strings.Builder
	b.Grow(len(format) + len(m.Message))

	rest := format
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.IndexByte(rest[open+1:], '}')
		if end < 0 {
			b.WriteString(rest)
			break
		}
		name := rest[open+1 : open+1+end]
		if !isFieldName(name) {
			// not a placeholder; keep the brace and move on
			b.WriteString(rest[:open+1])
			rest = rest[open+1:]
			continue
		}

		b.WriteString(rest[:open])
		if name == message.KeyTimestamp {
			b.WriteString(time.Unix(m.Timestamp, 0).In(loc).Format(timeLayout))
		} else if v, ok := fields[name]; ok {
			b.WriteString(escape(valueString(v)))
		}
		rest = rest[open+1+end+1:]
	}
	return b.String()
}

func isFieldName(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

func valueString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case map[string]any, []any:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(data)
	default:
		return fmt.Sprint(x)
	}
}
