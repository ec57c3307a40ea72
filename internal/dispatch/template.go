package dispatch

import (
	"strconv"
	"strings"
	"time"

	"klaxon/internal/models"
)

// Render substitutes {field} placeholders from the context. Unknown
// fields render as the empty string so one stale template key never
// fails a dispatch. "{{" escapes a literal brace; an unterminated "{"
// is emitted verbatim.
func Render(template string, ctx map[string]string) string {
	if !strings.ContainsRune(template, '{') {
		return template
	}

	var out strings.Builder
	out.Grow(len(template))

	for i := 0; i < len(template); i++ {
		c := template[i]
		if c != '{' {
			out.WriteByte(c)
			continue
		}

		if i+1 < len(template) && template[i+1] == '{' {
			out.WriteByte('{')
			i++
			continue
		}

		end := strings.IndexByte(template[i+1:], '}')
		if end < 0 {
			out.WriteString(template[i:])
			break
		}

		key := template[i+1 : i+1+end]
		out.WriteString(ctx[key])
		i += end + 1
	}
	return out.String()
}

// TemplateContext flattens an alert and its triggering event into the
// substitution map: envelope fields, event data (nested keys dot-joined),
// metadata, then alert fields. Later sources win on key collisions.
func TemplateContext(alert *models.Alert, event *models.Event) map[string]string {
	ctx := make(map[string]string)

	ctx["event_id"] = event.ID
	ctx["tenant_id"] = event.TenantID
	ctx["event_type"] = event.Type
	ctx["source"] = event.Source
	if !event.Timestamp.IsZero() {
		ctx["timestamp"] = event.Timestamp.UTC().Format(time.RFC3339)
	}

	flatten("", event.Data, ctx)

	for k, v := range event.Metadata {
		ctx[k] = v
	}

	if alert != nil {
		ctx["alert_id"] = alert.ID
		ctx["policy_id"] = alert.PolicyID
		ctx["severity"] = string(alert.Severity)
		ctx["status"] = string(alert.Status)
	}
	return ctx
}

// flatten walks nested maps, joining keys with dots and stringifying
// leaves. Values that have no string form (slices, structs) are skipped.
func flatten(prefix string, data map[string]any, out map[string]string) {
	for k, v := range data {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			flatten(key, nested, out)
			continue
		}
		if s, ok := stringify(v); ok {
			out[key] = s
		}
	}
}

func stringify(v any) (string, bool) {
	switch s := v.(type) {
	case nil:
		return "", true
	case string:
		return s, true
	case bool:
		if s {
			return "true", true
		}
		return "false", true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case int:
		return strconv.Itoa(s), true
	case int64:
		return strconv.FormatInt(s, 10), true
	case time.Time:
		return s.UTC().Format(time.RFC3339), true
	default:
		return "", false
	}
}
