// Package template performs single-pass placeholder substitution
// against a trigger snapshot. Placeholders use the form {{key}}.
// Unresolved placeholders render as empty content; that is documented
// lossy behavior, not an error. Rendering is pure and idempotent for
// identical inputs.
package template

import (
	"html"
	"strconv"
	"strings"

	"github.com/djlord-it/stepflow/internal/domain"
)

// Escaper transforms a substituted value before insertion.
type Escaper func(string) string

// EscaperFor returns the escaping policy for a delivery channel.
// Email bodies are commonly HTML; sms and chat are plain text.
func EscaperFor(ch domain.Channel) Escaper {
	if ch == domain.ChannelEmail {
		return html.EscapeString
	}
	return func(s string) string { return s }
}

// Render substitutes {{key}} placeholders in tmpl with snapshot values
// in a single scan. Literal text outside placeholders is copied
// unchanged; escape applies only to substituted values. A nil escape
// means no escaping.
func Render(tmpl string, snap domain.Snapshot, escape Escaper) string {
	var b strings.Builder
	b.Grow(len(tmpl))

	for {
		open := strings.Index(tmpl, "{{")
		if open < 0 {
			b.WriteString(tmpl)
			return b.String()
		}

		closing := strings.Index(tmpl[open+2:], "}}")
		if closing < 0 {
			// Unterminated placeholder: treat remainder as literal.
			b.WriteString(tmpl)
			return b.String()
		}

		b.WriteString(tmpl[:open])

		key := strings.TrimSpace(tmpl[open+2 : open+2+closing])
		value := formatValue(snap[key])
		if escape != nil {
			value = escape(value)
		}
		b.WriteString(value)

		tmpl = tmpl[open+2+closing+2:]
	}
}

// formatValue renders a snapshot value as text. Missing keys (nil)
// produce empty content.
func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}
