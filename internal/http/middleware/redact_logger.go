package middleware

import (
	"net/url"
	"regexp"
	"strings"
)

// RedactOptions extends the built-in scrub lists of the access logger.
//
// MaskHeaders and MaskParams name extra headers / query parameters whose
// values are replaced with "[REDACTED]" (case-insensitive). The built-in
// lists cover credentials, payment-gateway signatures and patient contact
// details.
type RedactOptions struct {
	MaskHeaders []string
	MaskParams  []string
}

var (
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	// Digits only, so hex runs inside ids never match.
	phoneRE = regexp.MustCompile(`\+?\d(?:[ .-]?\d){6,14}`)
	dateRE  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

var (
	defaultMaskHeaders = []string{"authorization", "cookie", "set-cookie", "x-razorpay-signature"}
	defaultMaskParams  = []string{"token", "access_token", "signature", "razorpay_signature", "phone", "email"}
)

// redactor scrubs PII from request metadata before it is logged. Bodies are
// never logged.
type redactor struct {
	headers map[string]struct{}
	params  map[string]struct{}
}

func newRedactor(opts RedactOptions) *redactor {
	r := &redactor{
		headers: toSet(defaultMaskHeaders, opts.MaskHeaders),
		params:  toSet(defaultMaskParams, opts.MaskParams),
	}
	return r
}

func toSet(lists ...[]string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, l := range lists {
		for _, s := range l {
			if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
				set[s] = struct{}{}
			}
		}
	}
	return set
}

// text replaces ids first, then emails, then phone numbers.
func (r *redactor) text(s string) string {
	if s == "" {
		return s
	}
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return phoneRE.ReplaceAllStringFunc(s, func(m string) string {
		// Slot dates look like digit runs too.
		if dateRE.MatchString(m) {
			return m
		}
		return "[REDACTED:phone]"
	})
}

// query masks sensitive parameters by name and scrubs the rest by pattern.
// An unparsable query is scrubbed as plain text.
func (r *redactor) query(raw string) string {
	if raw == "" {
		return ""
	}
	vals, err := url.ParseQuery(raw)
	if err != nil {
		return r.text(raw)
	}
	for k, vv := range vals {
		if _, ok := r.params[strings.ToLower(k)]; ok {
			vals[k] = []string{"[REDACTED]"}
			continue
		}
		for i := range vv {
			vv[i] = r.text(vv[i])
		}
	}
	// Encode escapes the brackets; keep them readable in logs.
	out, _ := url.QueryUnescape(vals.Encode())
	return out
}

func (r *redactor) headerMap(h map[string][]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		if _, ok := r.headers[strings.ToLower(k)]; ok {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = r.text(strings.Join(vv, ", "))
	}
	return out
}
