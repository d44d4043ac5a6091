// Package sanitize guards user-supplied text against embedded markup before it
// is stored and relayed to other clients.
package sanitize

import (
	"errors"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ErrMarkup is returned by Clean for text the policy would alter.
var ErrMarkup = errors.New("sanitize: text contains markup")

// Text checks text against bluemonday's strict policy. Accepted text is
// returned verbatim, never rewritten, so stored content is exactly what the
// sender typed.
type Text struct {
	policy *bluemonday.Policy
}

// New returns a sanitizer using bluemonday's strict policy.
func New() *Text {
	return &Text{policy: bluemonday.StrictPolicy()}
}

// Clean trims s and returns it unchanged if the policy has nothing to strip.
// Otherwise it returns ErrMarkup. Escaping done by the policy is ignored in
// the comparison, so "a < b" and "&lt;b&gt;" pass as plain text.
func (t *Text) Clean(s string) (string, error) {
	s = strings.TrimSpace(s)
	if html.UnescapeString(t.policy.Sanitize(s)) != html.UnescapeString(s) {
		return "", ErrMarkup
	}
	return s, nil
}
