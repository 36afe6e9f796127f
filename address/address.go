// Package address turns raw address header values into identities.
package address

import (
	"strings"

	"github.com/emersion/go-message/mail"

	"github.com/dhcgn/mail-normalize/model"
)

// Parse extracts the first display-name/address pair of a single-value
// header. Unparseable values yield an empty identity.
func Parse(value string) model.Identity {
	value = strings.TrimSpace(value)
	if value == "" {
		return model.Identity{}
	}
	addr, err := mail.ParseAddress(value)
	if err != nil {
		list, listErr := mail.ParseAddressList(value)
		if listErr != nil || len(list) == 0 {
			return model.Identity{}
		}
		addr = list[0]
	}
	return model.Identity{Name: addr.Name, Address: addr.Address}
}

// ParseList extracts every pair from all instances of a multi-value header,
// in field order. Instances are merged as if they were one comma-separated
// value. Elements that do not parse are kept verbatim as an address.
func ParseList(values []string) []model.Identity {
	out := []model.Identity{}
	var nonEmpty []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			nonEmpty = append(nonEmpty, v)
		}
	}
	if len(nonEmpty) == 0 {
		return out
	}

	if list, err := mail.ParseAddressList(strings.Join(nonEmpty, ", ")); err == nil {
		for _, addr := range list {
			out = append(out, model.Identity{Name: addr.Name, Address: addr.Address})
		}
		return out
	}

	for _, v := range nonEmpty {
		for _, element := range splitList(v) {
			element = strings.TrimSpace(element)
			if element == "" {
				continue
			}
			if addr, err := mail.ParseAddress(element); err == nil {
				out = append(out, model.Identity{Name: addr.Name, Address: addr.Address})
				continue
			}
			out = append(out, model.Identity{Address: element})
		}
	}
	return out
}

// splitList splits on commas outside quoted strings, comments and angle
// brackets.
func splitList(s string) []string {
	var (
		parts   []string
		start   int
		quoted  bool
		escaped bool
		depth   int
		angle   bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == '"':
			quoted = !quoted
		case quoted:
		case c == '(':
			depth++
		case c == ')' && depth > 0:
			depth--
		case c == '<':
			angle = true
		case c == '>':
			angle = false
		case c == ',' && depth == 0 && !angle:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}
