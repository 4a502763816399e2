package dbtypes

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// StringArray stores role lists as a Postgres text[] literal ({a,b}). sqlite keeps
// the same literal as TEXT so both drivers round-trip identically.
type StringArray []string

func (a *StringArray) Scan(src any) error {
	if src == nil {
		*a = StringArray{}
		return nil
	}

	switch v := src.(type) {
	case string:
		return a.parseFromString(v)
	case []byte:
		return a.parseFromString(string(v))
	default:
		return fmt.Errorf("StringArray: unsupported Scan type %T", src)
	}
}

func (a StringArray) Value() (driver.Value, error) {
	if len(a) == 0 {
		return "{}", nil
	}
	parts := make([]string, 0, len(a))
	for _, v := range a {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if strings.ContainsAny(v, `,{}"\ `) {
			return nil, fmt.Errorf("StringArray: unsupported element %q", v)
		}
		parts = append(parts, v)
	}
	return "{" + strings.Join(parts, ",") + "}", nil
}

// Contains reports whether value is present, ignoring case.
func (a StringArray) Contains(value string) bool {
	for _, v := range a {
		if strings.EqualFold(v, value) {
			return true
		}
	}
	return false
}

func (a *StringArray) parseFromString(s string) error {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")
	if strings.TrimSpace(s) == "" {
		*a = StringArray{}
		return nil
	}

	raw := strings.Split(s, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(strings.Trim(r, `"`))
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	*a = StringArray(out)
	return nil
}
