// Package ident validates and quotes SQL identifiers used in generated DDL.
//
// Values always travel as bind parameters. Table, schema, column and type
// names cannot, so every name that reaches a CREATE/ALTER/DROP statement must
// first pass [Validate]. The allow-list is deliberately narrower than what
// PostgreSQL accepts: lowercase ASCII letters, digits and underscore, starting
// with a letter or underscore, at most 63 bytes.
package ident

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/lib/pq"
)

// MaxLength is PostgreSQL's NAMEDATALEN-1.
const MaxLength = 63

// ErrUnsafeIdentifier is returned for names outside the allow-list.
var ErrUnsafeIdentifier = errors.New("unsafe identifier")

var identRegex = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// reserved holds keywords that would be legal under the regex but are
// confusing as bare column names even when quoted.
var reserved = map[string]bool{
	"select": true, "from": true, "where": true, "table": true,
	"drop": true, "alter": true, "create": true, "insert": true,
	"update": true, "delete": true, "grant": true, "user": true,
}

// Validate reports whether name is safe to interpolate into DDL.
func Validate(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrUnsafeIdentifier)
	}
	if len(name) > MaxLength {
		return fmt.Errorf("%w: %q exceeds %d bytes", ErrUnsafeIdentifier, name, MaxLength)
	}
	if !identRegex.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrUnsafeIdentifier, name)
	}
	if reserved[name] {
		return fmt.Errorf("%w: %q is a reserved word", ErrUnsafeIdentifier, name)
	}
	return nil
}

// ValidateAll validates every name and returns the first failure.
func ValidateAll(names ...string) error {
	for _, n := range names {
		if err := Validate(n); err != nil {
			return err
		}
	}
	return nil
}

// Quote validates name and returns it double-quoted.
func Quote(name string) (string, error) {
	if err := Validate(name); err != nil {
		return "", err
	}
	return pq.QuoteIdentifier(name), nil
}

// Qualified returns "schema"."name" after validating both parts.
func Qualified(schema, name string) (string, error) {
	s, err := Quote(schema)
	if err != nil {
		return "", err
	}
	n, err := Quote(name)
	if err != nil {
		return "", err
	}
	return s + "." + n, nil
}

// QuoteList quotes a list of names, failing on the first unsafe one.
func QuoteList(names []string) ([]string, error) {
	out := make([]string, len(names))
	for i, n := range names {
		q, err := Quote(n)
		if err != nil {
			return nil, err
		}
		out[i] = q
	}
	return out, nil
}

