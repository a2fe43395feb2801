package storage

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Scheme identifies which backend a URI selects (spec.md §6).
type Scheme string

const (
	SchemeMem    Scheme = "mem"
	SchemeFile   Scheme = "file"
	SchemeSQLite Scheme = "sqlite"
	SchemeRedis  Scheme = "redis"
	SchemeZbox   Scheme = "zbox"
	SchemeFaulty Scheme = "faulty"
)

// URI is a parsed "scheme://location" backend address.
type URI struct {
	Scheme   Scheme
	Location string // host+path portion, scheme-specific meaning
	Query    url.Values
}

// ParseURI parses a backend URI of the form "scheme://location[?query]".
func ParseURI(raw string) (*URI, error) {
	idx := strings.Index(raw, "://")
	if idx < 0 {
		return nil, ErrInvalidURI("storage.ParseURI")
	}
	scheme := Scheme(raw[:idx])
	rest := raw[idx+3:]

	switch scheme {
	case SchemeMem, SchemeFile, SchemeSQLite, SchemeRedis, SchemeZbox, SchemeFaulty:
	default:
		return nil, ErrInvalidURI("storage.ParseURI")
	}

	location := rest
	q := url.Values{}
	if qi := strings.Index(rest, "?"); qi >= 0 {
		location = rest[:qi]
		parsed, err := url.ParseQuery(rest[qi+1:])
		if err != nil {
			return nil, ErrInvalidURI("storage.ParseURI")
		}
		q = parsed
	}

	return &URI{Scheme: scheme, Location: location, Query: q}, nil
}

func (u *URI) String() string {
	if len(u.Query) == 0 {
		return fmt.Sprintf("%s://%s", u.Scheme, u.Location)
	}
	return fmt.Sprintf("%s://%s?%s", u.Scheme, u.Location, u.Query.Encode())
}

// QueryInt returns a query parameter parsed as an int, or def if absent
// or malformed.
func (u *URI) QueryInt(key string, def int) int {
	v := u.Query.Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
