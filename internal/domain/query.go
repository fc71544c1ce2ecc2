package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Query is a consumer's declared interest: a set of service type names.
type Query struct {
	Types []string `json:"types"`
}

// QueryKey identifies a canonical Query. Subscriptions and feeds are grouped by it.
type QueryKey string

// Canonical returns the query with types trimmed, deduplicated and sorted.
func (q Query) Canonical() Query {
	seen := make(map[string]struct{}, len(q.Types))
	types := make([]string, 0, len(q.Types))
	for _, t := range q.Types {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		types = append(types, t)
	}
	sort.Strings(types)
	return Query{Types: types}
}

// Key derives the QueryKey: hex SHA-256 over the canonical JSON encoding.
// Type order and duplicates do not affect the result.
func (q Query) Key() (QueryKey, error) {
	c := q.Canonical()
	if len(c.Types) == 0 {
		return "", fmt.Errorf("%w: types must not be empty", ErrInvalidQuery)
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	sum := sha256.Sum256(raw)
	return QueryKey(hex.EncodeToString(sum[:])), nil
}

// Short is a log-friendly prefix of the key.
func (k QueryKey) Short() string {
	if len(k) > 12 {
		return string(k[:12])
	}
	return string(k)
}
