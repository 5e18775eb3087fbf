package guardrails

import (
	"fmt"
	"strings"
)

// Policy is the immutable rule set one validation pass runs under. It is
// resolved per catalog at the request boundary and validated once there;
// the engine only reads it.
type Policy struct {
	// AllowWrite permits non-SELECT statements when true.
	AllowWrite bool

	// DefaultLimit is injected into read queries that carry no LIMIT.
	// Zero disables injection.
	DefaultLimit int

	// Banned items are matched case-insensitively: tables by unqualified
	// name, schemas by qualifier, columns by name.
	BannedTables  []string
	BannedColumns []string
	BannedSchemas []string

	// PIITags lists column names to mask when PIIMaskingEnabled is set.
	PIITags           []string
	PIIMaskingEnabled bool

	// MaxRowsReturned caps the LIMIT value actually present in the final
	// query. Zero disables the check.
	MaxRowsReturned int

	// AllowedFunctions, when non-nil, is an exhaustive allow-list: every
	// function call must appear in it. BlockedFunctions is a deny-list.
	// Both may be set at once.
	AllowedFunctions []string
	BlockedFunctions []string
}

// DefaultPolicy is applied to catalogs that have no stored policy.
func DefaultPolicy() Policy {
	return Policy{
		AllowWrite:   false,
		DefaultLimit: 1000,
	}
}

// Validate rejects policies that cannot be enforced coherently.
func (p Policy) Validate() error {
	if p.DefaultLimit < 0 {
		return fmt.Errorf("default_limit must be >= 0, got %d", p.DefaultLimit)
	}
	if p.MaxRowsReturned < 0 {
		return fmt.Errorf("max_rows_returned must be >= 0, got %d", p.MaxRowsReturned)
	}
	if p.PIIMaskingEnabled && len(p.PIITags) == 0 {
		return fmt.Errorf("pii_masking_enabled requires at least one pii tag")
	}
	return nil
}

// loweredSet builds a case-insensitive lookup set.
func loweredSet(items []string) map[string]struct{} {
	if len(items) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[strings.ToLower(it)] = struct{}{}
	}
	return set
}
