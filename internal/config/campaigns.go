package config

import (
	"slices"
	"strings"
)

// CampaignSet names the active telephony campaigns. Campaign ids are
// allocated densely from 1, so the inactive set is the complement of
// Active within 1..Universe.
type CampaignSet struct {
	Active   []int `toml:"active"`
	Universe int   `toml:"universe"`
}

// Inactive returns every id in 1..Universe not listed in Active, ascending.
func (c CampaignSet) Inactive() []int {
	active := make(map[int]bool, len(c.Active))
	for _, id := range c.Active {
		active[id] = true
	}
	var out []int
	for id := 1; id <= c.Universe; id++ {
		if !active[id] {
			out = append(out, id)
		}
	}
	return out
}

// IsActive reports whether id is an active campaign.
func (c CampaignSet) IsActive(id int) bool {
	return slices.Contains(c.Active, id)
}

// StatusSet is a set of telephony status codes.
type StatusSet map[string]bool

// NewStatusSet builds a set from codes, ignoring blanks.
func NewStatusSet(codes ...string) StatusSet {
	s := make(StatusSet, len(codes))
	for _, c := range codes {
		if c = strings.TrimSpace(c); c != "" {
			s[c] = true
		}
	}
	return s
}

// Has reports whether code is in the set.
func (s StatusSet) Has(code string) bool {
	return s[strings.TrimSpace(code)]
}

// Excluded returns the excluded operator ids as a set.
func (c Config) Excluded() map[string]bool {
	out := make(map[string]bool, len(c.ExcludedOperators))
	for _, id := range c.ExcludedOperators {
		out[strings.TrimSpace(id)] = true
	}
	return out
}
