package domain

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// LocationMatch controls how an order's city is compared with a partner's
// service location.
type LocationMatch int

const (
	LocationMatchExact LocationMatch = iota
	LocationMatchCaseInsensitive
)

func ParseLocationMatch(s string) (LocationMatch, error) {
	switch strings.ToLower(s) {
	case "", "exact":
		return LocationMatchExact, nil
	case "fold", "case-insensitive":
		return LocationMatchCaseInsensitive, nil
	}
	return 0, fmt.Errorf("unknown location match mode %q", s)
}

func (m LocationMatch) Matches(partnerLocation, location string) bool {
	if m == LocationMatchCaseInsensitive {
		return LocationKey(partnerLocation) == LocationKey(location)
	}
	return partnerLocation == location
}

// LocationKey is the comparison form of a location in fold mode: Unicode
// whitespace runs collapse to one space, the ends are trimmed and the text is
// case folded. Postgres stores it in delivery_partners.location_key.
func LocationKey(location string) string {
	return cases.Fold().String(strings.Join(strings.Fields(location), " "))
}
