package model

// Tier is an ordered license capability level. Higher tiers grant a
// superset of the scopes of lower tiers.
type Tier string

const (
	TierFree       Tier = "free"
	TierStandard   Tier = "standard"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// tierRank orders tiers for scope accumulation. Unknown tiers rank below
// free so a corrupt row never grants more than the baseline.
func tierRank(t Tier) int {
	switch t {
	case TierFree:
		return 0
	case TierStandard:
		return 1
	case TierPremium:
		return 2
	case TierEnterprise:
		return 3
	default:
		return -1
	}
}

// Valid reports whether t is a recognized tier.
func (t Tier) Valid() bool {
	return tierRank(t) >= 0
}

// ScopesFor computes the scope set granted to a session as a pure function
// of the license tier and internal-use flag. Scopes are never accepted from
// the caller; this is the only place they are produced.
func ScopesFor(tier Tier, internal bool) []string {
	scopes := []string{"session:refresh", "usage:report", "datastore:read"}

	rank := tierRank(tier)
	if rank >= 1 {
		scopes = append(scopes, "datastore:write", "messaging:publish")
	}
	if rank >= 2 {
		scopes = append(scopes, "messaging:subscribe", "analytics:query")
	}
	if rank >= 3 {
		scopes = append(scopes, "export:bulk")
	}
	if internal {
		scopes = append(scopes, "internal:debug")
	}
	return scopes
}
