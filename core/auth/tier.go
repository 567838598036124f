package auth

import "strings"

// Tier is the authorization tier a caller is classified into.
type Tier string

const (
	TierProducer     Tier = "producer"
	TierFinanceAdmin Tier = "finance_admin"
	TierAdmin        Tier = "admin"
	TierSuperAdmin   Tier = "super_admin"
)

// rank orders tiers for classification; higher wins.
var rank = map[Tier]int{
	TierProducer:     1,
	TierFinanceAdmin: 2,
	TierAdmin:        3,
	TierSuperAdmin:   4,
}

// ParseTier maps a role tag to a Tier. Unknown tags report false.
func ParseTier(tag string) (Tier, bool) {
	t := Tier(strings.ToLower(strings.TrimSpace(tag)))
	_, ok := rank[t]
	return t, ok
}

// Caller is the identity an action runs as. Roles comes from the identity
// resolver; the raw token never reaches the guard.
type Caller struct {
	UserID int64
	Name   string
	Roles  []Tier
}

// System is the actor recorded for lazy transitions such as offer expiry.
var System = Caller{UserID: 0, Name: "system"}

// Tier classifies the caller by its highest-ranked role. A caller with no
// recognised role has the empty tier and is denied everything.
func (c Caller) Tier() Tier {
	var best Tier
	for _, r := range c.Roles {
		if rank[r] > rank[best] {
			best = r
		}
	}
	return best
}

// IsAdminTier reports whether the caller is finance_admin, admin or super_admin.
func (c Caller) IsAdminTier() bool {
	return rank[c.Tier()] >= rank[TierFinanceAdmin]
}

// Label is the role string written to history rows.
func (c Caller) Label() string {
	if c.UserID == 0 && len(c.Roles) == 0 {
		return "system"
	}
	return string(c.Tier())
}
