package domain

// Role is what an API caller may do with sessions.
type Role string

const (
	// RoleViewer may list sessions, read aspect ratios and watch the feed.
	RoleViewer Role = "viewer"
	// RoleOperator may also open, start, stop and close sessions and edit
	// the participant directory.
	RoleOperator Role = "operator"
)

func (r Role) Valid() bool {
	return r == RoleViewer || r == RoleOperator
}

// Allows reports whether r grants required.
func (r Role) Allows(required Role) bool {
	return r.level() >= required.level()
}

func (r Role) level() int {
	switch r {
	case RoleViewer:
		return 1
	case RoleOperator:
		return 2
	default:
		return 0
	}
}
