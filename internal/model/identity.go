package model

// Role is the caller role carried in the access token.
type Role string

const (
	RoleCandidate    Role = "candidate"
	RoleAdmin        Role = "admin"
	RoleRecruiter    Role = "recruiter"
	RolePsychologist Role = "psychologist"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleCandidate || r.IsStaff()
}

// IsStaff reports whether r may read other candidates' attempts.
func (r Role) IsStaff() bool {
	return r == RoleAdmin || r == RoleRecruiter || r == RolePsychologist
}

// Identity is the verified caller of a request.
type Identity struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

// CanView reports whether the caller may read attempts owned by candidateID.
func (i Identity) CanView(candidateID string) bool {
	return i.Role.IsStaff() || i.UserID == candidateID
}
