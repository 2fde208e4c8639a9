package domain

// Principal is the authenticated caller of an operation.
type Principal struct {
	UserID   int64
	Username string
	Role     Role
	AreaID   *int64
}

// IsRequester reports whether the caller files tickets.
func (p Principal) IsRequester() bool {
	return p.Role == RoleRequester
}

// IsTechnician reports whether the caller works tickets.
func (p Principal) IsTechnician() bool {
	return p.Role == RoleTechnician
}

// PrincipalFromUser builds the caller context from a loaded user.
func PrincipalFromUser(u *User) Principal {
	return Principal{UserID: u.ID, Username: u.Username, Role: u.Role, AreaID: u.AreaID}
}
