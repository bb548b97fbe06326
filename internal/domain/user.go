package domain

// User is the summary of a platform user as the chat core sees it.
// The full account model (credentials, roles, profile) lives behind the
// auth boundary; the chat core only ever needs identity and display data.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	// Elevated marks support agents and admins, who may delete
	// messages they do not own.
	Elevated bool `json:"elevated,omitempty"`
}

// DisplayName returns the best human-readable identifier for the user.
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}
