package service

// Identity is the authenticated caller. Operations that need a caller
// take it explicitly; nil means anonymous.
type Identity struct {
	UserID    string
	SessionID string
	Email     string
	Name      string
	AvatarURL string
}

func (i *Identity) Owns(userID string) bool {
	return i != nil && i.UserID != "" && i.UserID == userID
}
