package models

// Identity is the authenticated principal the connection is opened for.
// Credential is opaque here; token acquisition happens elsewhere.
type Identity struct {
	UserID     string `json:"user_id"`
	Credential string `json:"-"`
	Role       string `json:"role"`
}

func (i Identity) Valid() bool {
	return i.UserID != "" && i.Credential != ""
}
