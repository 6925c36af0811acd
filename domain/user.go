package domain

// User holds the display fields of an account. Identity is owned by the auth layer;
// the messaging core only relies on ID.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Image string `json:"image,omitempty"`
}
