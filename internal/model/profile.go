package model

import "time"

// ProfileFields are the profile columns a user may change, in the order
// they are written.
var ProfileFields = []string{"full_name", "avatar_url", "bio", "phone"}

// Profile is a row of `profiles`, one per user.  Email mirrors users.email
// at registration.
type Profile struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	FullName  *string   `json:"full_name"`
	AvatarURL *string   `json:"avatar_url"`
	Bio       *string   `json:"bio"`
	Phone     *string   `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
