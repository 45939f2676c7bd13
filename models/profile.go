package models

import "time"

type Profile struct {
	ID        string    `json:"id" db:"id"`
	Username  *string   `json:"username,omitempty" db:"username"`
	FullName  *string   `json:"full_name,omitempty" db:"full_name"`
	Email     *string   `json:"email,omitempty" db:"email"`
	Phone     *string   `json:"phone,omitempty" db:"phone"`
	AvatarURL *string   `json:"avatar_url,omitempty" db:"avatar_url"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// PublicProfile is the subset of a buyer's profile a seller may see.
type PublicProfile struct {
	ID       string  `json:"id" db:"id"`
	Username *string `json:"username,omitempty" db:"username"`
	FullName *string `json:"full_name,omitempty" db:"full_name"`
	Email    *string `json:"email,omitempty" db:"email"`
	Phone    *string `json:"phone,omitempty" db:"phone"`
}

type EnsureProfileRequest struct {
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Email    string `json:"email" binding:"omitempty,email"`
}

type WishlistEntry struct {
	UserID    string    `json:"user_id" db:"user_id"`
	BookID    string    `json:"book_id" db:"book_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
