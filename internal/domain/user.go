package domain

import "strconv"

// User is the profile returned by auth/me/ and auth/profile/:id/.
type User struct {
	ID         int64  `json:"id"`
	Username   string `json:"username"`
	Email      string `json:"email,omitempty"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	Bio        string `json:"bio"`
	Avatar     string `json:"avatar,omitempty"`
	IsVerified bool   `json:"is_verified"`
}

// DisplayName returns "First Last" when known, otherwise the username.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.Username
	}
}

// IDString formats the id for logs and context values.
func (u *User) IDString() string {
	if u == nil {
		return ""
	}
	return strconv.FormatInt(u.ID, 10)
}

// TokenPair is the body of auth/token/, auth/register/ and
// auth/token/refresh/. Refresh is empty when the server does not rotate it.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

// Credentials are posted to auth/token/.
type Credentials struct {
	Username string `json:"username" validate:"notblank,max=150"`
	Password string `json:"password" validate:"required"`
}

// RegisterInput is posted to auth/register/.
type RegisterInput struct {
	Username  string `json:"username" validate:"notblank,max=150"`
	Email     string `json:"email" validate:"required,email"`
	FirstName string `json:"first_name" validate:"max=150"`
	LastName  string `json:"last_name" validate:"max=150"`
	Password  string `json:"password" validate:"required,min=8"`
}

// ProfileUpdate is sent as multipart to PATCH auth/me/.
type ProfileUpdate struct {
	Bio    string `json:"bio" form:"bio" validate:"max=500"`
	Avatar *File  `json:"-"`
}
