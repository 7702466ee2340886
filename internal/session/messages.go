package session

// Messages shown by the login, register and profile surfaces.
const (
	MsgInvalidCredentials  = "Invalid credentials. Please try again."
	MsgRegistrationFailed  = "Registration failed. Please try again."
	MsgRegistered          = "Registration successful! Please wait for admin approval."
	MsgProfileUpdated      = "Profile updated successfully!"
	MsgProfileUpdateFailed = "Failed to update profile. Try again."
	MsgLoggedOut           = "You have been logged out. Log in again with: campusfeed login"
)
