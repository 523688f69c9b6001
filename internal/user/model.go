package user

import "time"

const (
	TypeAnonymous  = "anonymous"
	TypeRegistered = "registered"
)

type User struct {
	ID           int       `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	UserType     string    `json:"user_type"`
	MobileNumber string    `json:"mobile_number,omitempty"`
	Bio          string    `json:"bio"`
	Password     string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type SignupRequest struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	MobileNumber string `json:"mobile_number"`
	CaptchaToken string `json:"captcha_token"`
}

type ProfileUpdateRequest struct {
	DisplayName string `json:"display_name"`
	Bio         string `json:"bio"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	ID          int    `json:"id"`
	Username    string `json:"username"`
}
