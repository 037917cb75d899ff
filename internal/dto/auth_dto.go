package dto

// ─── Request DTOs ────────────────────────────────────────────────────────────

// LoginRequest opens a terminal session on one station.
type LoginRequest struct {
	Username  string `json:"username"   validate:"required,min=1"`
	Password  string `json:"password"   validate:"required,min=4"`
	StationID string `json:"station_id" validate:"required,uuid"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// ManagerRequest carries the credentials of a manager authorizing a price
// below the operator's discount limit.
type ManagerRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// ─── Response DTOs ───────────────────────────────────────────────────────────

type UserResponse struct {
	ID        string  `json:"id"`
	Username  string  `json:"username"`
	Name      string  `json:"name"`
	Email     *string `json:"email"`
	Role      string  `json:"role"`
	BranchID  string  `json:"branch_id"`
	StationID string  `json:"station_id"`
}

type LoginResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int          `json:"expires_in"` // seconds
	User         UserResponse `json:"user"`
}
