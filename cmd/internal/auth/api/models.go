package api

import "time"

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type profileRequest struct {
	Email       *string `json:"email"`
	DisplayName *string `json:"display_name"`
}

type canvasCreateRequest struct {
	Name string `json:"name"`
}

type permissionRequest struct {
	CanvasID string `json:"canvas_id"`
	Email    string `json:"email"`
	Level    string `json:"level"`
}

type inviteCreateRequest struct {
	CanvasID         string `json:"canvas_id"`
	Level            string `json:"level"`
	ExpiresInSeconds int64  `json:"expires_in_seconds"`
	MaxUses          int    `json:"max_uses"`
}

type inviteConsumeRequest struct {
	InviteToken string `json:"invite_token"`
}

type userResponse struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

type canvasResponse struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Moderated      bool      `json:"moderated"`
	YourPermission string    `json:"your_permission"`
	CreatedAt      time.Time `json:"created_at"`
}

type canvasListResponse struct {
	Canvases []canvasResponse `json:"canvases"`
}

type meResponse struct {
	User userResponse `json:"user"`
}

type inviteCreateResponse struct {
	InviteID    string    `json:"invite_id"`
	InviteToken string    `json:"invite_token"`
	CanvasID    string    `json:"canvas_id"`
	Level       string    `json:"level"`
	ExpiresAt   time.Time `json:"expires_at"`
	MaxUses     int       `json:"max_uses"`
}

type inviteConsumeResponse struct {
	CanvasID string `json:"canvas_id"`
	Level    string `json:"level"`
}
