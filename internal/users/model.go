package users

import (
	"errors"
	"time"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotFound           = errors.New("user not found")
	ErrEmployeeIDExists   = errors.New("employee id already registered")
	ErrInvalidRole        = errors.New("invalid role")
	ErrWeakPassword       = errors.New("password must be 6-100 characters")
)

// User is an account in the fleet system. PriorityLevel feeds reservation
// ranking and is snapshotted into the JWT at login.
type User struct {
	ID            string    `json:"id"`
	EmployeeID    string    `json:"employee_id"`
	Name          string    `json:"name"`
	PasswordHash  string    `json:"-"`
	Role          string    `json:"role"`
	PriorityLevel int       `json:"priority_level"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// RegisterRequest is the body for POST /users (admin only).
type RegisterRequest struct {
	EmployeeID    string `json:"employee_id"`
	Name          string `json:"name"`
	Password      string `json:"password"`
	Role          string `json:"role"`
	PriorityLevel int    `json:"priority_level"`
}

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	EmployeeID string `json:"employee_id"`
	Password   string `json:"password"`
}

// AuthResponse carries both tokens plus the resolved identity.
type AuthResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
	User         *User  `json:"user"`
}

// RefreshRequest is the body for POST /auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}
