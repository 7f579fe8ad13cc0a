package models

import "github.com/golang-jwt/jwt/v5"

// UserRole represents the available roles for the RBAC gate.
// Account management itself lives in the platform's identity service;
// this API only consumes its access tokens.
type UserRole string

const (
	RoleAdmin   UserRole = "ADMIN"
	RoleStudent UserRole = "STUDENT"
)

// JWTClaims represents the JWT payload issued by the identity service.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}
