// Package service provides the identity application services: user
// management, authentication, groups, roles and first-run bootstrapping.
package service

import "errors"

// Common service errors.
var (
	// User errors
	ErrUserNotFound       = errors.New("user not found")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidPassword    = errors.New("invalid password")
	ErrPasswordReused     = errors.New("password was used recently")
	ErrExternalIdentity   = errors.New("credentials are managed by an external identity provider")
	ErrPropertyNotFound   = errors.New("property not found")

	// Role and group errors
	ErrRoleNotFound       = errors.New("role not found")
	ErrRoleAlreadyExists  = errors.New("role already exists")
	ErrGroupNotFound      = errors.New("group not found")
	ErrGroupAlreadyExists = errors.New("group already exists")

	// General errors
	ErrInvalidInput  = errors.New("invalid input")
	ErrBusy          = errors.New("resource is busy, try again")
	ErrInternalError = errors.New("internal server error")
)
