// Package credential decodes worker access tokens and tracks their expiry.
package credential

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidArgument is returned when no token is supplied.
	ErrInvalidArgument = errors.New("one or more arguments passed were invalid")
	// ErrInvalidToken is returned when the token cannot be decoded or lacks required claims.
	ErrInvalidToken = errors.New("the token is invalid or malformed")
)

// TaskRouterGrant is the routing scope carried by a worker token.
type TaskRouterGrant struct {
	WorkspaceSID string `json:"workspace_sid"`
	WorkerSID    string `json:"worker_sid"`
	Role         string `json:"role"`
}

// Grants holds the token grants this client cares about.
type Grants struct {
	TaskRouter *TaskRouterGrant `json:"task_router,omitempty"`
}

// Claims is the decoded payload of a worker access token.
type Claims struct {
	jwt.RegisteredClaims
	Grants Grants `json:"grants"`
}

// AccountSID is the token subject.
func (c *Claims) AccountSID() string {
	return c.Subject
}

// WorkspaceSID returns the workspace from the TaskRouter grant.
func (c *Claims) WorkspaceSID() string {
	if c.Grants.TaskRouter == nil {
		return ""
	}
	return c.Grants.TaskRouter.WorkspaceSID
}

// WorkerSID returns the worker from the TaskRouter grant.
func (c *Claims) WorkerSID() string {
	if c.Grants.TaskRouter == nil {
		return ""
	}
	return c.Grants.TaskRouter.WorkerSID
}

// Expiry returns the exp claim, or the zero time when absent.
func (c *Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// Parse decodes token without verifying its signature; the backend verifies it on every call.
// It enforces the claims the client needs: iss, sub, and a TaskRouter grant with a role.
func Parse(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("token is required: %w", ErrInvalidArgument)
	}

	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("unable to decode token: %v: %w", err, ErrInvalidToken)
	}

	if claims.Issuer == "" || claims.Subject == "" || claims.Grants.TaskRouter == nil {
		return nil, fmt.Errorf("missing one of grants.task_router, iss, or sub: %w", ErrInvalidToken)
	}
	if claims.Grants.TaskRouter.Role == "" {
		return nil, fmt.Errorf("missing role in the task_router grant: %w", ErrInvalidToken)
	}

	return claims, nil
}
