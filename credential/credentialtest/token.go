// Package credentialtest mints worker tokens for tests.
package credentialtest

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	AccountSID   = "ACxxx"
	WorkspaceSID = "WSxxx"
	WorkerSID    = "WKxxx"
)

// Token returns a signed worker token expiring after ttl.
func Token(t testing.TB, ttl time.Duration) string {
	t.Helper()
	return Sign(t, jwt.MapClaims{
		"iss": "SKxxx",
		"sub": AccountSID,
		"exp": time.Now().Add(ttl).Unix(),
		"grants": map[string]any{
			"task_router": map[string]any{
				"workspace_sid": WorkspaceSID,
				"worker_sid":    WorkerSID,
				"role":          "worker",
			},
		},
	})
}

// Sign signs arbitrary claims with a throwaway key.
func Sign(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}
