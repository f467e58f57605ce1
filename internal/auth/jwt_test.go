package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hackgods/slot-waitlist-scheduling/internal/appointment"
)

func TestIssueValidateRoundTrip(t *testing.T) {
	m := NewJWTManager("secret", "slot-waitlist")
	id := Identity{UserID: uuid.New(), Role: appointment.RoleProvider}

	token, err := m.Issue(id, time.Hour)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	got, err := m.Validate(token)
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if got != id {
		t.Fatalf("identity = %+v, want %+v", got, id)
	}
}

func TestValidate_Rejects(t *testing.T) {
	m := NewJWTManager("secret", "slot-waitlist")
	id := Identity{UserID: uuid.New(), Role: appointment.RoleUser}

	expired, _ := m.Issue(id, -time.Minute)
	otherKey, _ := NewJWTManager("other", "slot-waitlist").Issue(id, time.Hour)
	otherIssuer, _ := NewJWTManager("secret", "someone-else").Issue(id, time.Hour)
	badRole, _ := m.Issue(Identity{UserID: id.UserID, Role: "root"}, time.Hour)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "slot-waitlist", Subject: id.UserID.String()},
		Role:             "user",
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	cases := []struct {
		name  string
		token string
		want  error
	}{
		{"expired", expired, ErrTokenExpired},
		{"wrong key", otherKey, ErrTokenInvalid},
		{"wrong issuer", otherIssuer, ErrTokenInvalid},
		{"unknown role", badRole, ErrTokenInvalid},
		{"no expiry", noExpiry, ErrTokenInvalid},
		{"garbage", "not.a.token", ErrTokenInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := m.Validate(tc.token); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}
