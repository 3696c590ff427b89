package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidToken    = errors.New("invalid token")
	ErrInvalidCallback = errors.New("invalid callback credentials")
)

// Claims identify an operator. OrganizationID is empty for operators who
// may act on every organization.
type Claims struct {
	Role           string `json:"role"`
	OrganizationID string `json:"org,omitempty"`
	jwt.RegisteredClaims
}

type Actor struct {
	ID             string
	Role           string
	OrganizationID string
}

func (c Claims) Actor() Actor {
	return Actor{ID: c.Subject, Role: c.Role, OrganizationID: c.OrganizationID}
}

// CanAccess reports whether the actor may see runs of organizationID.
func (a Actor) CanAccess(organizationID string) bool {
	return a.OrganizationID == "" || a.OrganizationID == organizationID
}

func GenerateToken(secret string, subject string, claims Claims, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", fmt.Errorf("jwt secret is empty")
	}
	if _, ok := RolePermissions[claims.Role]; !ok {
		return "", fmt.Errorf("unknown role %q", claims.Role)
	}
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		Issuer:    Issuer,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

const Issuer = "payrollx"

func ParseToken(secret, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(Issuer))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// HashCallbackToken produces the value stored in CALLBACK_TOKEN_HASH.
func HashCallbackToken(token string) (string, error) {
	if len(token) < 16 {
		return "", fmt.Errorf("callback token must be at least 16 characters")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func VerifyCallbackToken(hash, token string) error {
	if hash == "" || token == "" {
		return ErrInvalidCallback
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)); err != nil {
		return ErrInvalidCallback
	}
	return nil
}
