package services

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/obralens/obralens-backend/internal/logger"
	"github.com/obralens/obralens-backend/internal/requestdata"
)

// AuthService verifies a bearer credential and attaches the caller identity
// {userID, companyID, role} to the request context. The rest of the core
// treats that identity as opaque input to its access checks.
type AuthService interface {
	SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error)
}

type authService struct {
	log          *logger.Logger
	jwtSecretKey string
}

func NewAuthService(baseLog *logger.Logger, jwtSecretKey string) AuthService {
	return &authService{
		log:          baseLog.With("service", "AuthService"),
		jwtSecretKey: jwtSecretKey,
	}
}

type accessClaims struct {
	CompanyID string `json:"company_id"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

func (s *authService) SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error) {
	claims := &accessClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.jwtSecretKey), nil
	})
	if err != nil || !token.Valid {
		return ctx, fmt.Errorf("invalid token")
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return ctx, fmt.Errorf("invalid token subject")
	}
	companyID, err := uuid.Parse(claims.CompanyID)
	if err != nil {
		return ctx, fmt.Errorf("invalid token company")
	}

	rd := &requestdata.RequestData{
		TokenString: tokenString,
		UserID:      userID,
		CompanyID:   companyID,
		Role:        claims.Role,
	}
	return requestdata.WithRequestData(ctx, rd), nil
}
