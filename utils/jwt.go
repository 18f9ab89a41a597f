package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"growthos/config"
	"growthos/models"
)

const (
	accessTokenTTL  = 15 * time.Minute
	refreshTokenTTL = 7 * 24 * time.Hour
)

type Claims struct {
	UserID       uint   `json:"user_id"`
	TokenVersion int    `json:"token_version"`
	Kind         string `json:"kind"` // access, refresh
	jwt.RegisteredClaims
}

func signToken(user *models.User, kind string, ttl time.Duration) (string, error) {
	claims := &Claims{
		UserID:       user.ID,
		TokenVersion: user.TokenVersion,
		Kind:         kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(config.AppConfig.JWTSecret))
}

func GenerateJWTToken(user *models.User) (string, string, error) {
	access, err := signToken(user, "access", accessTokenTTL)
	if err != nil {
		return "", "", err
	}
	refresh, err := signToken(user, "refresh", refreshTokenTTL)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

func ParseJWTToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(config.AppConfig.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}
