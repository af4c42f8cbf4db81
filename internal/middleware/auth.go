package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"
)

type contextKey string

const (
	userIDKey contextKey = "userID"
	roleKey   contextKey = "role"
)

var (
	redisClient *redis.Client
	jwtSecret   []byte
)

// InitAuthMiddleware sets the token signing secret and enables the logout
// blacklist check when client is not nil.
func InitAuthMiddleware(client *redis.Client, secret string) {
	redisClient = client
	jwtSecret = []byte(secret)
}

func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		if isBlacklisted(r.Context(), token) {
			http.Error(w, "Token revoked", http.StatusUnauthorized)
			return
		}

		userID, role, err := ValidateToken(token)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID, role)))
	})
}

// RequireRole must run after AuthMiddleware.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if RoleFromContext(r.Context()) != role {
				userID, _ := UserIDFromContext(r.Context())
				log.Printf("[AUTH] User %d denied access to %s (requires %s)", userID, r.URL.Path, role)
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken reads the Authorization header. Websocket clients cannot set
// headers so the token query parameter is accepted as well.
func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if token := r.URL.Query().Get("token"); token != "" {
			return token, nil
		}
		return "", errors.New("Authorization header required")
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", errors.New("Invalid authorization header format")
	}
	return parts[1], nil
}

func isBlacklisted(ctx context.Context, token string) bool {
	if redisClient == nil {
		return false
	}
	n, err := redisClient.Exists(ctx, fmt.Sprintf("blacklist:%s", token)).Result()
	if err != nil {
		log.Printf("[AUTH] Blacklist lookup failed: %v", err)
		return false
	}
	return n > 0
}

// ValidateToken returns the user id and role carried by a signed token.
func ValidateToken(tokenString string) (int, string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return jwtSecret, nil
	})
	if err != nil {
		return 0, "", err
	}
	if !token.Valid {
		return 0, "", errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, "", errors.New("invalid claims")
	}

	userID, err := strconv.Atoi(fmt.Sprintf("%v", claims["user_id"]))
	if err != nil {
		return 0, "", fmt.Errorf("invalid user_id claim: %w", err)
	}
	role, _ := claims["role"].(string)
	return userID, role, nil
}

func WithUser(ctx context.Context, userID int, role string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, roleKey, role)
}

func UserIDFromContext(ctx context.Context) (int, bool) {
	id, ok := ctx.Value(userIDKey).(int)
	return id, ok && id > 0
}

func RoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(roleKey).(string)
	return role
}
