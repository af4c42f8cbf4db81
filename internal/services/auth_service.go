package services

import (
	"context"
	cryptorand "crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/buscai/backend/internal/config"
	"github.com/buscai/backend/internal/middleware"
	"github.com/buscai/backend/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/argon2"
)

type AuthService struct {
	db        *sqlx.DB
	redis     *redis.Client
	jwt       config.JWTConfig
	argon2    config.Argon2Config
	validator *ValidationHelper
}

// LoginRequest represents the login request payload
// @Description Login request structure
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email" example:"dono@hidronorte.com.br"` // User email
	Password string `json:"password" validate:"required,min=6" example:"password123"`         // User password
}

// RegisterRequest represents the registration request payload
// @Description Registration request structure
type RegisterRequest struct {
	Email       string  `json:"email" validate:"required,email" example:"dono@hidronorte.com.br"` // User email address
	Password    string  `json:"password" validate:"required,min=8" example:"password123"`         // User password
	Name        string  `json:"name" validate:"required,min=2,max=120" example:"Maria Souza"`     // Display name
	PhoneNumber *string `json:"phone_number,omitempty" validate:"omitempty,e164" example:"+5519999990000"`
}

// AuthResponse represents the authentication response
// @Description Authentication response structure
type AuthResponse struct {
	Token string      `json:"token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."` // JWT token
	User  models.User `json:"user"`                                                    // User information
}

func NewAuthService(db *sqlx.DB, redisClient *redis.Client, jwtCfg config.JWTConfig, argonCfg config.Argon2Config) *AuthService {
	return &AuthService{
		db:        db,
		redis:     redisClient,
		jwt:       jwtCfg,
		argon2:    argonCfg,
		validator: NewValidationHelper(),
	}
}

// decodeJSON reads a single JSON object of at most 1 MB into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("request body must only contain a single JSON object")
	}
	return nil
}

// Register handles user registration
// @Summary Register a new user
// @Description Register a new user with email, password and name
// @Tags auth
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Registration request"
// @Success 201 {object} AuthResponse "Registration successful"
// @Failure 400 {object} ErrorResponse "Invalid request"
// @Failure 409 {object} ErrorResponse "Email already exists"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /auth/register [post]
func (s *AuthService) Register(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Registration attempt from IP: %s", r.RemoteAddr)

	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		log.Printf("[AUTH] Registration failed - invalid request: %v", err)
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		log.Printf("[AUTH] Registration validation failed: %v", err)
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	hashedPassword, err := s.hashPassword(req.Password)
	if err != nil {
		log.Printf("[AUTH] Password hashing failed for %s: %v", req.Email, err)
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	var user models.User
	err = s.db.GetContext(r.Context(), &user, `
		INSERT INTO users (email, password, name, phone_number, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, email, name, phone_number, role, created_at, updated_at`,
		strings.ToLower(req.Email), hashedPassword, req.Name, req.PhoneNumber, models.RoleUser)
	if err != nil {
		if isUniqueViolation(err) {
			log.Printf("[AUTH] Email already registered: %s", req.Email)
			SendErrorResponse(w, "Email Already Exists", http.StatusConflict, nil)
			return
		}
		log.Printf("[AUTH] User creation failed for %s: %v", req.Email, err)
		SendErrorResponse(w, "Failed to create user", http.StatusInternalServerError, nil)
		return
	}

	token, err := s.generateJWT(user.ID, user.Role)
	if err != nil {
		log.Printf("[AUTH] JWT generation failed for user %d: %v", user.ID, err)
		SendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[AUTH] User created successfully - ID: %d, Email: %s", user.ID, user.Email)
	SendJSON(w, http.StatusCreated, AuthResponse{Token: token, User: user})
}

// Login handles user authentication
// @Summary Login user
// @Description Authenticate user with email and password
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login request"
// @Success 200 {object} AuthResponse "Login successful"
// @Failure 400 {object} ErrorResponse "Invalid request"
// @Failure 401 {object} ErrorResponse "Invalid credentials"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /auth/login [post]
func (s *AuthService) Login(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Login attempt from IP: %s", r.RemoteAddr)

	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		log.Printf("[AUTH] Login failed - invalid request: %v", err)
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var row struct {
		models.User
		Password string `db:"password"`
	}
	err := s.db.GetContext(r.Context(), &row, `
		SELECT id, email, name, phone_number, role, created_at, updated_at, password
		FROM users WHERE email = $1`, strings.ToLower(req.Email))
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("[AUTH] User lookup failed for %s: %v", req.Email, err)
		}
		SendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}

	if !s.verifyPassword(req.Password, row.Password) {
		log.Printf("[AUTH] Invalid password for user: %d", row.ID)
		SendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}

	token, err := s.generateJWT(row.ID, row.Role)
	if err != nil {
		log.Printf("[AUTH] JWT generation failed for user %d: %v", row.ID, err)
		SendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[AUTH] Login successful for user %d", row.ID)
	SendJSON(w, http.StatusOK, AuthResponse{Token: token, User: row.User})
}

// Logout handles user logout
// @Summary Logout user
// @Description Logout user and blacklist token
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]string "Logout successful"
// @Router /auth/logout [post]
func (s *AuthService) Logout(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token != "" && s.redis != nil {
		key := fmt.Sprintf("blacklist:%s", token)
		// Blacklist token until its expiration
		expiry := s.tokenTTL()
		if err := s.redis.Set(r.Context(), key, "1", expiry).Err(); err != nil {
			log.Printf("[AUTH] Failed to blacklist token: %v", err)
		}
	}

	SendJSON(w, http.StatusOK, map[string]string{"message": "Logout successful"})
}

// Me returns the authenticated user
// @Summary Current user
// @Description Get the authenticated user's profile
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.User "User details"
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 404 {object} ErrorResponse "User not found"
// @Router /auth/me [get]
func (s *AuthService) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		SendAppError(w, ErrUnauthorized)
		return
	}

	user, err := s.GetUser(r.Context(), userID)
	if err != nil {
		SendAppError(w, err)
		return
	}
	SendJSON(w, http.StatusOK, user)
}

func (s *AuthService) GetUser(ctx context.Context, userID int) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user, `
		SELECT id, email, name, phone_number, role, created_at, updated_at
		FROM users WHERE id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewAppError(http.StatusNotFound, "user_not_found", "User not found")
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *AuthService) tokenTTL() time.Duration {
	return time.Duration(s.jwt.ExpiryHours) * time.Hour
}

func (s *AuthService) generateJWT(userID int, role string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"role":    role,
		"exp":     time.Now().Add(s.tokenTTL()).Unix(),
	})

	return token.SignedString([]byte(s.jwt.SecretKey))
}

func (s *AuthService) hashPassword(password string) (string, error) {
	salt := make([]byte, s.argon2.SaltLength)
	if _, err := cryptorand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt, s.argon2.Time, s.argon2.Memory, s.argon2.Threads, s.argon2.KeyLength)
	return fmt.Sprintf("%s$%s", base64.StdEncoding.EncodeToString(salt), base64.StdEncoding.EncodeToString(hash)), nil
}

func (s *AuthService) verifyPassword(password, hashedPassword string) bool {
	parts := strings.Split(hashedPassword, "$")
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}

	hash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	computedHash := argon2.IDKey([]byte(password), salt, s.argon2.Time, s.argon2.Memory, s.argon2.Threads, uint32(len(hash)))
	return subtle.ConstantTimeCompare(hash, computedHash) == 1
}

// generateOTP returns a zero-padded numeric code of the given length.
func generateOTP(digits int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := cryptorand.Int(cryptorand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}
