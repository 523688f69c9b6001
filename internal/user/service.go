package user

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrCaptchaFailed      = errors.New("captcha verification failed")
)

type Service struct {
	repo      *Repository
	captcha   CaptchaVerifier
	presence  *Presence
	jwtSecret string
}

type MyJWTClaims struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func NewService(repo *Repository, captcha CaptchaVerifier, presence *Presence, secret string) *Service {
	return &Service{
		repo:      repo,
		captcha:   captcha,
		presence:  presence,
		jwtSecret: secret,
	}
}

// Signup creates a registered account. The CAPTCHA gate runs before any
// database write.
func (s *Service) Signup(ctx context.Context, req *SignupRequest) (*LoginResponse, error) {
	if len(req.Username) < 3 || len(req.Password) < 6 {
		return nil, errors.New("username must be 3+ chars and password 6+ chars")
	}

	ok, err := s.captcha.Verify(ctx, req.CaptchaToken)
	if err != nil {
		return nil, fmt.Errorf("captcha: %w", err)
	}
	if !ok {
		return nil, ErrCaptchaFailed
	}

	taken, err := s.repo.UsernameTaken(ctx, req.Username)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrUsernameTaken
	}

	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	u := &User{
		Username:     req.Username,
		Password:     string(hashedPwd),
		DisplayName:  req.Username,
		UserType:     TypeRegistered,
		MobileNumber: req.MobileNumber,
	}
	if _, err := s.repo.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	s.markOnline(ctx, u.ID)
	return s.loginResponse(u)
}

// CreateAnonymous mints a throwaway guest account with a random AnonXXXXX
// username and no password. Guests authenticate with the returned token
// only.
func (s *Service) CreateAnonymous(ctx context.Context) (*LoginResponse, error) {
	username := anonUsername()
	for i := 0; i < 5; i++ {
		taken, err := s.repo.UsernameTaken(ctx, username)
		if err != nil {
			return nil, err
		}
		if !taken {
			break
		}
		username = anonUsername()
	}

	u := &User{
		Username:    username,
		DisplayName: username,
		UserType:    TypeAnonymous,
	}
	if _, err := s.repo.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	s.markOnline(ctx, u.ID)
	return s.loginResponse(u)
}

func (s *Service) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	u, err := s.repo.GetByUsername(ctx, req.Username)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	// Anonymous accounts carry an empty hash and can never log in with a
	// password.
	if u.Password == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	s.markOnline(ctx, u.ID)
	return s.loginResponse(u)
}

func (s *Service) Logout(ctx context.Context, userID int) {
	if s.presence == nil {
		return
	}
	if err := s.presence.MarkOffline(ctx, userID); err != nil {
		log.Printf("presence: mark offline %d: %v", userID, err)
	}
}

func (s *Service) GetProfile(ctx context.Context, userID int) (*User, bool, time.Time, error) {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, false, time.Time{}, err
	}

	online := false
	var lastSeen time.Time
	if s.presence != nil {
		if online, err = s.presence.IsOnline(ctx, userID); err != nil {
			log.Printf("presence: is online %d: %v", userID, err)
		}
		if lastSeen, err = s.presence.LastSeen(ctx, userID); err != nil {
			log.Printf("presence: last seen %d: %v", userID, err)
		}
	}
	return u, online, lastSeen, nil
}

func (s *Service) UpdateProfile(ctx context.Context, userID int, req *ProfileUpdateRequest) (*User, error) {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	displayName := req.DisplayName
	if displayName == "" {
		displayName = u.DisplayName
	}
	if err := s.repo.UpdateProfile(ctx, userID, displayName, req.Bio); err != nil {
		return nil, err
	}
	u.DisplayName = displayName
	u.Bio = req.Bio
	return u, nil
}

func (s *Service) ChangePassword(ctx context.Context, userID int, req *ChangePasswordRequest) error {
	if len(req.NewPassword) < 6 {
		return errors.New("new password must be 6+ chars")
	}

	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.OldPassword)); err != nil {
		return ErrInvalidCredentials
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.repo.UpdatePassword(ctx, userID, string(hashed))
}

func (s *Service) SearchUsers(ctx context.Context, query string, excludeID int) ([]User, error) {
	if len(query) < 2 {
		return []User{}, nil
	}
	return s.repo.SearchUsers(ctx, query, excludeID)
}

func (s *Service) ValidateToken(tokenString string) (int, string, error) {
	claims := &MyJWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.jwtSecret), nil
	})

	if err != nil || !token.Valid {
		return 0, "", err
	}

	return claims.ID, claims.Username, nil
}

func (s *Service) loginResponse(u *User) (*LoginResponse, error) {
	ss, err := s.generateToken(u.ID, u.Username)
	if err != nil {
		return nil, err
	}
	return &LoginResponse{
		AccessToken: ss,
		ID:          u.ID,
		Username:    u.Username,
	}, nil
}

func (s *Service) generateToken(id int, username string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, MyJWTClaims{
		ID:       id,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "chat-app-backend",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		},
	})
	return token.SignedString([]byte(s.jwtSecret))
}

func (s *Service) markOnline(ctx context.Context, userID int) {
	if s.presence == nil {
		return
	}
	if err := s.presence.MarkOnline(ctx, userID); err != nil {
		log.Printf("presence: mark online %d: %v", userID, err)
	}
}

// anonUsername returns "Anon" plus five random digits.
func anonUsername() string {
	n, err := rand.Int(rand.Reader, big.NewInt(100000))
	if err != nil {
		// crypto/rand only fails when the OS entropy source is broken
		n = big.NewInt(time.Now().UnixNano() % 100000)
	}
	return fmt.Sprintf("Anon%05d", n.Int64())
}
