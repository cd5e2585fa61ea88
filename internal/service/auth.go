package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"merch-store/internal/db"
	"merch-store/internal/models"
	"merch-store/pkg"

	"github.com/dgrijalva/jwt-go"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var ErrCredentialsRequired = fmt.Errorf("%w: email and password are required", ErrValidation)

// Principal is the authenticated caller handed to every ledger and query call.
type Principal struct {
	ID    int
	Email string
}

type AuthService interface {
	// Authenticate logs the user in, registering the account with the default
	// balance on first use, and returns a signed token.
	Authenticate(ctx context.Context, email, password string) (string, error)
	ParseToken(token string) (Principal, error)
}

type authService struct {
	store     db.Store
	log       pkg.Logger
	jwtSecret string
	tokenTTL  time.Duration
	hashCost  int
	now       func() time.Time
}

type AuthOption func(*authService)

// WithHashCost sets the bcrypt cost for new passwords.
func WithHashCost(cost int) AuthOption {
	return func(s *authService) {
		s.hashCost = cost
	}
}

func NewAuthService(store db.Store, logger pkg.Logger, jwtSecret string, tokenTTL time.Duration, opts ...AuthOption) AuthService {
	s := &authService{
		store:     store,
		log:       logger,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
		hashCost:  bcrypt.DefaultCost,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *authService) Authenticate(ctx context.Context, email, password string) (string, error) {
	if s.jwtSecret == "" {
		s.log.Error("auth: empty JWT secret key")
		return "", errors.New("could not generate token: empty secret key")
	}
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return "", ErrCredentialsRequired
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: %q is not a valid email", ErrValidation, email)
	}

	account, created, err := s.findOrRegister(ctx, email, password)
	if err != nil {
		err = classify("authenticate", err)
		s.log.Error("failed to load account", zap.String("email", email), zap.Error(err))
		return "", err
	}
	if !created {
		if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
			s.log.Warn("invalid credentials: password mismatch", zap.String("email", email))
			return "", ErrInvalidCredentials
		}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": account.ID,
		"email":   account.Email,
		"exp":     s.now().Add(s.tokenTTL).Unix(),
	})
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		s.log.Error("failed to generate token", zap.String("email", email), zap.Error(err))
		return "", fmt.Errorf("could not generate token: %w", err)
	}
	s.log.Info("User authenticated", zap.Int("userID", account.ID), zap.String("email", email), zap.Bool("registered", created))
	return tokenString, nil
}

// findOrRegister returns the account for email, creating it when missing. Two
// concurrent first logins end up with the same account.
func (s *authService) findOrRegister(ctx context.Context, email, password string) (models.Account, bool, error) {
	account, err := s.lookup(ctx, email)
	if err == nil {
		return account, false, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return models.Account{}, false, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return models.Account{}, false, fmt.Errorf("failed to hash password: %w", err)
	}
	err = s.store.WithinTx(ctx, func(tx db.Tx) error {
		var err error
		account, err = tx.CreateAccount(ctx, email, string(hash), models.DefaultCoins)
		return err
	})
	if errors.Is(err, db.ErrAccountExists) {
		account, err = s.lookup(ctx, email)
		return account, false, err
	}
	if err != nil {
		return models.Account{}, false, err
	}
	return account, true, nil
}

func (s *authService) lookup(ctx context.Context, email string) (models.Account, error) {
	var account models.Account
	err := s.store.WithinSnapshot(ctx, func(tx db.Tx) error {
		var err error
		account, err = tx.GetAccountByEmail(ctx, email)
		return err
	})
	return account, err
}

func (s *authService) ParseToken(tokenString string) (Principal, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(s.jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return Principal{}, fmt.Errorf("%w: invalid token", ErrInvalidCredentials)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Principal{}, fmt.Errorf("%w: invalid token claims", ErrInvalidCredentials)
	}
	uid, ok := claims["user_id"].(float64)
	if !ok {
		return Principal{}, fmt.Errorf("%w: invalid token claims", ErrInvalidCredentials)
	}
	email, _ := claims["email"].(string)
	return Principal{ID: int(uid), Email: email}, nil
}
