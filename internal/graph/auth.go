package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/dyluth/depi/pkg/depi"
	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

// sessionInfo is the server-side state of a session.
type sessionInfo struct {
	ID     string
	User   string
	Branch string
}

// AddUser creates or replaces a user. Only the bcrypt hash of the password is stored.
func (s *Service) AddUser(ctx context.Context, user, password string) error {
	if user == "" || password == "" {
		return depi.Errorf(depi.KindInvalid, "addUser", "user and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.rdb.HSet(ctx, UsersKey(), user, string(hash)).Err(); err != nil {
		return fmt.Errorf("failed to store user: %w", err)
	}
	return nil
}

// Login checks a password and opens a session on main.
func (s *Service) Login(ctx context.Context, user, password string) (*depi.LoginResponse, error) {
	hash, err := s.rdb.HGet(ctx, UsersKey(), user).Result()
	if errors.Is(err, redis.Nil) {
		return nil, depi.Errorf(depi.KindAuth, depi.MethodLogin, "invalid user or password")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, depi.Errorf(depi.KindAuth, depi.MethodLogin, "invalid user or password")
	}
	return s.openSession(ctx, user)
}

// LoginWithToken opens a session from a token issued by Login or a ping.
func (s *Service) LoginWithToken(ctx context.Context, user, token string) (*depi.LoginResponse, error) {
	subject, err := s.verifyToken(token)
	if err != nil {
		return nil, err
	}
	if subject != user {
		return nil, depi.Errorf(depi.KindAuth, depi.MethodLoginWithToken, "invalid token")
	}
	exists, err := s.rdb.HExists(ctx, UsersKey(), user).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read user: %w", err)
	}
	if !exists {
		return nil, depi.Errorf(depi.KindAuth, depi.MethodLoginWithToken, "invalid token")
	}
	return s.openSession(ctx, user)
}

func (s *Service) openSession(ctx context.Context, user string) (*depi.LoginResponse, error) {
	token, err := s.issueToken(user)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	key := SessionKey(id)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "user", user, "branch", depi.MainBranch)
		pipe.Expire(ctx, key, s.opts.SessionTTL)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	logEvent("session_opened", map[string]interface{}{"session_id": id, "user": user})
	return &depi.LoginResponse{SessionID: id, Token: token, User: user, Branch: depi.MainBranch}, nil
}

// session resolves a live session and extends its lifetime.
func (s *Service) session(ctx context.Context, id string) (*sessionInfo, error) {
	if id == "" {
		return nil, depi.Errorf(depi.KindAuth, "session", "no session")
	}
	fields, err := s.rdb.HGetAll(ctx, SessionKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	if len(fields) == 0 {
		return nil, depi.Errorf(depi.KindAuth, "session", "session expired or unknown")
	}
	if err := s.rdb.Expire(ctx, SessionKey(id), s.opts.SessionTTL).Err(); err != nil {
		return nil, fmt.Errorf("failed to refresh session: %w", err)
	}
	return &sessionInfo{ID: id, User: fields["user"], Branch: fields["branch"]}, nil
}

// RefreshSession keeps a session alive and returns a freshly issued token.
func (s *Service) RefreshSession(ctx context.Context, id string) (string, error) {
	sess, err := s.session(ctx, id)
	if err != nil {
		return "", err
	}
	return s.issueToken(sess.User)
}

// Logout ends a session.
func (s *Service) Logout(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, SessionKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	logEvent("session_closed", map[string]interface{}{"session_id": id})
	return nil
}

func (s *Service) issueToken(user string) (string, error) {
	now := s.now()
	claims := gojwt.RegisteredClaims{
		Subject:   user,
		IssuedAt:  gojwt.NewNumericDate(now),
		ExpiresAt: gojwt.NewNumericDate(now.Add(s.opts.TokenTTL)),
		ID:        uuid.New().String(),
	}
	token, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString(s.opts.TokenSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// verifyToken returns the user a token was issued to.
func (s *Service) verifyToken(token string) (string, error) {
	claims := &gojwt.RegisteredClaims{}
	parser := gojwt.NewParser(gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}), gojwt.WithTimeFunc(s.now))
	_, err := parser.ParseWithClaims(token, claims, func(*gojwt.Token) (interface{}, error) {
		return s.opts.TokenSecret, nil
	})
	if errors.Is(err, gojwt.ErrTokenExpired) {
		return "", depi.Errorf(depi.KindAuth, depi.MethodLoginWithToken, "token expired")
	}
	if err != nil {
		return "", depi.Errorf(depi.KindAuth, depi.MethodLoginWithToken, "invalid token")
	}
	return claims.Subject, nil
}
