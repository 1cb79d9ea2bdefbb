package bankgo

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

type User struct {
	Username         string
	Name             string
	Email            string
	Phone            string
	PasswordHash     []byte
	RegistrationDate time.Time
}

type UserProfile struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
}

const initialPasswordLen = 10

// UserService manages user profiles and credentials. It is a
// collaborator of the account core: the core only ever sees the
// username it resolves.
type UserService struct {
	repo UserRepository
	log  *zerolog.Logger
}

func NewUserService(repo UserRepository, log *zerolog.Logger) *UserService {
	return &UserService{
		repo: repo,
		log:  log,
	}
}

// CreateUser registers a new user with a server-generated initial
// password and returns that password so it can be handed to the user
// exactly once. Only the bcrypt hash is stored.
func (u *UserService) CreateUser(ctx context.Context, profile UserProfile) (string, error) {
	if profile.Username == "" {
		return "", ErrBadRequest{Fields: map[string]string{"username": "missing"}}
	}
	password, err := randomPassword(initialPasswordLen)
	if err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	user := &User{
		Username:         profile.Username,
		Name:             profile.Name,
		Email:            profile.Email,
		Phone:            profile.Phone,
		PasswordHash:     hash,
		RegistrationDate: time.Now().UTC(),
	}
	if err = u.repo.CreateUser(ctx, user); err != nil {
		return "", err
	}
	return password, nil
}

// Authenticate verifies the password against the stored hash. Both an
// unknown username and a wrong password report ErrUnauthorized so the
// response does not leak which of the two it was.
func (u *UserService) Authenticate(ctx context.Context, username, password string) error {
	user, err := u.repo.GetUser(ctx, username)
	if err != nil {
		nf := ErrNotFound{}
		if errors.As(err, &nf) {
			return ErrUnauthorized
		}
		return err
	}
	if bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)) != nil {
		return ErrUnauthorized
	}
	return nil
}

func (u *UserService) GetProfile(ctx context.Context, username string) (*UserProfile, error) {
	user, err := u.repo.GetUser(ctx, username)
	if err != nil {
		return nil, err
	}
	return &UserProfile{
		Username: user.Username,
		Name:     user.Name,
		Email:    user.Email,
		Phone:    user.Phone,
	}, nil
}

func (u *UserService) UpdateProfile(ctx context.Context, username string, profile UserProfile) error {
	if profile.Username == "" {
		return ErrBadRequest{Fields: map[string]string{"username": "missing"}}
	}
	return u.repo.UpdateUser(ctx, username, &User{
		Username: profile.Username,
		Name:     profile.Name,
		Email:    profile.Email,
		Phone:    profile.Phone,
	})
}

func (u *UserService) UpdatePassword(ctx context.Context, username, password string) error {
	if len(password) < 8 {
		return ErrBadRequest{Fields: map[string]string{"password": "at least 8 characters"}}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return u.repo.UpdatePassword(ctx, username, hash)
}

const passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomPassword(n int) (string, error) {
	out := make([]byte, n)
	max := big.NewInt(int64(len(passwordAlphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = passwordAlphabet[idx.Int64()]
	}
	return string(out), nil
}
