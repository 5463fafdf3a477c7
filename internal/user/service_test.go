package user

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fakeRepo struct {
	users  map[string]*User
	nextID int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{users: make(map[string]*User), nextID: 1}
}

func (r *fakeRepo) CreateUser(_ context.Context, user *User) (*User, error) {
	if _, ok := r.users[user.Username]; ok {
		return nil, ErrTaken
	}
	user.ID = r.nextID
	r.nextID++
	r.users[user.Username] = user
	return user, nil
}

func (r *fakeRepo) GetUserByUsername(_ context.Context, username string) (*User, error) {
	u, ok := r.users[username]
	if !ok {
		return nil, ErrNotFound
	}
	return u, nil
}

func (r *fakeRepo) SearchUsers(_ context.Context, query string) ([]User, error) {
	var out []User
	for _, u := range r.users {
		if strings.Contains(u.Username, query) {
			out = append(out, *u)
		}
	}
	return out, nil
}

func TestRegisterHashesPassword(t *testing.T) {
	req := require.New(t)
	svc := NewService(newFakeRepo(), "secret")

	u, err := svc.Register(context.Background(), &Credentials{Username: "alice", Password: "hunter2hunter2"})
	req.NoError(err)
	req.NotEqual("hunter2hunter2", u.Password)
	req.NoError(bcrypt.CompareHashAndPassword([]byte(u.Password), []byte("hunter2hunter2")))
}

func TestRegisterDuplicateUsername(t *testing.T) {
	req := require.New(t)
	svc := NewService(newFakeRepo(), "secret")

	creds := &Credentials{Username: "alice", Password: "hunter2hunter2"}
	_, err := svc.Register(context.Background(), creds)
	req.NoError(err)
	_, err = svc.Register(context.Background(), creds)
	req.ErrorIs(err, ErrTaken)
}

func TestLoginIssuesValidToken(t *testing.T) {
	req := require.New(t)
	svc := NewService(newFakeRepo(), "secret")

	_, err := svc.Register(context.Background(), &Credentials{Username: "alice", Password: "hunter2hunter2"})
	req.NoError(err)

	res, err := svc.Login(context.Background(), &Credentials{Username: "alice", Password: "hunter2hunter2"})
	req.NoError(err)
	req.Equal("alice", res.Username)
	req.NotEmpty(res.Token)

	id, username, err := svc.ValidateToken(res.Token)
	req.NoError(err)
	req.Equal(res.UserID, id)
	req.Equal("alice", username)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	req := require.New(t)
	svc := NewService(newFakeRepo(), "secret")

	_, err := svc.Register(context.Background(), &Credentials{Username: "alice", Password: "hunter2hunter2"})
	req.NoError(err)

	_, err = svc.Login(context.Background(), &Credentials{Username: "alice", Password: "wrong-password"})
	req.Error(err)
}

func TestValidateTokenRejectsForeignSignature(t *testing.T) {
	req := require.New(t)
	issuer := NewService(newFakeRepo(), "secret-a")
	verifier := NewService(newFakeRepo(), "secret-b")

	_, err := issuer.Register(context.Background(), &Credentials{Username: "alice", Password: "hunter2hunter2"})
	req.NoError(err)
	res, err := issuer.Login(context.Background(), &Credentials{Username: "alice", Password: "hunter2hunter2"})
	req.NoError(err)

	_, _, err = verifier.ValidateToken(res.Token)
	req.Error(err)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	svc := NewService(newFakeRepo(), "secret")
	_, _, err := svc.ValidateToken("not-a-jwt")
	require.Error(t, err)
}
