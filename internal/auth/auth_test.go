package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/annel0/netsync/internal/session"
)

func TestJWT_IssueAndValidate(t *testing.T) {
	a, err := NewJWTAuthenticator([]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	require.NoError(t, err)

	token, err := a.Issue(session.Identity{PlayerID: 42, Username: "validuser", IsAdmin: true})
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(token, "."))

	id, err := a.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, session.Identity{PlayerID: 42, Username: "validuser", IsAdmin: true}, id)
}

func TestJWT_Rejects(t *testing.T) {
	a, err := NewJWTAuthenticator([]byte("secret-a-secret-a-secret-a-secret"), time.Minute)
	require.NoError(t, err)
	b, err := NewJWTAuthenticator([]byte("secret-b-secret-b-secret-b-secret"), time.Minute)
	require.NoError(t, err)

	token, err := b.Issue(session.Identity{PlayerID: 1, Username: "x"})
	require.NoError(t, err)
	_, err = a.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = a.Validate("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	// просроченный токен
	token, err = a.Issue(session.Identity{PlayerID: 1, Username: "x"})
	require.NoError(t, err)
	a.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = a.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAcceptAll(t *testing.T) {
	var a AcceptAll
	id1, err := a.Authenticate(context.Background(), "alice")
	require.NoError(t, err)
	id2, err := a.Authenticate(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "alice", id1.Username)
	assert.Equal(t, "guest", id2.Username)
	assert.NotEqual(t, id1.PlayerID, id2.PlayerID)
}

func TestMemoryUserRepo(t *testing.T) {
	repo := NewMemoryUserRepo()
	_, err := repo.AddUser("Admin", "hunter2", true)
	require.NoError(t, err)
	_, err = repo.AddUser("admin", "other", false)
	assert.ErrorIs(t, err, ErrUserExists)

	u, err := repo.ValidateCredentials("ADMIN", "hunter2")
	require.NoError(t, err)
	assert.True(t, u.IsAdmin)
	assert.False(t, u.LastLogin.IsZero())

	_, err = repo.ValidateCredentials("admin", "wrong")
	assert.ErrorIs(t, err, ErrBadCredentials)
	_, err = repo.ValidateCredentials("nobody", "x")
	assert.ErrorIs(t, err, ErrBadCredentials)
}

func TestMemoryUserRepo_RehashOnCostChange(t *testing.T) {
	defer func(c int) { PasswordCost = c }(PasswordCost)
	PasswordCost = bcrypt.MinCost

	repo := NewMemoryUserRepo()
	_, err := repo.AddUser("ops", "ops-password", false)
	require.NoError(t, err)

	PasswordCost = bcrypt.MinCost + 1
	u, err := repo.ValidateCredentials(" Ops ", "ops-password")
	require.NoError(t, err)
	cost, err := bcrypt.Cost([]byte(u.PasswordHash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost+1, cost)
	assert.Equal(t, "ops", u.Username)

	_, err = repo.ValidateCredentials("ops", "ops-password")
	assert.NoError(t, err, "новый хеш принимает тот же пароль")
}
