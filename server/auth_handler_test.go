package server

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLogin(t *testing.T) {
	env := newTestEnv(t)

	var registered authResponse
	resp := env.do(t, http.MethodPost, "/api/auth/register", RegisterRequest{
		Username: "maria", Password: "s3cret", Email: "maria@example.com",
	}, "", &registered)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, registered.Token)
	require.NotNil(t, registered.User)
	assert.Equal(t, "maria", registered.User.Username)

	claims, err := env.tokens.ParseToken(registered.Token)
	require.NoError(t, err)
	assert.Equal(t, registered.User.ID, claims.UserID)

	resp = env.do(t, http.MethodPost, "/api/auth/register", RegisterRequest{
		Username: "maria", Password: "other", Email: "other@example.com",
	}, "", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	for _, name := range []string{"maria", "maria@example.com"} {
		var login authResponse
		resp = env.do(t, http.MethodPost, "/api/auth/login", LoginRequest{Username: name, Password: "s3cret"}, "", &login)
		require.Equal(t, http.StatusOK, resp.StatusCode, name)
		assert.NotEmpty(t, login.Token)
	}

	resp = env.do(t, http.MethodPost, "/api/auth/login", LoginRequest{Username: "maria", Password: "wrong"}, "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/auth/login", LoginRequest{Username: "ghost", Password: "x"}, "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/auth/register", RegisterRequest{Username: "x"}, "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/auth/login", LoginRequest{}, "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestInvalidTokenIsRejected(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/song", nil, "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/song", nil, "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBearerToken(t *testing.T) {
	r, _ := http.NewRequest(http.MethodGet, "/api/song/ws?token=abc", nil)
	assert.Equal(t, "abc", bearerToken(r))

	r.Header.Set("Authorization", "bearer xyz")
	assert.Equal(t, "xyz", bearerToken(r))

	r.Header.Set("Authorization", "Basic xyz")
	assert.Empty(t, bearerToken(r))
}
