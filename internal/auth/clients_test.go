package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func hashSecret(t *testing.T, secret string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func TestParseClients(t *testing.T) {
	merchant := hashSecret(t, "m-secret")
	ops := hashSecret(t, "ops-secret")

	clients, err := ParseClients([]string{"merchant-a:" + merchant, " ops:" + ops + ":admin", ""})
	require.NoError(t, err)
	assert.Equal(t, 2, clients.Len())

	c, err := clients.Authenticate("merchant-a", "m-secret")
	require.NoError(t, err)
	assert.Equal(t, RoleClient, c.Role)

	c, err = clients.Authenticate("ops", "ops-secret")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, c.Role)

	_, err = clients.Authenticate("merchant-a", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = clients.Authenticate("nobody", "m-secret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestParseClients_Invalid(t *testing.T) {
	hash := hashSecret(t, "s")

	tests := map[string][]string{
		"missing hash": {"merchant-a"},
		"not bcrypt":   {"merchant-a:plaintext"},
		"unknown role": {"merchant-a:" + hash + ":root"},
		"duplicate id": {"merchant-a:" + hash, "merchant-a:" + hash},
		"empty id":     {":" + hash},
	}
	for name, entries := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseClients(entries)
			assert.Error(t, err)
		})
	}
}
