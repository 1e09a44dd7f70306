package utils

import (
	"testing"

	"htwg-backend/internal/portal"

	"github.com/stretchr/testify/require"
)

func TestCredentials(t *testing.T) {
	env := map[string]string{
		UsernameEnv: "env-user",
		PasswordEnv: "env-pass",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	require.Equal(t,
		portal.Credentials{Username: "max", Password: "geheim"},
		Credentials("max", "geheim", lookup),
	)
	require.Equal(t,
		portal.Credentials{Username: "max", Password: "env-pass"},
		Credentials("max", "", lookup),
	)
	require.Equal(t,
		portal.Credentials{Username: "env-user", Password: "env-pass"},
		Credentials("", "", lookup),
	)

	none := func(string) (string, bool) { return "", false }
	require.False(t, Credentials("", "", none).Valid())
}
