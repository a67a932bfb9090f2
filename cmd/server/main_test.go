package main

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/presencehub/internal/auth"
	"github.com/Tyrowin/presencehub/internal/server"
)

func parseFlags(t *testing.T, args ...string) (*pflag.FlagSet, *flagValues) {
	t.Helper()
	var fv flagValues
	f := pflag.NewFlagSet("presencehub", pflag.ContinueOnError)
	bindFlags(f, &fv)
	require.NoError(t, f.Parse(args))
	return f, &fv
}

// TestLoadConfigFlagsOverrideEnv tests that only flags that were set replace
// environment values.
func TestLoadConfigFlagsOverrideEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", ":9000")
	t.Setenv("REDIS_ADDR", "cache:6379")

	f, fv := parseFlags(t, "--port", ":9100", "--typing-ttl", "3s")
	cfg := loadConfig(f, fv)

	assert.Equal(t, ":9100", cfg.Port)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
	assert.Equal(t, 3*time.Second, cfg.Typing.TTL)
	assert.Equal(t, defaultShutdownTimeout, fv.shutdownTimeout)
}

// TestLoadConfigNormalizesAuthMode tests that the auth mode flag is read the
// same way as AUTH_MODE.
func TestLoadConfigNormalizesAuthMode(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	tests := []struct {
		arg  string
		want string
	}{
		{"JWT", server.AuthModeJWT},
		{" None ", server.AuthModeNone},
		{"", server.AuthModeNone},
	}

	for _, tt := range tests {
		f, fv := parseFlags(t, "--auth-mode", tt.arg)
		cfg := loadConfig(f, fv)
		assert.Equal(t, tt.want, cfg.Auth.Mode, "flag %q", tt.arg)

		v, cli, err := buildValidator(context.Background(), cfg)
		require.NoError(t, err, "flag %q", tt.arg)
		assert.Nil(t, cli)
		require.NotNil(t, v)
	}
}

// TestBuildValidator tests the validator selected for each auth mode.
func TestBuildValidator(t *testing.T) {
	cfg := server.NewConfig().Sanitized()

	v, _, err := buildValidator(context.Background(), cfg)
	require.NoError(t, err)
	assert.NoError(t, v.Validate(context.Background(), "u1", ""))

	cfg.Auth.Mode = server.AuthModeJWT
	cfg.Auth.JWTSecret = "s3cret"
	v, _, err = buildValidator(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &auth.JWTValidator{}, v)

	cfg.Auth.Mode = "ldap"
	_, _, err = buildValidator(context.Background(), cfg)
	assert.Error(t, err)
}
