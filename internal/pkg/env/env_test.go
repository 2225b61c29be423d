package env

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnv_Precedence(t *testing.T) {
	prev := Env
	t.Cleanup(func() { Env = prev })

	t.Setenv("PIXELBOOST_TEST_KEY", "from-os")
	Env = map[string]string{}
	assert.Equal(t, "from-os", GetEnv("PIXELBOOST_TEST_KEY", "def"))

	Env["PIXELBOOST_TEST_KEY"] = "from-file"
	assert.Equal(t, "from-file", GetEnv("PIXELBOOST_TEST_KEY", "def"))

	assert.Equal(t, "def", GetEnv("PIXELBOOST_TEST_MISSING", "def"))
}

func TestSetupEnvFile(t *testing.T) {
	prev := Env
	t.Cleanup(func() { Env = prev })

	wd, err := os.Getwd()
	require.NoError(t, err)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("APP_ENV=dev\nPADDLE_SECRET_KEY=abc\n"), 0o600))
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	SetupEnvFile()
	assert.Equal(t, "abc", GetEnv("PADDLE_SECRET_KEY", ""))
	assert.True(t, IsDev())
}

func TestSetupEnvFile_Missing(t *testing.T) {
	prev := Env
	t.Cleanup(func() { Env = prev })

	wd, err := os.Getwd()
	require.NoError(t, err)
	dir := filepath.Join(t.TempDir(), "a", "b", "c")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	assert.NotPanics(t, SetupEnvFile)
	assert.NotNil(t, Env)
}
