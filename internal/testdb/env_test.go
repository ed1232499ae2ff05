package testdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDatabaseURL_Precedence(t *testing.T) {
	t.Setenv(EnvTestDatabaseURL, "")
	t.Setenv(EnvDatabaseURL, "")
	t.Setenv(EnvAppDatabaseURL, "")
	assert.Empty(t, DatabaseURL())
	assert.True(t, ShouldSkipDatabaseTest())

	t.Setenv(EnvAppDatabaseURL, "postgres://app")
	assert.Equal(t, "postgres://app", DatabaseURL())

	t.Setenv(EnvDatabaseURL, "postgres://generic")
	assert.Equal(t, "postgres://generic", DatabaseURL())

	t.Setenv(EnvTestDatabaseURL, "postgres://test")
	assert.Equal(t, "postgres://test", DatabaseURL())
	assert.False(t, ShouldSkipDatabaseTest())
}
