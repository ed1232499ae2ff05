package testdb

import "os"

// Environment variables checked for a test database URL, in order
const (
	EnvTestDatabaseURL = "TASKGATE_TEST_DATABASE_URL"
	EnvDatabaseURL     = "DATABASE_URL"
	EnvAppDatabaseURL  = "TASKGATE_DATABASE_URL"
)

var databaseURLVars = []string{EnvTestDatabaseURL, EnvDatabaseURL, EnvAppDatabaseURL}

// DatabaseURL returns the first non-empty database URL from the environment
func DatabaseURL() string {
	for _, name := range databaseURLVars {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// ShouldSkipDatabaseTest reports whether no database URL is configured
func ShouldSkipDatabaseTest() bool {
	return DatabaseURL() == ""
}

// isCIEnvironment returns true if running under a common CI system
func isCIEnvironment() bool {
	for _, name := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "CIRCLECI"} {
		if os.Getenv(name) != "" {
			return true
		}
	}
	return false
}
