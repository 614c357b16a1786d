// Package testutil provides shared test environment helpers for integration
// tests. It depends only on stdlib so that external test packages (which
// cannot import internal/) can use it.
package testutil

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadDotEnv reads KEY=VALUE pairs from a .env file at the given path.
// Missing file is not an error (CI sets env vars directly).
// Existing env vars take precedence over .env values.
func LoadDotEnv(envPath string) {
	f, err := os.Open(envPath)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		value = strings.Trim(value, "\"'")

		// Env vars take precedence over .env file.
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

// LDAPTestServerURI returns the LDAP URI of a server to test dialect
// decoders and the entry applier against (env var LDAPSYNCD_TEST_SERVER),
// and whether it was set. Tests that need a real server should Skip when
// this reports false rather than failing — most of this module's tests run
// against internal/dirops/fake and never need it.
func LDAPTestServerURI() (string, bool) {
	uri := os.Getenv("LDAPSYNCD_TEST_SERVER")

	return uri, uri != ""
}

// LDAPTestBindCreds returns the bind DN and password for LDAPTestServerURI,
// read from LDAPSYNCD_TEST_BINDDN / LDAPSYNCD_TEST_BINDPW.
func LDAPTestBindCreds() (bindDN, bindPW string) {
	return os.Getenv("LDAPSYNCD_TEST_BINDDN"), os.Getenv("LDAPSYNCD_TEST_BINDPW")
}

// RequireEnv fatally exits the test binary if name is unset. Used by
// integration-bootstrap style mains, not by _test.go files (which should
// use testing.T.Skip instead).
func RequireEnv(name string) string {
	v := os.Getenv(name)
	if v == "" {
		fmt.Fprintf(os.Stderr, "FATAL: %s not set\n", name)
		os.Exit(1)
	}

	return v
}
