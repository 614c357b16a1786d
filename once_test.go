package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ldapsyncd/ldapsyncd/internal/config"
)

func TestRunOnce_NoSourcesSucceeds(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	cc := &CLIContext{
		Store:  store,
		Logger: discardLogger(),
		Holder: config.NewHolder(&config.Config{}, "/dev/null"),
	}

	err := runOnce(cmdWithCLIContext(cc), nil)
	assert.NoError(t, err)
}
