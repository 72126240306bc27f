package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/cloudmon/internal/identity"
)

func TestReadToken(t *testing.T) {
	t.Parallel()

	tok, err := readToken(strings.NewReader(`{"access_token":"abc","token_type":"Bearer"}`))
	require.NoError(t, err)
	assert.Equal(t, "abc", tok.AccessToken)

	_, err = readToken(strings.NewReader(`{"token_type":"Bearer"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no access_token")

	_, err = readToken(strings.NewReader(`not json`))
	require.Error(t, err)
}

func TestNewWhoamiOutput(t *testing.T) {
	t.Parallel()

	valid := newWhoamiOutput(&identity.Identity{
		Account: "me@example.com",
		Token:   &oauth2.Token{AccessToken: "a", TokenType: "Bearer"},
	})
	assert.Equal(t, tokenStateValid, valid.TokenState)
	assert.Equal(t, "Bearer", valid.TokenType)
	assert.Nil(t, valid.Expiry)

	expired := newWhoamiOutput(&identity.Identity{
		Token: &oauth2.Token{AccessToken: "a", Expiry: time.Now().Add(-time.Hour)},
	})
	assert.Equal(t, tokenStateExpired, expired.TokenState)
	require.NotNil(t, expired.Expiry)

	var buf bytes.Buffer
	printWhoamiText(&buf, expired)
	assert.Contains(t, buf.String(), "Account: (unnamed)")
	assert.Contains(t, buf.String(), "Token:   expired")
	assert.Contains(t, buf.String(), "Expires:")
}

func TestSigninSignoutFlow(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeTestConfig(t, dir, "")
	idPath := filepath.Join(dir, "identity.json")

	require.NoError(t, execute(t, "--config", path, "-q", "signin", "--account", "me@example.com", "--token", "abc", "--expires-in", "1h"))

	id, err := identity.Load(idPath)
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, "me@example.com", id.Account)
	assert.Equal(t, "abc", id.Token.AccessToken)
	assert.True(t, id.Token.Valid())

	require.NoError(t, execute(t, "--config", path, "-q", "whoami"))
	require.NoError(t, execute(t, "--config", path, "-q", "signout"))

	id, err = identity.Load(idPath)
	require.NoError(t, err)
	assert.Nil(t, id)

	err = execute(t, "--config", path, "-q", "whoami")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not signed in")
}

func TestSigninReadsStdin(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeTestConfig(t, dir, "")

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", path, "-q", "signin", "--account", "piped"})
	cmd.SetIn(strings.NewReader(`{"access_token":"from-stdin","token_type":"Bearer"}`))
	require.NoError(t, cmd.Execute())

	id, err := identity.Load(filepath.Join(dir, "identity.json"))
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, "from-stdin", id.Token.AccessToken)
}
