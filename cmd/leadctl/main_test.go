package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	leadapi "github.com/isdelr/leadboard-be/internal/api"
	"github.com/isdelr/leadboard-be/internal/auth"
	"github.com/isdelr/leadboard-be/internal/config"
	"github.com/isdelr/leadboard-be/internal/database"
	"github.com/isdelr/leadboard-be/internal/models"
	"github.com/isdelr/leadboard-be/internal/services"
	"github.com/isdelr/leadboard-be/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) string {
	t.Helper()
	db, err := database.New(database.Memory)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(db))

	users := services.NewUserService(db)
	_, err = users.CreateUser(context.Background(), "ann", "ann-password")
	require.NoError(t, err)

	hub := websocket.NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)

	tokens := auth.NewTokenStore(db, []byte("test-secret"))
	events := services.NewEventService(db)
	router := leadapi.NewRouter(&config.Config{}, leadapi.Dependencies{
		Guard:  auth.NewGuard(tokens),
		Tokens: tokens,
		Users:  users,
		Leads:  services.NewLeadService(db, events, hub),
		Events: events,
		Hub:    hub,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv.URL
}

func leadctl(t *testing.T, url, tokenFile string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	full := append([]string{"--server", url, "--token-file", tokenFile, "--log-level", "error", "--retries", "0"}, args...)
	err := run(full, &out)
	return out.String(), err
}

func TestSessionRoundTrip(t *testing.T) {
	s := &session{path: filepath.Join(t.TempDir(), "nested", "session.json")}

	saved, err := s.load()
	require.NoError(t, err)
	assert.Nil(t, saved)

	require.NoError(t, s.save(savedSession{Token: "tok", User: models.User{ID: "u1", Username: "ann"}}))
	info, err := os.Stat(s.path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	saved, err = s.load()
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, "tok", saved.Token)
	assert.Equal(t, "ann", saved.User.Username)

	require.NoError(t, s.remove())
	require.NoError(t, s.remove())
}

func TestLeadctlWorkflow(t *testing.T) {
	url := startServer(t)
	tokenFile := filepath.Join(t.TempDir(), "session.json")

	_, err := leadctl(t, url, tokenFile, "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login")

	out, err := leadctl(t, url, tokenFile, "login", "-u", "ann", "-p", "ann-password")
	require.NoError(t, err)
	assert.Contains(t, out, "logged in as ann")

	out, err = leadctl(t, url, tokenFile, "create", "--name", "Bob", "--email", "bob@x.com", "--message", "hello")
	require.NoError(t, err)
	assert.Contains(t, out, "bob@x.com")
	id := strings.Fields(strings.Split(strings.TrimSpace(out), "\n")[1])[0]

	out, err = leadctl(t, url, tokenFile, "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "ann")

	out, err = leadctl(t, url, tokenFile, "get", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Bob")

	out, err = leadctl(t, url, tokenFile, "update", id, "--name", "Robert")
	require.NoError(t, err)
	assert.Contains(t, out, "Robert")

	out, err = leadctl(t, url, tokenFile, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Robert")
	assert.Contains(t, out, id)

	_, err = leadctl(t, url, tokenFile, "create", "--name", "Dup", "--email", "BOB@x.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conflict")

	out, err = leadctl(t, url, tokenFile, "delete", id)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted "+id)

	_, err = leadctl(t, url, tokenFile, "delete", id)
	require.Error(t, err)

	_, err = leadctl(t, url, tokenFile, "logout")
	require.NoError(t, err)
	_, err = os.Stat(tokenFile)
	assert.True(t, os.IsNotExist(err))

	_, err = leadctl(t, url, tokenFile, "whoami")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leadctl login")
}

func TestUnknownCommand(t *testing.T) {
	_, err := leadctl(t, "http://127.0.0.1:1", filepath.Join(t.TempDir(), "s.json"), "frobnicate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}
