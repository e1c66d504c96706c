package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/isdelr/leadboard-be/internal/models"
)

type savedSession struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

// session persists the bearer token between invocations. The file is only
// readable by its owner.
type session struct {
	path string
}

func (s *session) load() (*savedSession, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	var saved savedSession
	if err := json.Unmarshal(data, &saved); err != nil || saved.Token == "" {
		// unreadable session files are treated as logged out
		return nil, nil
	}
	return &saved, nil
}

func (s *session) save(saved savedSession) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	data, err := json.Marshal(saved)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

func (s *session) remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}
