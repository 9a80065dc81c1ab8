package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type Session struct {
	AccessToken string `json:"access_token"`
	Address     string `json:"address"`
}

// Store keeps the session file. Dir defaults to ~/.race.
type Store struct {
	Dir string
}

func (s Store) baseDir() (string, error) {
	dir := s.Dir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".race")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

func (s Store) sessionPath() (string, error) {
	dir, err := s.baseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "session.json"), nil
}

func (s Store) Save(sess Session) error {
	path, err := s.sessionPath()
	if err != nil {
		return err
	}
	body, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, body, 0o600); err != nil {
		return err
	}
	return nil
}

func (s Store) Load() (Session, error) {
	path, err := s.sessionPath()
	if err != nil {
		return Session{}, err
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return Session{}, err
	}
	var sess Session
	if err := json.Unmarshal(body, &sess); err != nil {
		return Session{}, err
	}
	if strings.TrimSpace(sess.AccessToken) == "" {
		return Session{}, fmt.Errorf("no access token found in session")
	}
	return sess, nil
}

func (s Store) Clear() error {
	path, err := s.sessionPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return os.Remove(path)
}
