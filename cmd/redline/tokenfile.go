package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

// tokenFile persists the bearer token between CLI invocations. Where the
// token lives is a CLI concern only; the session owns its lifecycle.
type tokenFile struct {
	Path string
}

type storedToken struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

func (f tokenFile) Load() (storedToken, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return storedToken{}, nil
		}
		return storedToken{}, err
	}
	var st storedToken
	if err := json.Unmarshal(data, &st); err != nil {
		return storedToken{}, err
	}
	return st, nil
}

func (f tokenFile) Save(st storedToken) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.Path, data, 0o600)
}

func (f tokenFile) Remove() error {
	err := os.Remove(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
