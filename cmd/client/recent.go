package main

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
)

const maxRecent = 8

// recentChat is one previously opened conversation, newest first on disk.
type recentChat struct {
	Server string `json:"server"`
	User   string `json:"user,omitempty"`
	Peer   string `json:"peer,omitempty"`
}

func (r recentChat) label() string {
	if r.User == "" || r.Peer == "" {
		return r.Server
	}
	return r.User + " -> " + r.Peer + " @ " + r.Server
}

type recentFile struct {
	Recent []recentChat `json:"recent"`
}

func recentPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "parley", "recent.json"), nil
}

// loadRecent returns nil when nothing was saved or the file is unreadable.
func loadRecent() []recentChat {
	path, err := recentPath()
	if err != nil {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var stored recentFile
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil
	}
	return normalizeRecent(stored.Recent)
}

func saveRecent(list []recentChat) error {
	path, err := recentPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(recentFile{Recent: normalizeRecent(list)}, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// forgetRecent removes the saved list entirely.
func forgetRecent() error {
	path, err := recentPath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// rememberRecent puts entry first and drops older entries for the same
// server/user/peer triple.
func rememberRecent(list []recentChat, entry recentChat) []recentChat {
	entry = cleanRecent(entry)
	if entry.Server == "" {
		return normalizeRecent(list)
	}
	out := normalizeRecent(append([]recentChat{entry}, list...))
	if len(out) > maxRecent {
		out = out[:maxRecent]
	}
	return out
}

func cleanRecent(r recentChat) recentChat {
	return recentChat{
		Server: strings.TrimRight(strings.TrimSpace(r.Server), "/"),
		User:   strings.ToLower(strings.TrimSpace(r.User)),
		Peer:   strings.ToLower(strings.TrimSpace(r.Peer)),
	}
}

func normalizeRecent(list []recentChat) []recentChat {
	cleaned := lo.Map(list, func(r recentChat, _ int) recentChat { return cleanRecent(r) })
	cleaned = lo.Filter(cleaned, func(r recentChat, _ int) bool { return r.Server != "" })
	return lo.UniqBy(cleaned, func(r recentChat) string {
		return strings.ToLower(r.Server) + "\x00" + r.User + "\x00" + r.Peer
	})
}
