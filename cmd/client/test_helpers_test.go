package main

import (
	"testing"
)

func setTestConfigDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)
	return dir
}

func newTestAuth() *AuthResponse {
	return &AuthResponse{
		Token:    "token",
		UserID:   "user-1",
		Username: "alice",
	}
}

func strPtr(s string) *string { return &s }

func lastMessage(m chatModel) chatMessage {
	if len(m.messages) == 0 {
		return chatMessage{}
	}
	return m.messages[len(m.messages)-1]
}
