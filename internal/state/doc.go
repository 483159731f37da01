// Package state provides session storage backends: a JSON file, SQLite and
// an in-memory map.
package state

import "github.com/user/issuepilot/internal/types"

// Compile-time interface compliance checks.
var _ types.SessionStore = (*JSONStore)(nil)
var _ types.SessionStore = (*SQLiteStore)(nil)
var _ types.SessionStore = (*MemoryStore)(nil)
