package library

import (
	"errors"
	"time"
)

// Content kinds a library can hold.
const (
	TypeMovie = "movie"
	TypeTV    = "tv"
)

var (
	// ErrNotFound is returned by lookups and mutations that address a missing id.
	ErrNotFound = errors.New("library not found")
	// ErrInvalid wraps validation failures.
	ErrInvalid = errors.New("invalid library")
	// ErrDuplicatePath is returned when another library already owns the path.
	ErrDuplicatePath = errors.New("library path already registered")
)

// Library is a configured media root. Disabled libraries are kept but skipped
// by scans.
type Library struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Type      string    `json:"type"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ValidType reports whether t is a known content kind.
func ValidType(t string) bool {
	return t == TypeMovie || t == TypeTV
}
