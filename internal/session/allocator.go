package session

import (
	"fmt"
	"math/rand"
	"strings"
	"unicode/utf8"
)

const (
	// ReservedUsername is the name used for server-originated announcements.
	// No session may claim it, in any casing.
	ReservedUsername = "Server"

	// SystemColor is the display color of server announcements. Generated
	// session colors are always distinct from it.
	SystemColor = "red"

	// MaxUsernameLen is the maximum username length in characters, counted
	// after trimming surrounding whitespace.
	MaxUsernameLen = 24

	// defaultNameSpace bounds the random suffix of generated default names.
	defaultNameSpace = 10000

	// maxRandomAttempts caps the random draw loop before GenerateUsername
	// falls back to a deterministic sequential scan.
	maxRandomAttempts = 50
)

// colorPalette is the fixed set of display colors assigned to new sessions.
// None of them is the reserved SystemColor.
var colorPalette = []string{
	"#1abc9c", "#2ecc71", "#3498db", "#9b59b6", "#f1c40f", "#e67e22", "#e74c3c",
}

// GenerateUsername produces a default username of the form User<N> that the
// taken predicate reports as free. It draws N at random from a bounded range;
// if maxRandomAttempts draws all collide (a crowded long-running server), it
// scans N sequentially from zero, which terminates as long as the live
// population is smaller than the name space. The reserved server name can
// never be produced since every candidate carries the User prefix.
func GenerateUsername(taken func(string) bool) string {
	for i := 0; i < maxRandomAttempts; i++ {
		candidate := fmt.Sprintf("User%d", rand.Intn(defaultNameSpace))
		if !taken(candidate) {
			return candidate
		}
	}

	// Deterministic fallback: the registry population is finite, so some
	// suffix below it is always free.
	for n := 0; ; n++ {
		candidate := fmt.Sprintf("User%d", n)
		if !taken(candidate) {
			return candidate
		}
	}
}

// GenerateColor picks a display color at random from the fixed palette. The
// palette excludes SystemColor, so user colors never collide with server
// announcement styling.
func GenerateColor() string {
	return colorPalette[rand.Intn(len(colorPalette))]
}

// ValidateUsername trims surrounding whitespace from candidate and checks the
// length bounds. It returns the trimmed name, or ErrUsernameEmpty /
// ErrUsernameTooLong. Uniqueness is the Registry's concern, not this
// function's.
func ValidateUsername(candidate string) (string, error) {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return "", ErrUsernameEmpty
	}
	if utf8.RuneCountInString(trimmed) > MaxUsernameLen {
		return "", ErrUsernameTooLong
	}
	return trimmed, nil
}
