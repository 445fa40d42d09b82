// Package scope defines the Drive OAuth scopes the relay and the client SDK
// agree on, the short codes that name them in start-handler URLs, and the
// satisfaction rule between granted and desired scopes.
package scope

import "strings"

// Full scope strings. The per-file scope is the product default: it only
// grants access to files the user opened with the app.
const (
	Drive     = "https://www.googleapis.com/auth/drive"
	DriveFile = "https://www.googleapis.com/auth/drive.file"
)

// Short codes used in start-handler URLs (td_scope parameter).
const (
	CodeDrive = "drive"
	CodeFile  = "file"
)

// FromCode maps a short code onto a full scope string. Anything
// unrecognized falls back to the per-file scope.
func FromCode(code string) string {
	if strings.TrimSpace(code) == CodeDrive {
		return Drive
	}
	return DriveFile
}

// Code returns the start-URL short code for a full scope string.
func Code(scope string) string {
	if scope == Drive {
		return CodeDrive
	}
	return CodeFile
}

// Satisfies reports whether a granted scope set covers the desired scope.
// The granted value is the provider's space-separated scope list. Drive-wide
// access satisfies every desire; per-file access satisfies only a per-file
// desire; an empty grant satisfies nothing.
func Satisfies(granted, desired string) bool {
	if strings.TrimSpace(granted) == "" || desired == "" {
		return false
	}
	for _, s := range strings.Fields(granted) {
		if s == Drive || s == desired {
			return true
		}
	}
	return false
}
