package hive

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"regexp"
	"time"
)

// Room codes use a 31-character alphabet with the easily-confused glyphs
// (I, L, O, 0, 1) removed so codes survive being read aloud.
const roomCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const roomCodeLen = 6

var roomCodePattern = regexp.MustCompile(`^HIVE-[ABCDEFGHJKMNPQRSTUVWXYZ23456789]{6}$`)

// GenerateRoomCode returns a fresh HIVE-XXXXXX code drawn from a CSPRNG.
func GenerateRoomCode() string {
	buf := make([]byte, roomCodeLen)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	code := make([]byte, roomCodeLen)
	for i, b := range buf {
		code[i] = roomCodeAlphabet[int(b)%len(roomCodeAlphabet)]
	}
	return "HIVE-" + string(code)
}

// IsValidRoomCode reports whether s is a well-formed room code. Matching is
// case-sensitive; codes are always upper.
func IsValidRoomCode(s string) bool {
	return roomCodePattern.MatchString(s)
}

// GenerateDeviceID returns a 16-character URL-safe identifier. Device ids
// are per agent session, not per machine.
func GenerateDeviceID() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// FormatRelativeTime renders a millisecond timestamp as a short "how long
// ago" string for CLI output.
func FormatRelativeTime(ms int64) string {
	d := time.Since(time.UnixMilli(ms))
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
