package utils

import (
	"fmt"
	"strings"
)

const (
	MinUsernameLength = 3

	placeholderEmailDomain = "strava.local"
)

// DeriveUsernameBase builds a username from a Strava profile: first name plus
// last initial, lowercased with spaces removed.
func DeriveUsernameBase(firstName, lastName string, athleteID int64) string {
	first := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(firstName), " ", ""))
	last := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(lastName), " ", ""))

	var base string
	switch {
	case first != "" && last != "":
		base = first + string([]rune(last)[0])
	case first != "":
		base = first
	default:
		base = fmt.Sprintf("strava%d", athleteID)
	}

	if len([]rune(base)) < MinUsernameLength {
		base = "user" + base
	}
	return base
}

// UsernameCandidate returns base for attempt 0 and base followed by the attempt
// number otherwise.
func UsernameCandidate(base string, attempt int) string {
	if attempt == 0 {
		return base
	}
	return fmt.Sprintf("%s%d", base, attempt)
}

func PlaceholderEmail(athleteID int64) string {
	return fmt.Sprintf("strava_%d@%s", athleteID, placeholderEmailDomain)
}

// PlaceholderEmailFor is the address given to a Strava member whose plain
// placeholder address is already taken by another account.
func PlaceholderEmailFor(athleteID int64, username string) string {
	return fmt.Sprintf("strava_%d.%s@%s", athleteID, username, placeholderEmailDomain)
}

func IsPlaceholderEmail(email string) bool {
	return strings.HasSuffix(strings.ToLower(email), "@"+placeholderEmailDomain)
}
