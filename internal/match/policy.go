package match

import (
	"fmt"
	"strings"
)

// UnmatchedPolicy decides how an image without a same-stem reference is
// reported.
type UnmatchedPolicy string

const (
	// UnmatchedSkip counts the image as skipped.
	UnmatchedSkip UnmatchedPolicy = "skip"
	// UnmatchedIgnore drops the image silently.
	UnmatchedIgnore UnmatchedPolicy = "ignore"
	// UnmatchedError counts the image as a failure.
	UnmatchedError UnmatchedPolicy = "error"
)

// ParseUnmatchedPolicy parses a policy name; "" means UnmatchedSkip.
func ParseUnmatchedPolicy(s string) (UnmatchedPolicy, error) {
	switch p := UnmatchedPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return UnmatchedSkip, nil
	case UnmatchedSkip, UnmatchedIgnore, UnmatchedError:
		return p, nil
	default:
		return "", fmt.Errorf("unknown unmatched policy %q (want skip, ignore or error)", s)
	}
}
