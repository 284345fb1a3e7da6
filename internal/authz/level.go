package authz

import (
	"fmt"
	"strings"
)

// Level is an access level. Levels are totally ordered hidden < read < write.
type Level string

const (
	Hidden Level = "hidden"
	Read   Level = "read"
	Write  Level = "write"
)

// Levels lists every level in rank order.
var Levels = []Level{Hidden, Read, Write}

// Rank orders levels; unknown values rank below hidden.
func (l Level) Rank() int {
	switch l {
	case Hidden:
		return 0
	case Read:
		return 1
	case Write:
		return 2
	}
	return -1
}

func (l Level) Valid() bool { return l.Rank() >= 0 }

// AtLeast reports whether l grants min.
func (l Level) AtLeast(min Level) bool {
	return l.Valid() && l.Rank() >= min.Rank()
}

func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToLower(strings.TrimSpace(s)))
	if !l.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidLevel, s)
	}
	return l, nil
}
