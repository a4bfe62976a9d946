package utils

import (
	"strings"

	"github.com/google/uuid"
)

// TokenHex returns a random hex token of 32 characters.
func TokenHex() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
