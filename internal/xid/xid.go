// Package xid mints record identifiers.
package xid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns prefix-<32 hex chars>. The hex part is a UUIDv7, so ids of one prefix sort by creation time.
func New(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return prefix + "-" + strings.ReplaceAll(id.String(), "-", "")
}

// Batch returns the id shared by every row of one transfer or return.
func Batch() string {
	return uuid.NewString()
}
