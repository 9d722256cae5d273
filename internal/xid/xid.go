package xid

import (
	"fmt"

	"github.com/google/uuid"
)

// New returns "<prefix>-<uuid>". uuid.New panics only when the system random
// source fails, which the caller cannot recover from either.
func New(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}
