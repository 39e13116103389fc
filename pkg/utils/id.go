package utils

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var idSeq uint64

// GenID returns a sortable message id: nanosecond timestamp plus a
// process-local sequence to break ties within the same nanosecond.
func GenID() string {
	n := time.Now().UTC().UnixNano()
	s := atomic.AddUint64(&idSeq, 1)
	return fmt.Sprintf("msg-%d-%d", n, s)
}

// GenUUID returns a random id for entities that do not need ordering
// (rooms, decisions, critiques, debate arguments).
func GenUUID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
