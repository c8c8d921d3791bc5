package trace

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// NewSessionID 生成新的会话 ID / Generates a new session ID.
// The timestamp component keeps trace files chronologically sorted on disk;
// the random suffix keeps rapid successive sessions distinct.
func NewSessionID() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("sess_%s_%s", time.Now().UTC().Format("20060102T150405"), hex.EncodeToString(buf))
}
