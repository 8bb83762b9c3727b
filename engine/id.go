package engine

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// generateID builds a short opaque task identifier. seq disambiguates
// same-nanosecond creations under the registry lock; the random suffix
// keeps ids unguessable the same way upstream/sign.go's nonce() does.
func generateID(seq int) string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("task-%d", seq)
	}
	return fmt.Sprintf("task-%d-%s", seq, hex.EncodeToString(buf))
}
