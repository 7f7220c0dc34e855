package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/crc32"

	"github.com/google/uuid"
)

// CalculateHash generates a CRC32 version tag for document content
func CalculateHash(data []byte) string {
	table := crc32.MakeTable(crc32.IEEE)
	return fmt.Sprintf("\"%08x\"", crc32.Checksum(data, table))
}

// ContentKey returns a collision-resistant key for a pair of texts
func ContentKey(a, b string) string {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return hex.EncodeToString(ha[:]) + ":" + hex.EncodeToString(hb[:])
}

// GenerateRandomID generates a random ID for comparison runs and subscriptions
func GenerateRandomID() string {
	return uuid.NewString()
}
