package canonical

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash domains. The version suffix allows the encoding to change
// without colliding with stored fingerprints.
const (
	DomainSequence = "aptitude/sequence/v1"
	DomainTestFile = "aptitude/testfile/v1"
)

// Hash computes SHA256(domain + 0x00 + data) as lowercase hex.
func Hash(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
