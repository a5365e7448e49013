// Package eventid derives deterministic fingerprints for inbound event payloads.
package eventid

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

const prefix = "sha256:"

// PayloadHash returns a stable hash of payload. Key order does not matter; keys and values
// are length-delimited so {"a":"bc"} and {"ab":"c"} never collide.
func PayloadHash(payload map[string]string) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		writeField(h, k)
		writeField(h, payload[k])
	}
	return prefix + hex.EncodeToString(h.Sum(nil))
}

type byteWriter interface {
	Write(p []byte) (int, error)
}

func writeField(w byteWriter, s string) {
	var n [8]byte
	l := uint64(len(s))
	for i := 0; i < 8; i++ {
		n[i] = byte(l >> (8 * i))
	}
	_, _ = w.Write(n[:])
	_, _ = w.Write([]byte(s))
}
