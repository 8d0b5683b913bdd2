package manifest

import (
	"fmt"
	"io"
	"os"

	"lukechampine.com/blake3"
)

const digestChunk = 1 << 20

// Digest computes the blake3 hash of the file at p, reading in fixed-size
// chunks so arbitrarily large shards hash in constant memory. The result is
// algorithm-tagged, e.g. "blake3:9f86d0…".
func Digest(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New(32, nil)
	buf := make([]byte, digestChunk)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("hash %s: %w", p, err)
		}
	}

	return fmt.Sprintf("blake3:%x", h.Sum(nil)), nil
}
