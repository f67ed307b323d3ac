package helpers

import (
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"lukechampine.com/blake3"
)

// PageChecksum returns the uppercase hex BLAKE3-256 digest of a file.
func PageChecksum(filepath string) (string, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return "", fmt.Errorf("reading %s for checksum: %w", filepath, err)
	}
	return ChecksumBytes(data), nil
}

// ChecksumBytes returns the uppercase hex BLAKE3-256 digest of a byte slice.
func ChecksumBytes(data []byte) string {
	sum := blake3.Sum256(data)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// VerifyPageFile checks that a file exists on disk with the expected byte
// length and BLAKE3 checksum. An empty expected checksum skips the hash
// comparison and relies on length alone.
func VerifyPageFile(filepath string, size int64, checksum string) bool {
	info, err := os.Stat(filepath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithError(err).Warnf("Error stating file %s during verification", filepath)
		}
		return false
	}
	if info.Size() != size {
		log.Debugf("Size mismatch for %s: have %d, want %d", filepath, info.Size(), size)
		return false
	}
	if checksum == "" {
		return true
	}
	calculated, err := PageChecksum(filepath)
	if err != nil {
		log.WithError(err).Warnf("Error hashing file %s during verification", filepath)
		return false
	}
	return calculated == strings.ToUpper(strings.TrimSpace(checksum))
}

// BytesToSize converts a byte count into a human-readable string (KB, MB, GB, etc.).
func BytesToSize(bytes uint64) string {
	sizes := []string{"B", "KB", "MB", "GB", "TB"}
	if bytes == 0 {
		return "0B"
	}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(1024)))
	if i >= len(sizes) {
		i = len(sizes) - 1
	}
	return fmt.Sprintf("%.2f%s", float64(bytes)/math.Pow(1024, float64(i)), sizes[i])
}

// Slugify converts a string into a filesystem-friendly slug.
func Slugify(str string) string {
	str = strings.ReplaceAll(str, " ", "_")
	str = strings.ReplaceAll(str, ":", "-")
	str = strings.ToLower(str)

	allowedChars := "0123456789abcdefghijklmnopqrstuvwxyz._-"

	var filtered strings.Builder
	for _, ch := range str {
		if strings.ContainsRune(allowedChars, ch) {
			filtered.WriteRune(ch)
		}
	}
	str = filtered.String()

	// Simplify repeated separators
	for strings.Contains(str, "--") {
		str = strings.ReplaceAll(str, "--", "-")
	}
	for strings.Contains(str, "__") {
		str = strings.ReplaceAll(str, "__", "_")
	}
	str = strings.ReplaceAll(str, "-_", "-")
	str = strings.ReplaceAll(str, "_-", "-")

	str = strings.Trim(str, "_-")

	if str == "" {
		return "untitled"
	}
	return str
}

// CheckAndMakeDir ensures a directory exists, creating it if necessary.
func CheckAndMakeDir(dir string) bool {
	err := os.MkdirAll(dir, 0700)
	if err != nil {
		log.WithError(err).Errorf("Error creating directory %s", dir)
		return false
	}
	return true
}
