package stepauth

import (
	"crypto/rand"
	"io"
	"math/big"
	"strings"
)

// backupCodeAlphabet is the full uppercase alphanumeric set; codes are
// canonicalized to it before comparison or storage.
const backupCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// entropy feeds secret and backup-code generation. Tests swap it to
// exercise random-source failure.
var entropy io.Reader = rand.Reader

// CanonicalizeBackupCode normalizes user input for comparison: trimmed,
// uppercased, with separators users commonly type stripped out.
func CanonicalizeBackupCode(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

// ConsumeBackupCode attempts to consume candidate from codes. On a match
// the code is removed from the returned set, making it single-use; on a
// miss the original set is returned unchanged. Matching is exact string
// equality after canonicalization.
func ConsumeBackupCode(codes []string, candidate string) (bool, []string) {
	canonical := CanonicalizeBackupCode(candidate)
	if canonical == "" {
		return false, codes
	}
	for i, code := range codes {
		if code == canonical {
			remaining := make([]string, 0, len(codes)-1)
			remaining = append(remaining, codes[:i]...)
			remaining = append(remaining, codes[i+1:]...)
			return true, remaining
		}
	}
	return false, codes
}

// generateBackupCodes produces count codes of the given length, each
// unique within the returned set.
func generateBackupCodes(count, length int) ([]string, error) {
	codes := make([]string, 0, count)
	seen := make(map[string]struct{}, count)
	for len(codes) < count {
		code, err := newBackupCode(length)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	return codes, nil
}

func newBackupCode(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := randomIndex(len(backupCodeAlphabet))
		if err != nil {
			return "", err
		}
		b.WriteByte(backupCodeAlphabet[n])
	}
	return b.String(), nil
}

func randomIndex(max int) (int, error) {
	n, err := rand.Int(entropy, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}
