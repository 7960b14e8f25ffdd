package fleetauth

import (
	"crypto/rand"
	"crypto/sha256"
	"math/big"
	"strings"
)

// backupCodeAlphabet avoids look-alike characters so codes survive being
// read off a printout.
const backupCodeAlphabet = "ABCDEFGHJKMNPQRSTVWXYZ23456789"

func newBackupCode(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	max := big.NewInt(int64(len(backupCodeAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(backupCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// formatBackupCode inserts a separator for display; the stored form is the
// canonical one.
func formatBackupCode(code string) string {
	if len(code) < 8 {
		return code
	}
	mid := len(code) / 2
	return code[:mid] + "-" + code[mid:]
}

func canonicalizeBackupCode(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	return strings.ReplaceAll(s, " ", "")
}

// backupCodeHash binds the code to the principal so identical codes issued
// to different accounts produce distinct records.
func backupCodeHash(principalID, canonicalCode string) [32]byte {
	data := make([]byte, 0, len(principalID)+1+len(canonicalCode))
	data = append(data, principalID...)
	data = append(data, 0)
	data = append(data, canonicalCode...)
	return sha256.Sum256(data)
}
