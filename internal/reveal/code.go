package reveal

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
)

// newCode returns a uniformly random numeric code of the given length.
func newCode(digits int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("reveal: generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}

// codeDigest binds a code to its challenge so digests never repeat across grants.
func codeDigest(secret []byte, challengeID, code string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(challengeID))
	mac.Write([]byte{0})
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))
}

func digestEqual(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
