package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey = "RuoYi@2026#Key!!" // 16 bytes
	testIV  = "RuoYi@InitVector" // 16 bytes
)

// encryptForTest mirrors the AES-128-CBC+PKCS7 scheme the accounts table
// stores passwords under, so tests can construct valid ciphertexts.
func encryptForTest(t *testing.T, plain string) string {
	t.Helper()
	block, err := aes.NewCipher([]byte(testKey))
	require.NoError(t, err)

	padLen := block.BlockSize() - len(plain)%block.BlockSize()
	padded := append([]byte(plain), make([]byte, padLen)...)
	for i := len(plain); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}

	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, []byte(testIV)).CryptBlocks(out, padded)
	return base64.StdEncoding.EncodeToString(out)
}

func TestDecryptPassword_RoundTrip(t *testing.T) {
	enc := encryptForTest(t, "hunter2")
	got, err := DecryptPassword(enc, testKey, testIV)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)
}

func TestDecryptPassword_RejectsGarbage(t *testing.T) {
	_, err := DecryptPassword("not-valid-base64!!!", testKey, testIV)
	assert.Error(t, err)
}

func TestDecryptPassword_RejectsWrongKey(t *testing.T) {
	enc := encryptForTest(t, "hunter2")
	got, err := DecryptPassword(enc, "DifferentKey1234", testIV)
	if err == nil {
		assert.NotEqual(t, "hunter2", got)
	}
}

func TestPadUsername(t *testing.T) {
	assert.Equal(t, "ab      ", padUsername("ab"))
	assert.Equal(t, "abcdefgh", padUsername("abcdefghij"))
}

func TestUniqueID_FiveCharsAndVariesPerCall(t *testing.T) {
	id1 := uniqueID("alice", time.Now())
	id2 := uniqueID("alice", time.Now())
	assert.Len(t, id1, 5)
	assert.Len(t, id2, 5)
	assert.NotEqual(t, id1, id2)
}

func TestIssue_ClaimsShape(t *testing.T) {
	// Builds the claim set the way Issue does and parses it without
	// verifying the signature, to inspect claim shape only. Issue itself is
	// not called here, since it stores the token in Redis.
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		claimName: padUsername("alice"),
		claimRole: "0",
		"iss":     issuer,
		"aud":     audience,
	})
	signed, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)

	parsed, _, err := jwt.NewParser().ParseUnverified(signed, jwt.MapClaims{})
	require.NoError(t, err)
	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, "alice   ", claims[claimName])
	assert.Equal(t, issuer, claims["iss"])
}
