// Package auth implements the reversible account-password decrypt (AES-128
// CBC + PKCS7, base64-wrapped) and the JWT-shaped session token the gateway
// hands back from /api/login, mirroring a .NET-style claims token so
// existing client integrations keep working unmodified.
package auth

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

// TokenTTL is the session token lifetime: 48 hours.
const TokenTTL = 48 * time.Hour

const (
	claimName = "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/name"
	claimRole = "http://schemas.microsoft.com/ws/2008/06/identity/claims/role"
	issuer    = "ApiStore"
	audience  = "ApiStore"
)

// DecryptPassword reverses the AES-128-CBC+PKCS7, base64-encoded password
// cipher stored in the accounts table. key and iv must each be exactly 16
// bytes, matching the original AES-128 key/IV pair.
func DecryptPassword(cipherB64, key, iv string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(cipherB64)
	if err != nil {
		return "", fmt.Errorf("decode password ciphertext: %w", err)
	}
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return "", fmt.Errorf("build aes cipher: %w", err)
	}
	if len(raw) == 0 || len(raw)%block.BlockSize() != 0 {
		return "", fmt.Errorf("ciphertext is not a whole number of blocks")
	}
	plain := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, []byte(iv)).CryptBlocks(plain, raw)
	return unpadPKCS7(plain)
}

func unpadPKCS7(data []byte) (string, error) {
	n := len(data)
	if n == 0 {
		return "", fmt.Errorf("empty plaintext")
	}
	padLen := int(data[n-1])
	if padLen == 0 || padLen > n {
		return "", fmt.Errorf("invalid pkcs7 padding")
	}
	if !bytes.Equal(data[n-padLen:], bytes.Repeat([]byte{byte(padLen)}, padLen)) {
		return "", fmt.Errorf("invalid pkcs7 padding bytes")
	}
	return string(data[:n-padLen]), nil
}

// Issuer mints session tokens and records them in Redis so that
// ValidateToken can map a bearer token back to its username.
type Issuer struct {
	secret []byte
	rdb    *redis.Client
}

// NewIssuer builds an Issuer signing with the given HMAC secret.
func NewIssuer(secret string, rdb *redis.Client) *Issuer {
	return &Issuer{secret: []byte(secret), rdb: rdb}
}

// Issue mints a signed session token for username, stores the mapping in
// Redis under user_token:{token} with a matching TTL, and returns the token.
func (i *Issuer) Issue(ctx context.Context, username string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		claimName: padUsername(username),
		claimRole: "0",
		"exp":     now.Add(TokenTTL).Unix(),
		"iss":     issuer,
		"aud":     audience,
		"jti":     uniqueID(username, now),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	if err := i.rdb.SetEx(ctx, redisTokenKey(signed), username, TokenTTL).Err(); err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}
	return signed, nil
}

// ValidateToken looks up the username bound to a bearer token. The second
// return is false when the token is unknown or expired.
func (i *Issuer) ValidateToken(ctx context.Context, token string) (string, bool, error) {
	username, err := i.rdb.Get(ctx, redisTokenKey(token)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup token: %w", err)
	}
	return username, true, nil
}

func redisTokenKey(token string) string { return "user_token:" + token }

// padUsername fixes the claim's username to exactly 8 characters, matching
// the source system's fixed-width token layout.
func padUsername(username string) string {
	if len(username) >= 8 {
		return username[:8]
	}
	return username + strings.Repeat(" ", 8-len(username))
}

// uniqueID derives a 5-character jti so repeated logins by the same user
// never collide on the same token.
func uniqueID(username string, at time.Time) string {
	var nonce [4]byte
	_, _ = rand.Read(nonce[:])
	sum := md5.Sum([]byte(username + ":" + strconv.FormatInt(at.UnixNano(), 10) + ":" + hex.EncodeToString(nonce[:])))
	return hex.EncodeToString(sum[:])[:5]
}
