package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"hash"
	"strings"
)

// verifyHMACHex checks a hex-encoded HMAC signature over payload. Uses
// hmac.Equal so the comparison is constant time.
func verifyHMACHex(payload []byte, signatureHex, secret string, hashFunc func() hash.Hash) bool {
	sig := strings.TrimSpace(signatureHex)
	if sig == "" || secret == "" {
		return false
	}
	decoded, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}
	return verifyHMAC(payload, decoded, []byte(secret), hashFunc)
}

// verifyHMACBase64 checks a base64-encoded HMAC signature over payload.
func verifyHMACBase64(payload []byte, signatureB64, secret string, hashFunc func() hash.Hash) bool {
	sig := strings.TrimSpace(signatureB64)
	if sig == "" || secret == "" {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return false
	}
	return verifyHMAC(payload, decoded, []byte(secret), hashFunc)
}

func verifyHMAC(payload, expectedSig, secret []byte, hashFunc func() hash.Hash) bool {
	mac := hmac.New(hashFunc, secret)
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), expectedSig)
}

func signHMACHex(payload []byte, secret string, hashFunc func() hash.Hash) string {
	mac := hmac.New(hashFunc, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// fingerprint produces the dedup fingerprint of a raw provider payload.
func fingerprint(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
