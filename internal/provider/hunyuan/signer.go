package hunyuan

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	algorithm     = "TC3-HMAC-SHA256"
	service       = "ai3d"
	scopeSuffix   = "tc3_request"
	contentType   = "application/json; charset=utf-8"
	signedHeaders = "content-type;host;x-tc-action"
)

// buildAuthorization computes the signature chain over a canonical request.
// The same body bytes must be sent on the wire; any re-marshalling would
// change the payload digest.
func buildAuthorization(secretID, secretKey, host, action string, body []byte, ts time.Time) string {
	canonicalHeaders := "content-type:" + contentType + "\n" +
		"host:" + host + "\n" +
		"x-tc-action:" + strings.ToLower(action) + "\n"
	canonicalRequest := strings.Join([]string{
		"POST",
		"/",
		"",
		canonicalHeaders,
		signedHeaders,
		sha256Hex(body),
	}, "\n")

	date := ts.UTC().Format("2006-01-02")
	scope := date + "/" + service + "/" + scopeSuffix
	stringToSign := strings.Join([]string{
		algorithm,
		strconv.FormatInt(ts.Unix(), 10),
		scope,
		sha256Hex([]byte(canonicalRequest)),
	}, "\n")

	secretDate := hmacSHA256([]byte("TC3"+secretKey), date)
	secretService := hmacSHA256(secretDate, service)
	secretSigning := hmacSHA256(secretService, scopeSuffix)
	signature := hex.EncodeToString(hmacSHA256(secretSigning, stringToSign))

	return fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		algorithm, secretID, scope, signedHeaders, signature)
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key []byte, msg string) []byte {
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(msg))
	return mac.Sum(nil)
}
