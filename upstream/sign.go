package upstream

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// secretKey is the fixed HMAC key the upstream mobile client embeds. It
// must be reproduced bit-exactly or every signed request is rejected.
const secretKey = "~Dd^~cCo8Kv-9boB#-VC~~S?V~8L2r!f"

// Static per-request headers the upstream service expects on every call,
// independent of the signature.
const (
	headerAPIKey     = "C69BAB261B6A51B9"
	headerAppVersion = "2.2.1.2.3.3"
	headerPlatform   = "android"
	headerChannel    = "1"
	headerBuild      = "44"
	headerUUID       = "defaultUuid"
)

// nonce returns a fresh 32-char lowercase hex string, the equivalent of a
// UUIDv4 with its dashes stripped.
func nonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// canonicalPath strips any scheme/host prefix from rawURL and lowercases
// what remains.
func canonicalPath(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	path := u.Path
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return strings.ToLower(path), nil
}

// signature computes the lowercase hex HMAC-SHA256 over
// canonicalPath + timestamp + nonce + method + apiKey.
func signature(path, ts, n, method string) string {
	payload := path + ts + n + strings.ToUpper(method) + headerAPIKey
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// signedHeaders computes the time/nonce/signature triple for one request.
type signedHeaders struct {
	Time      string
	Nonce     string
	Signature string
}

func sign(rawURL, method string) (signedHeaders, error) {
	path, err := canonicalPath(rawURL)
	if err != nil {
		return signedHeaders{}, err
	}
	n, err := nonce()
	if err != nil {
		return signedHeaders{}, err
	}
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	return signedHeaders{
		Time:      ts,
		Nonce:     n,
		Signature: signature(path, ts, n, method),
	}, nil
}
