// Package auth signs feed requests with RSA-PSS so the price service can
// attribute connections to an API key. Signing is optional; an unset key
// leaves requests unsigned.
package auth

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"
)

// Header names carried on signed REST requests and WebSocket handshakes.
const (
	HeaderKey       = "FEED-ACCESS-KEY"
	HeaderTimestamp = "FEED-ACCESS-TIMESTAMP"
	HeaderSignature = "FEED-ACCESS-SIGNATURE"
)

// Errors returned by Verify.
var (
	ErrMissingHeaders = errors.New("missing signature headers")
	ErrStaleTimestamp = errors.New("signature timestamp outside allowed skew")
	ErrBadSignature   = errors.New("signature does not verify")
)

// Signer adds authentication headers to an outgoing request.
type Signer interface {
	Sign(header http.Header, method, path string) error
}

// Credentials holds the API key and private key for signing requests.
type Credentials struct {
	KeyID      string          // API key ID issued by the feed
	PrivateKey *rsa.PrivateKey // RSA private key for signing

	now func() time.Time
}

// LoadCredentials loads credentials from key ID and private key file path.
func LoadCredentials(keyID, privateKeyPath string) (*Credentials, error) {
	if keyID == "" {
		return nil, fmt.Errorf("API key ID is required")
	}
	if privateKeyPath == "" {
		return nil, fmt.Errorf("private key path is required")
	}

	privateKey, err := LoadPrivateKey(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}

	return &Credentials{
		KeyID:      keyID,
		PrivateKey: privateKey,
	}, nil
}

// LoadPrivateKey loads an RSA private key from a PEM file (PKCS#8 or PKCS#1).
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("key is not an RSA private key")
		}
		return rsaKey, nil
	}

	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return rsaKey, nil
}

// Sign sets the key, timestamp and signature headers for method and path.
func (c *Credentials) Sign(header http.Header, method, path string) error {
	ts := c.clock().UnixMilli()

	signature, err := c.signature(ts, method, path)
	if err != nil {
		return err
	}

	header.Set(HeaderKey, c.KeyID)
	header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	header.Set(HeaderSignature, signature)
	return nil
}

// signature creates an RSA-PSS signature over timestamp_ms + method + path.
func (c *Credentials) signature(timestampMs int64, method, path string) (string, error) {
	hashed := sha256.Sum256(signedMessage(timestampMs, method, path))

	sig, err := rsa.SignPSS(
		rand.Reader,
		c.PrivateKey,
		crypto.SHA256,
		hashed[:],
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash},
	)
	if err != nil {
		return "", fmt.Errorf("sign message: %w", err)
	}

	return base64.StdEncoding.EncodeToString(sig), nil
}

func (c *Credentials) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

// Verify checks the signature headers of an incoming request against pub.
// Timestamps further than maxSkew from now are rejected.
func Verify(pub *rsa.PublicKey, header http.Header, method, path string, now time.Time, maxSkew time.Duration) (keyID string, err error) {
	keyID = header.Get(HeaderKey)
	tsRaw := header.Get(HeaderTimestamp)
	sigRaw := header.Get(HeaderSignature)
	if keyID == "" || tsRaw == "" || sigRaw == "" {
		return "", ErrMissingHeaders
	}

	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return "", fmt.Errorf("parse timestamp: %w", err)
	}
	skew := now.Sub(time.UnixMilli(ts))
	if skew < -maxSkew || skew > maxSkew {
		return "", ErrStaleTimestamp
	}

	sig, err := base64.StdEncoding.DecodeString(sigRaw)
	if err != nil {
		return "", fmt.Errorf("decode signature: %w", err)
	}

	hashed := sha256.Sum256(signedMessage(ts, method, path))
	opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash}
	if err := rsa.VerifyPSS(pub, crypto.SHA256, hashed[:], sig, opts); err != nil {
		return "", ErrBadSignature
	}
	return keyID, nil
}

func signedMessage(timestampMs int64, method, path string) []byte {
	return []byte(strconv.FormatInt(timestampMs, 10) + method + path)
}
