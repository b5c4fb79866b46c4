package blob

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type urlSigner struct {
	secret []byte
	ttl    time.Duration
}

func newURLSigner(ttl time.Duration) *urlSigner {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &urlSigner{secret: []byte(uuid.New().String()), ttl: ttl}
}

func (s *urlSigner) Sign(key string, ttl time.Duration, now time.Time) string {
	if ttl <= 0 {
		ttl = s.ttl
	}
	expires := now.Add(ttl).Unix()
	payload := fmt.Sprintf("%s:%d", key, expires)
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	signature := hex.EncodeToString(mac.Sum(nil))
	raw := fmt.Sprintf("%d:%s", expires, signature)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func (s *urlSigner) Verify(key, token string, now time.Time) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("missing access token")
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return fmt.Errorf("decode token: %w", err)
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return errors.New("invalid token format")
	}
	expires, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid token expiration: %w", err)
	}
	if now.Unix() > expires {
		return errors.New("access token expired")
	}
	payload := fmt.Sprintf("%s:%d", key, expires)
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	expected := mac.Sum(nil)
	provided, err := hex.DecodeString(parts[1])
	if err != nil {
		return fmt.Errorf("invalid token signature: %w", err)
	}
	if !hmac.Equal(expected, provided) {
		return errors.New("invalid access token")
	}
	return nil
}
