package blob

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalStore is a disk-backed Store. Objects live under a base directory and
// are reachable over HTTP through the files handler, which verifies the
// HMAC token carried by signed URLs.
type LocalStore struct {
	baseDir string
	baseURL string
	signer  *urlSigner
	now     func() time.Time
}

// NewLocalStore creates the base directory and returns a store whose signed
// URLs are rooted at baseURL (e.g. "http://localhost:8080").
func NewLocalStore(baseDir, baseURL string, signedURLTTL time.Duration) (*LocalStore, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("blob base directory is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir %s: %w", baseDir, err)
	}
	return &LocalStore{
		baseDir: filepath.Clean(baseDir),
		baseURL: strings.TrimRight(baseURL, "/"),
		signer:  newURLSigner(signedURLTTL),
		now:     time.Now,
	}, nil
}

// Put writes the payload under key. An existing object is never overwritten,
// so re-delivered upload triggers cannot clobber a stored file.
func (s *LocalStore) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	path, err := s.resolve(key)
	if err != nil {
		return 0, err
	}
	if _, err := os.Stat(path); err == nil {
		return 0, fmt.Errorf("blob %s already exists", key)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create blob parent dir: %w", err)
	}

	out, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create blob file: %w", err)
	}

	written, err := io.Copy(out, r)
	if err != nil {
		out.Close()
		os.Remove(path)
		return 0, fmt.Errorf("write blob %s: %w", key, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return 0, fmt.Errorf("close blob file: %w", err)
	}
	return written, nil
}

// Open returns the payload for key.
func (s *LocalStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("open blob %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("open blob %s: %w", key, err)
	}
	return file, nil
}

// Delete removes the payload for key.
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob %s: %w", key, err)
	}
	return nil
}

// SignedURL mints a fresh expiring URL for key.
func (s *LocalStore) SignedURL(key string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("blob key is required")
	}
	token := s.signer.Sign(key, ttl, s.now())
	values := url.Values{}
	values.Set("token", token)
	escaped := (&url.URL{Path: key}).EscapedPath()
	return fmt.Sprintf("%s/files/%s?%s", s.baseURL, escaped, values.Encode()), nil
}

// VerifyToken checks a signed-URL token against key, used by the files handler.
func (s *LocalStore) VerifyToken(key, token string) error {
	return s.signer.Verify(key, token, s.now())
}

// resolve maps a key onto the base directory and rejects traversal outside it.
func (s *LocalStore) resolve(key string) (string, error) {
	cleaned := filepath.Clean(strings.TrimSpace(key))
	if cleaned == "" || cleaned == "." || strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(s.baseDir, cleaned), nil
}
