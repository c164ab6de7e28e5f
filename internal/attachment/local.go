// Package attachment stores message attachments on the local disk and serves
// them under a public base URL.
package attachment

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"go-chat-relay/internal/chat"
)

var ErrOutsideRoot = errors.New("attachment path is outside the upload directory")

type LocalStore struct {
	dir     string
	baseURL string
}

// NewLocalStore keeps files in dir. baseURL is either a path ("/uploads") or
// an absolute URL ("https://cdn.example.com/uploads").
func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalStore{dir: abs, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

func (s *LocalStore) Dir() string {
	return s.dir
}

// sanitizeFilename strips directory components from a client supplied name.
func sanitizeFilename(name string) string {
	clean := filepath.Base(filepath.Clean(name))
	clean = strings.ReplaceAll(clean, "/", "_")
	clean = strings.ReplaceAll(clean, "\\", "_")
	if clean == "." || clean == ".." || clean == "" {
		return "unnamed"
	}
	return clean
}

// Save writes r under a unique name and returns the stored attachment.
func (s *LocalStore) Save(filename string, r io.Reader) (chat.Attachment, error) {
	name := uuid.NewString() + "-" + sanitizeFilename(filename)
	localPath := filepath.Join(s.dir, name)

	f, err := os.Create(localPath)
	if err != nil {
		return chat.Attachment{}, fmt.Errorf("create attachment: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(localPath)
		return chat.Attachment{}, fmt.Errorf("write attachment: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(localPath)
		return chat.Attachment{}, err
	}

	publicURL, err := url.JoinPath(s.baseURL, name)
	if err != nil {
		os.Remove(localPath)
		return chat.Attachment{}, fmt.Errorf("build attachment url: %w", err)
	}
	return chat.Attachment{URL: publicURL, LocalPath: localPath}, nil
}

// Delete removes a stored file. A file that is already gone is not an error.
func (s *LocalStore) Delete(localPath string) error {
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return err
	}
	if rel, err := filepath.Rel(s.dir, abs); err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ErrOutsideRoot
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
