package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/veritest/veritest/internal/chat/events"
)

// Store holds attachment bytes behind an opaque URL. The chat core only
// ever sees the returned metadata; attachment processing stays on this side
// of the boundary.
type Store interface {
	Save(ctx context.Context, ticketID, filename string, reader io.Reader) (events.Attachment, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// AferoStore implements Store over an afero filesystem. Production uses the
// OS filesystem rooted at a base dir; tests use the in-memory one.
type AferoStore struct {
	fs      afero.Fs
	baseURL string
}

// NewAferoStore creates a store serving attachment URLs under baseURL.
func NewAferoStore(fs afero.Fs, baseURL string) *AferoStore {
	return &AferoStore{fs: fs, baseURL: baseURL}
}

// NewOsStore creates a store over the OS filesystem rooted at dir.
func NewOsStore(dir, baseURL string) *AferoStore {
	return NewAferoStore(afero.NewBasePathFs(afero.NewOsFs(), dir), baseURL)
}

// Save writes the attachment bytes and returns the metadata the message
// will carry. The storage key embeds a uuid so filenames never collide.
func (s *AferoStore) Save(ctx context.Context, ticketID, filename string, reader io.Reader) (events.Attachment, error) {
	// Base() strips any path the client smuggled into the filename.
	name := filepath.Base(filename)
	key := path.Join(ticketID, uuid.NewString()+"-"+name)

	if err := s.fs.MkdirAll(filepath.Dir(key), 0o755); err != nil {
		return events.Attachment{}, fmt.Errorf("failed to create attachment dir: %w", err)
	}
	f, err := s.fs.Create(key)
	if err != nil {
		return events.Attachment{}, fmt.Errorf("failed to create attachment file: %w", err)
	}
	defer f.Close()

	size, err := io.Copy(f, reader)
	if err != nil {
		s.fs.Remove(key)
		return events.Attachment{}, fmt.Errorf("failed to write attachment: %w", err)
	}

	return events.Attachment{
		URL:  s.baseURL + "/" + key,
		Name: name,
		Size: size,
	}, nil
}

// Open returns the attachment bytes for download.
func (s *AferoStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.fs.OpenFile(key, os.O_RDONLY, 0)
}

// Delete removes an attachment.
func (s *AferoStore) Delete(ctx context.Context, key string) error {
	return s.fs.Remove(key)
}
