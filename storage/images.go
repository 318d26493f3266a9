package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
)

// ErrInvalidImageRef indicates an image reference that does not match the
// expected storage URL shape. The delete is aborted rather than guessing a
// blob path.
var ErrInvalidImageRef = errors.New("invalid image reference")

const imagePrefix = "images/"

// StoredImage describes an uploaded image.
type StoredImage struct {
	URL  string `json:"url"`
	Path string `json:"path"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// ImageStore keeps task images in a blob container.
type ImageStore struct {
	client    *azblob.Client
	container string
	now       func() time.Time
}

// NewImageStore creates an ImageStore from the given connection string.
func NewImageStore(connStr, container string) (*ImageStore, error) {
	client, err := azblob.NewClientFromConnectionString(connStr, nil)
	if err != nil {
		return nil, err
	}
	return &ImageStore{client: client, container: container, now: time.Now}, nil
}

// Upload stores the bytes under a timestamped name derived from the
// suggested one and returns the resolvable URL plus the blob path.
func (s *ImageStore) Upload(ctx context.Context, data []byte, suggestedName, contentType string) (StoredImage, error) {
	name := sanitizeName(suggestedName)
	path := fmt.Sprintf("%s%d_%s", imagePrefix, s.now().UnixMilli(), name)

	var opts azblob.UploadBufferOptions
	if contentType != "" {
		opts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: &contentType}
	}
	if _, err := s.client.UploadBuffer(ctx, s.container, path, data, &opts); err != nil {
		return StoredImage{}, err
	}
	return StoredImage{
		URL:  strings.TrimSuffix(s.client.URL(), "/") + "/" + s.container + "/" + path,
		Path: path,
		Name: name,
		Size: int64(len(data)),
	}, nil
}

// Delete removes the blob an image reference points at. References that do
// not match the expected container URL shape fail with ErrInvalidImageRef
// and no deletion is attempted.
func (s *ImageStore) Delete(ctx context.Context, ref string) error {
	path, err := s.resolvePath(ref)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteBlob(ctx, s.container, path, nil)
	return err
}

// resolvePath extracts the in-container blob path from a full URL or a bare
// path reference.
func (s *ImageStore) resolvePath(ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("%w: empty reference", ErrInvalidImageRef)
	}
	path := ref
	if strings.Contains(ref, "://") {
		u, err := url.Parse(ref)
		if err != nil {
			return "", fmt.Errorf("%w: %q", ErrInvalidImageRef, ref)
		}
		escaped := strings.TrimPrefix(u.EscapedPath(), "/")
		unescaped, err := url.PathUnescape(escaped)
		if err != nil {
			return "", fmt.Errorf("%w: %q", ErrInvalidImageRef, ref)
		}
		rest, ok := strings.CutPrefix(unescaped, s.container+"/")
		if !ok {
			return "", fmt.Errorf("%w: %q is outside container %q", ErrInvalidImageRef, ref, s.container)
		}
		path = rest
	}
	if !strings.HasPrefix(path, imagePrefix) {
		return "", fmt.Errorf("%w: %q is not an uploaded image path", ErrInvalidImageRef, ref)
	}
	return path, nil
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "image"
	}
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	return name
}
