// ABOUTME: Image upload port and data-URI decoding
// ABOUTME: Messages and profile pictures arrive as base64 data URIs and leave as URLs

package blob

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// DefaultMaxBytes is the largest decoded image accepted (5MB).
const DefaultMaxBytes = 5 * 1024 * 1024

var (
	// ErrInvalidImage is returned for payloads that are not a base64 image data URI.
	ErrInvalidImage = errors.New("invalid image")
	// ErrTooLarge is returned when the decoded image exceeds the size limit.
	ErrTooLarge = errors.New("image too large")
)

// Uploader stores an image and returns the URL it can be fetched from.
type Uploader interface {
	Upload(ctx context.Context, dataURI string) (string, error)
}

// extensions maps accepted content types to file extensions.
var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Image is a decoded upload.
type Image struct {
	ContentType string
	Data        []byte
}

// Ext returns the file extension for the image's content type.
func (i *Image) Ext() string {
	return extensions[i.ContentType]
}

// DecodeDataURI parses "data:<type>;base64,<payload>". The declared type must
// be a supported image type and must agree with the sniffed content.
func DecodeDataURI(uri string, maxBytes int64) (*Image, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, fmt.Errorf("%w: expected a data URI", ErrInvalidImage)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, fmt.Errorf("%w: missing payload", ErrInvalidImage)
	}
	contentType, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return nil, fmt.Errorf("%w: payload must be base64", ErrInvalidImage)
	}
	contentType = strings.ToLower(contentType)
	if _, ok := extensions[contentType]; !ok {
		return nil, fmt.Errorf("%w: unsupported type %q", ErrInvalidImage, contentType)
	}

	if maxBytes > 0 && int64(base64.StdEncoding.DecodedLen(len(payload))) > maxBytes+2 {
		return nil, ErrTooLarge
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, ErrTooLarge
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidImage)
	}

	if sniffed := http.DetectContentType(data); sniffed != contentType {
		return nil, fmt.Errorf("%w: declared %s but content is %s", ErrInvalidImage, contentType, sniffed)
	}
	return &Image{ContentType: contentType, Data: data}, nil
}
