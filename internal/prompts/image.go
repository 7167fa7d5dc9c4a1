package prompts

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	inlineImageMarker  = "data:"
	defaultContentType = "image/jpeg"
	imageDirectory     = "images"
)

var errMalformedInlineImage = errors.New("prompts: malformed inline image")

var imageExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/gif":  "gif",
	"image/avif": "avif",
}

type inlineImage struct {
	contentType string
	data        []byte
}

func isInlineImage(imageURL string) bool {
	return strings.HasPrefix(imageURL, inlineImageMarker)
}

// decodeInlineImage parses a data URL of the form data:<mime>;base64,<payload>.
func decodeInlineImage(raw string) (inlineImage, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(raw, inlineImageMarker), ",")
	if !ok {
		return inlineImage{}, fmt.Errorf("%w: missing payload separator", errMalformedInlineImage)
	}

	parameters := strings.Split(header, ";")
	contentType := strings.ToLower(strings.TrimSpace(parameters[0]))
	if contentType == "" {
		contentType = defaultContentType
	}
	if !strings.HasPrefix(contentType, "image/") {
		return inlineImage{}, fmt.Errorf("%w: unsupported media type %q", errMalformedInlineImage, contentType)
	}

	isBase64 := false
	for _, parameter := range parameters[1:] {
		if strings.EqualFold(strings.TrimSpace(parameter), "base64") {
			isBase64 = true
		}
	}
	if !isBase64 {
		return inlineImage{}, fmt.Errorf("%w: payload is not base64", errMalformedInlineImage)
	}

	encoded := strings.TrimSpace(payload)
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
	}
	if err != nil {
		return inlineImage{}, fmt.Errorf("%w: %v", errMalformedInlineImage, err)
	}
	if len(data) == 0 {
		return inlineImage{}, fmt.Errorf("%w: empty payload", errMalformedInlineImage)
	}
	return inlineImage{contentType: contentType, data: data}, nil
}

// imageObjectPath derives a per-upload object path so successive uploads for
// the same prompt never overwrite each other.
func imageObjectPath(promptID string, now time.Time, contentType string) string {
	extension, ok := imageExtensions[contentType]
	if !ok {
		extension = imageExtensions[defaultContentType]
	}
	return fmt.Sprintf("%s/%s-%d.%s", imageDirectory, sanitizePathSegment(promptID), now.UnixMilli(), extension)
}

func sanitizePathSegment(value string) string {
	var builder strings.Builder
	builder.Grow(len(value))
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteByte('_')
		}
	}
	return builder.String()
}
