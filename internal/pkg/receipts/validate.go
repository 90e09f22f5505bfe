package receipts

import (
	"fmt"

	"github.com/agistaffers/backoffice/internal/pkg/apperrors"
	"github.com/gabriel-vasile/mimetype"
)

// MaxSize is the largest receipt accepted.
const MaxSize = 10 << 20

var allowedMime = map[string]string{
	"application/pdf": ".pdf",
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
}

// Sniff detects the receipt type from its content; the client-supplied
// filename and content type are ignored. Returns the mime type and the
// extension used for the stored object.
func Sniff(data []byte) (string, string, error) {
	if len(data) == 0 {
		return "", "", apperrors.Validation("receipt", "is empty")
	}
	if len(data) > MaxSize {
		return "", "", apperrors.Validation("receipt", fmt.Sprintf("must not exceed %d MiB", MaxSize>>20))
	}

	detected := mimetype.Detect(data)
	for m := detected; m != nil; m = m.Parent() {
		if ext, ok := allowedMime[m.String()]; ok {
			return m.String(), ext, nil
		}
	}
	return "", "", apperrors.Validation("receipt", "only PDF, JPEG, PNG or WEBP files are accepted")
}
