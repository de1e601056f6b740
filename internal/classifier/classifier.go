// Package classifier produces top-k image classifications, either from a
// classifyd-style HTTP service or from a local command.
package classifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"path/filepath"
	"slices"
	"strings"

	"casewatch/internal/jobstate"
)

// Classifier labels one image. The returned slice is ordered by descending
// score and holds at most jobstate.MaxClassifications entries.
type Classifier interface {
	Classify(ctx context.Context, unitID string, image io.Reader) ([]jobstate.Classification, error)
}

// Func adapts a function to the Classifier interface.
type Func func(ctx context.Context, unitID string, image io.Reader) ([]jobstate.Classification, error)

// Classify calls f.
func (f Func) Classify(ctx context.Context, unitID string, image io.Reader) ([]jobstate.Classification, error) {
	return f(ctx, unitID, image)
}

// ErrEmptyImage is returned for zero-byte inputs.
var ErrEmptyImage = errors.New("empty image")

// TopK sorts classes by descending score and keeps the first k. A k outside
// [1, MaxClassifications] keeps MaxClassifications.
func TopK(classes []jobstate.Classification, k int) []jobstate.Classification {
	if k <= 0 || k > jobstate.MaxClassifications {
		k = jobstate.MaxClassifications
	}
	out := slices.Clone(classes)
	slices.SortStableFunc(out, func(a, b jobstate.Classification) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// UnitKey derives the request key for a unit: the file name without its
// extension, which is the item GUID for GUID-named exports.
func UnitKey(unitID string) string {
	base := filepath.Base(strings.ReplaceAll(unitID, `\`, "/"))
	if ext := filepath.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	if base == "" || base == "." || base == "/" {
		return "unit"
	}
	return base
}

// CheckImage reads data far enough to confirm it is a decodable image and
// returns its format name.
func CheckImage(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyImage
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	return format, nil
}
