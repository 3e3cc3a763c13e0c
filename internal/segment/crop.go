package segment

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// CropToHalf returns a copy of the single-page document pagePDF whose crop
// box covers the top or bottom half of the page, split exactly at half
// height over the full width. RegionFull returns pagePDF unchanged.
func CropToHalf(pagePDF []byte, region Region) ([]byte, error) {
	if region == RegionFull {
		return pagePDF, nil
	}
	if !HasSignature(pagePDF) {
		return nil, &ValidationError{Reason: "missing %PDF- signature"}
	}

	conf := relaxedConfig()
	dims, err := api.PageDims(bytes.NewReader(pagePDF), conf)
	if err != nil {
		return nil, fmt.Errorf("page dimensions: %w", err)
	}
	if len(dims) == 0 {
		return nil, &ValidationError{Reason: "document has no pages"}
	}

	box, err := model.ParseBox(halfBox(dims[0], region), types.POINTS)
	if err != nil {
		return nil, fmt.Errorf("crop box: %w", err)
	}

	var out bytes.Buffer
	if err := api.Crop(bytes.NewReader(pagePDF), &out, nil, box, conf); err != nil {
		return nil, fmt.Errorf("crop: %w", err)
	}
	return out.Bytes(), nil
}

// halfBox renders the absolute crop rectangle "[llx lly urx ury]". PDF user
// space grows upwards, so the top half starts at h/2.
func halfBox(d types.Dim, region Region) string {
	w, h := d.Width, d.Height
	if region == RegionTop {
		return fmt.Sprintf("[0 %.2f %.2f %.2f]", h/2, w, h)
	}
	return fmt.Sprintf("[0 0 %.2f %.2f]", w, h/2)
}

// Merge concatenates documents in order into one PDF. A single document is
// returned as is.
func Merge(docs [][]byte) ([]byte, error) {
	switch len(docs) {
	case 0:
		return nil, &ValidationError{Reason: "nothing to merge"}
	case 1:
		return docs[0], nil
	}

	readers := make([]io.ReadSeeker, len(docs))
	for i, d := range docs {
		readers[i] = bytes.NewReader(d)
	}

	var out bytes.Buffer
	if err := api.MergeRaw(readers, &out, false, relaxedConfig()); err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	return out.Bytes(), nil
}
