package orders

import (
	"strings"
	"time"

	"github.com/fencecraft/crmbridge/internal/platform/httpx"
)

// ReturnInput is the user-editable part of a return entry.
type ReturnInput struct {
	ReleaseDocument string  `json:"releaseDocument" validate:"max=64"`
	Quantity        float64 `json:"quantity" validate:"gte=0"`
	Reason          string  `json:"reason" validate:"max=2000"`
	Date            string  `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

// ValidateReturn checks a return against the original item: the quantity may
// not exceed the ordered quantity and a positive quantity needs a reason.
func ValidateReturn(in ReturnInput, original OrderItem) error {
	if err := httpx.Validate(in); err != nil {
		return err
	}
	fields := map[string]string{}
	if in.Quantity > original.Quantity {
		fields["quantity"] = "lte"
	}
	if in.Quantity > 0 && strings.TrimSpace(in.Reason) == "" {
		fields["reason"] = "required"
	}
	if len(fields) > 0 {
		return httpx.NewValidationError(fields)
	}
	return nil
}

// ApplyReturn builds the stored entry from validated input, keeping images of
// the previous entry.
func ApplyReturn(in ReturnInput, original OrderItem, previous *ReturnDataItem, now time.Time) ReturnDataItem {
	entry := ReturnDataItem{
		ReleaseDocument: strings.TrimSpace(in.ReleaseDocument),
		Item:            original,
		Quantity:        in.Quantity,
		Reason:          strings.TrimSpace(in.Reason),
		Date:            in.Date,
		Images:          []ReturnImage{},
	}
	if entry.Date == "" {
		entry.Date = now.Format("2006-01-02")
	}
	if previous != nil && previous.Images != nil {
		entry.Images = previous.Images
	}
	return entry
}

// RemoveImage drops an image from a return entry and reports whether it was present.
func RemoveImage(entry ReturnDataItem, fileID int64) (ReturnDataItem, bool) {
	images := make([]ReturnImage, 0, len(entry.Images))
	found := false
	for _, img := range entry.Images {
		if img.FileID == fileID {
			found = true
			continue
		}
		images = append(images, img)
	}
	entry.Images = images
	return entry, found
}
