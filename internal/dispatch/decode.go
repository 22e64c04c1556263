package dispatch

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"perceptor/pkg/types"
)

// DecodeImage turns a base64 frame payload into image bytes. A data URL
// prefix ("data:image/jpeg;base64,") is stripped first. The bytes must
// carry a JPEG or PNG header.
func DecodeImage(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, types.ErrEmptyImage
	}
	if strings.HasPrefix(payload, "data:") {
		comma := strings.IndexByte(payload, ',')
		if comma < 0 {
			return nil, fmt.Errorf("%w: malformed data URL", types.ErrInvalidImage)
		}
		payload = payload[comma+1:]
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidImage, err)
	}
	if len(data) == 0 {
		return nil, types.ErrEmptyImage
	}

	// TECHNICAL DISCOVERY: DecodeConfig reads only the header, so malformed
	// frames are rejected without paying for a full decode
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidImage, err)
	}
	return data, nil
}
