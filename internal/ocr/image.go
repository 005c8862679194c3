package ocr

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// prepareImage decodes an image, converts it to grayscale and re-encodes it
// as PNG for the recognizer.
func prepareImage(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	gray := imaging.Grayscale(img)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, gray, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}
