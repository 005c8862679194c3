package ocr

import (
	"bytes"
	"image"
	_ "image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepareImageGrayscalePNG(t *testing.T) {
	out, err := prepareImage(pngOfWidth(t, 3))
	require.NoError(t, err)

	img, format, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, image.Rect(0, 0, 3, 4), img.Bounds())

	r, g, b, _ := img.At(0, 0).RGBA()
	assert.Equal(t, r, g)
	assert.Equal(t, g, b)
	assert.NotZero(t, r)
}

func TestPrepareImageRejectsGarbage(t *testing.T) {
	_, err := prepareImage([]byte("not an image"))
	assert.Error(t, err)
}
