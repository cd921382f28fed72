package captcha

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"strings"

	_ "image/gif"
	_ "image/jpeg"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Threshold is the gray level separating glyphs from background.
const Threshold = 127

// Image is a captcha picture as it was found on the page: exactly one of the
// fields is set.
type Image struct {
	Data    []byte
	Path    string
	DataURI string
}

// FromSource interprets an <img src> value or a local path.
func FromSource(src string) Image {
	if strings.HasPrefix(src, "data:") {
		return Image{DataURI: src}
	}
	return Image{Path: src}
}

// Bytes returns the encoded image.
func (img Image) Bytes() ([]byte, error) {
	switch {
	case len(img.Data) > 0:
		return img.Data, nil
	case img.DataURI != "":
		return decodeDataURI(img.DataURI)
	case img.Path != "":
		data, err := os.ReadFile(img.Path)
		if err != nil {
			return nil, fmt.Errorf("read captcha image: %w", err)
		}
		return data, nil
	}
	return nil, errors.New("empty captcha image")
}

func decodeDataURI(uri string) ([]byte, error) {
	_, payload, ok := strings.Cut(uri, ",")
	if !ok {
		return nil, errors.New("invalid data uri")
	}
	header := uri[:len(uri)-len(payload)-1]
	if !strings.HasSuffix(header, ";base64") {
		return []byte(payload), nil
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return data, nil
}

// Binarize converts img to grayscale and thresholds it, dark pixels
// becoming white and light ones black.
func Binarize(img image.Image) *image.NRGBA {
	gray := imaging.Grayscale(img)
	return imaging.AdjustFunc(gray, func(c color.NRGBA) color.NRGBA {
		if c.R > Threshold {
			return color.NRGBA{A: 255}
		}
		return color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	})
}

// Decode parses any of the formats the site serves captchas in.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode captcha image: %w", err)
	}
	return img, nil
}

// Preprocess decodes data and returns the binarized picture as PNG.
func Preprocess(data []byte) ([]byte, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, Binarize(img)); err != nil {
		return nil, fmt.Errorf("encode captcha image: %w", err)
	}
	return buf.Bytes(), nil
}
