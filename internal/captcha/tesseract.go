package captcha

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/otiai10/gosseract/v2"
)

// Engine turns a preprocessed PNG into text.
type Engine interface {
	Recognize(png []byte) (string, error)
}

// Tesseract runs the tesseract library over a single line of text.
type Tesseract struct {
	// TessdataPrefix is the directory holding the language data. Empty
	// uses the library default.
	TessdataPrefix string
	Language       string
}

// NewTesseract builds an engine from the configured OCR path, which may be
// the tesseract executable or its tessdata directory.
func NewTesseract(path string) Tesseract {
	return Tesseract{TessdataPrefix: tessdataPrefix(path), Language: "eng"}
}

func tessdataPrefix(path string) string {
	if path == "" {
		return ""
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return path
	}
	return filepath.Join(filepath.Dir(path), "tessdata")
}

func (t Tesseract) Recognize(png []byte) (string, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if t.TessdataPrefix != "" {
		if err := client.SetTessdataPrefix(t.TessdataPrefix); err != nil {
			return "", fmt.Errorf("set tessdata prefix: %w", err)
		}
	}
	lang := t.Language
	if lang == "" {
		lang = "eng"
	}
	if err := client.SetLanguage(lang); err != nil {
		return "", fmt.Errorf("set language: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_LINE); err != nil {
		return "", fmt.Errorf("set page segmentation: %w", err)
	}
	if err := client.SetImageFromBytes(png); err != nil {
		return "", fmt.Errorf("load image: %w", err)
	}
	return client.Text()
}
