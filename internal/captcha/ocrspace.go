package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// OCRSpaceURL is the hosted OCR endpoint.
const OCRSpaceURL = "https://api.ocr.space/parse/image"

// OCRSpace recognizes text through the OCR.space HTTP API. It is used
// instead of a local tesseract install when an API key is configured.
type OCRSpace struct {
	APIKey   string
	Endpoint string
	Client   *http.Client
}

// NewOCRSpace returns an engine for apiKey with a 10 second timeout.
func NewOCRSpace(apiKey string) *OCRSpace {
	return &OCRSpace{
		APIKey:   apiKey,
		Endpoint: OCRSpaceURL,
		Client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type ocrSpaceResponse struct {
	ParsedResults []struct {
		ParsedText string `json:"ParsedText"`
	} `json:"ParsedResults"`
	IsErroredOnProcessing bool     `json:"IsErroredOnProcessing"`
	ErrorMessage          []string `json:"ErrorMessage"`
}

func (o *OCRSpace) Recognize(png []byte) (string, error) {
	if o.APIKey == "" {
		return "", errors.New("missing OCR.space api key")
	}

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for k, v := range map[string]string{
		"apikey":    o.APIKey,
		"language":  "eng",
		"scale":     "true",
		"OCREngine": "2",
	} {
		if err := w.WriteField(k, v); err != nil {
			return "", err
		}
	}
	part, err := w.CreateFormFile("file", "captcha.png")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(png); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	endpoint := o.Endpoint
	if endpoint == "" {
		endpoint = OCRSpaceURL
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, endpoint, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	client := o.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ocr request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ocr request failed: %s", resp.Status)
	}

	var result ocrSpaceResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode ocr response: %w", err)
	}
	if result.IsErroredOnProcessing {
		return "", fmt.Errorf("ocr failed: %s", strings.Join(result.ErrorMessage, "; "))
	}
	if len(result.ParsedResults) == 0 {
		return "", errors.New("no text found")
	}
	return strings.TrimSpace(result.ParsedResults[0].ParsedText), nil
}
