// Package mistral is a minimal client for Mistral's document OCR API. It
// implements the document and image readers used by ingestion.
package mistral

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tbourn/go-rag-backend/internal/config"
)

// Defaults applied by New when the config leaves them empty.
const (
	DefaultBaseURL = "https://api.mistral.ai/v1"
	DefaultModel   = "mistral-ocr-latest"
	DefaultTimeout = 5 * time.Minute
)

// Client calls the Mistral files and OCR endpoints. Every call is a single
// attempt.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	model   string
}

// New builds a client from the OCR section of the config.
func New(cfg config.OCRConfig) *Client {
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c.http = &http.Client{Timeout: timeout}
	return c
}

// Image is an embedded image's bounding box on a page.
type Image struct {
	ID           string `json:"id"`
	TopLeftX     int    `json:"top_left_x"`
	TopLeftY     int    `json:"top_left_y"`
	BottomRightX int    `json:"bottom_right_x"`
	BottomRightY int    `json:"bottom_right_y"`
}

// Page is one OCR'd page.
type Page struct {
	Index    int     `json:"index"`
	Markdown string  `json:"markdown"`
	Images   []Image `json:"images"`
}

type ocrResponse struct {
	Pages []Page `json:"pages"`
}

type ocrDocument struct {
	Type        string `json:"type"`
	DocumentURL string `json:"document_url,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}

type ocrRequest struct {
	Model              string      `json:"model"`
	Document           ocrDocument `json:"document"`
	IncludeImageBase64 bool        `json:"include_image_base64,omitempty"`
}

// ReadDocument uploads the file, obtains a signed URL for it and runs OCR
// over every page. Page markdown is concatenated and each embedded image is
// replaced by a positional marker.
func (c *Client) ReadDocument(ctx context.Context, name string, data []byte) (string, error) {
	fileID, err := c.upload(ctx, name, data)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	signed, err := c.signedURL(ctx, fileID)
	if err != nil {
		return "", fmt.Errorf("signed url: %w", err)
	}
	pages, err := c.ocr(ctx, ocrRequest{
		Model:              c.model,
		Document:           ocrDocument{Type: "document_url", DocumentURL: signed},
		IncludeImageBase64: true,
	})
	if err != nil {
		return "", err
	}
	return FormatPages(pages), nil
}

// ReadImage sends the image inline as a data URL and returns the first
// page's markdown. No pages means no text.
func (c *Client) ReadImage(ctx context.Context, mimeType string, data []byte) (string, error) {
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
	pages, err := c.ocr(ctx, ocrRequest{
		Model:    c.model,
		Document: ocrDocument{Type: "image_url", ImageURL: dataURL},
	})
	if err != nil {
		return "", err
	}
	if len(pages) == 0 {
		return "", nil
	}
	return pages[0].Markdown, nil
}

// FormatPages renders OCR pages as text. Markers are 1-based:
//
//	[IMAGE 1 ON PAGE 2] coordinates (10,20)-(110,220)
func FormatPages(pages []Page) string {
	var b strings.Builder
	for p, page := range pages {
		b.WriteString(page.Markdown)
		b.WriteString("\n\n")
		for i, img := range page.Images {
			fmt.Fprintf(&b, "[IMAGE %d ON PAGE %d] coordinates (%d,%d)-(%d,%d)\n\n",
				i+1, p+1, img.TopLeftX, img.TopLeftY, img.BottomRightX, img.BottomRightY)
		}
	}
	return b.String()
}

func (c *Client) upload(ctx context.Context, name string, data []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("purpose", "ocr"); err != nil {
		return "", err
	}
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/files", mw.FormDataContentType(), &body, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("mistral: upload returned no file id")
	}
	return out.ID, nil
}

func (c *Client) signedURL(ctx context.Context, fileID string) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	if err := c.do(ctx, http.MethodGet, "/files/"+url.PathEscape(fileID)+"/url", "", nil, &out); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", fmt.Errorf("mistral: no signed url for file %s", fileID)
	}
	return out.URL, nil
}

func (c *Client) ocr(ctx context.Context, req ocrRequest) ([]Page, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	var out ocrResponse
	if err := c.do(ctx, http.MethodPost, "/ocr", "application/json", bytes.NewReader(payload), &out); err != nil {
		return nil, err
	}
	return out.Pages, nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("mistral %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
