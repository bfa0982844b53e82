// Package ocr turns an uploaded image into mind-map nodes: it calls an
// external text-recognition service and lays the recognized lines out
// on a grid for the canvas.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"mindloom/api/internal/store"
	"mindloom/api/internal/util"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// ExtractLines posts the image to the recognition service and returns
// the non-blank lines of recognized text.
func (c *Client) ExtractLines(ctx context.Context, image []byte, filename string) ([]string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", filename)
	if err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/recognize", &body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call ocr service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("ocr service returned %d: %s", resp.StatusCode, snippet)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode ocr response: %w", err)
	}
	return SplitLines(out.Text), nil
}

// SplitLines breaks recognized text into trimmed, non-empty lines.
func SplitLines(text string) []string {
	lines := []string{}
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return lines
}

// Grid spacing for imported nodes, three columns wide.
const (
	gridOriginX = 100
	gridOriginY = 100
	gridStepX   = 200
	gridStepY   = 150
	gridCols    = 3
)

// NodesFromLines maps each text line to a custom node placed on the
// import grid.
func NodesFromLines(lines []string) []store.Node {
	nodes := make([]store.Node, 0, len(lines))
	for i, line := range lines {
		nodes = append(nodes, store.Node{
			ID:   util.NewID("node"),
			Type: "custom",
			Data: store.NodeData{Label: line},
			Position: store.Position{
				X: float64(gridOriginX + (i%gridCols)*gridStepX),
				Y: float64(gridOriginY + (i/gridCols)*gridStepY),
			},
		})
	}
	return nodes
}
