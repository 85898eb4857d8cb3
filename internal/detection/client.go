// Package detection provides HTTP clients for the inference services that
// back the analysis stages: cascade classification, face embedding and
// object detection. Each client caches service health and reports a typed
// error when its backend cannot serve.
package detection

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"
)

// ErrUnavailable reports that a detection service cannot be reached or has
// no model loaded. Callers treat it as permanent until the service comes
// back and a health probe succeeds.
var ErrUnavailable = errors.New("detection service unavailable")

// healthCacheTTL bounds how often a client re-probes /health on the hot path.
const healthCacheTTL = 30 * time.Second

// ServiceHealth is the health envelope shared by the detection services.
type ServiceHealth struct {
	Status      string `json:"status"`
	Device      string `json:"device"`
	ModelLoaded bool   `json:"model_loaded"`
}

// postImage uploads a JPEG frame plus optional form fields to a detection
// endpoint and returns the raw response body. Transport-level failures are
// wrapped in ErrUnavailable; HTTP error statuses are returned as plain
// errors so callers can tell a dead service from a bad request.
func postImage(client *http.Client, url string, imageData []byte, fields map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", name, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart form: %w", err)
	}

	req, err := http.NewRequest("POST", url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detection request returned status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
