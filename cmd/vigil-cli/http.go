package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httputil"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// client carries the connection settings shared by every command.
type client struct {
	base  string
	token string
	http  *http.Client
	debug bool
}

func newClient(base, token string, timeout int, debug bool) *client {
	return &client{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: time.Duration(timeout) * time.Second},
		debug: debug,
	}
}

// do attaches the bearer token and optional request/response dumps around
// the underlying round trip.
func (c *client) do(req *http.Request) (*http.Response, error) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.debug {
		if dump, err := httputil.DumpRequestOut(req, true); err == nil {
			fmt.Fprintf(os.Stderr, "> %s\n", dump)
		}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if c.debug {
		if dump, err := httputil.DumpResponse(resp, true); err == nil {
			fmt.Fprintf(os.Stderr, "< %s\n", dump)
		}
	}
	return resp, nil
}

func (c *client) login(username, password string) error {
	payload, err := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return err
	}
	return c.postJSON("/api/login", payload)
}

func (c *client) getJSON(path string) error {
	req, err := http.NewRequest(http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	return c.printResponse(resp)
}

func (c *client) postJSON(path string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	return c.printResponse(resp)
}

func (c *client) deleteJSON(path string) error {
	req, err := http.NewRequest(http.MethodDelete, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	return c.printResponse(resp)
}

func (c *client) setFaceReference(imagePath, name string) error {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("face_image", filepath.Base(imagePath))
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if name != "" {
		if err := writer.WriteField("face_name", name); err != nil {
			return err
		}
	}
	if err := writer.Close(); err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, c.base+"/api/faces/reference", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	return c.printResponse(resp)
}

func (c *client) snapshot(cameraID int, stage, out string) error {
	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/snapshot/%d/%s", c.base, cameraID, stage), nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	frame, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if out == "" {
		_, err = os.Stdout.Write(frame)
		return err
	}
	if err := os.WriteFile(out, frame, 0644); err != nil {
		return err
	}
	fmt.Printf("wrote %d bytes to %s\n", len(frame), out)
	return nil
}

// printResponse pretty prints JSON bodies and reports API errors with the
// status line plus whatever the server said.
func (c *client) printResponse(resp *http.Response) error {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		os.Stdout.Write(body)
		fmt.Println()
		return nil
	}
	fmt.Println(buf.String())
	return nil
}
