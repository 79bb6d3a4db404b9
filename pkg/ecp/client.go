// Package ecp is a small HTTP client for a Roku device's External
// Control Protocol on the local network: a small, timeout-bound
// net/http.Client, non-2xx responses mapped to errors, no retry logic.
package ecp

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultPort = 8060

// Client issues ECP requests against one configured Roku device.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient builds a Client targeting host (a bare hostname or IP; the
// ECP port is appended automatically unless host already carries one).
func NewClient(host string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	target := strings.TrimSpace(host)
	if !strings.Contains(target, ":") {
		target = fmt.Sprintf("%s:%d", target, defaultPort)
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    "http://" + target,
	}
}

// Launch starts channelID with the given content and media type, e.g.
// POST /launch/12?contentId=abc&mediaType=episode.
func (c *Client) Launch(ctx context.Context, channelID int, contentID, mediaType string) error {
	values := url.Values{}
	if contentID != "" {
		values.Set("contentId", contentID)
	}
	if mediaType != "" {
		values.Set("mediaType", mediaType)
	}
	path := fmt.Sprintf("/launch/%d", channelID)
	if encoded := values.Encode(); encoded != "" {
		path += "?" + encoded
	}
	return c.post(ctx, path)
}

// KeyPress issues a single remote keypress, e.g. POST /keypress/Home.
func (c *Client) KeyPress(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("ecp: key is required")
	}
	return c.post(ctx, "/keypress/"+url.PathEscape(key))
}

// DeviceInfo queries GET /query/device-info.
type DeviceInfo struct {
	XMLName      xml.Name `xml:"device-info"`
	ModelName    string   `xml:"model-name"`
	FriendlyName string   `xml:"friendly-device-name"`
	SerialNumber string   `xml:"serial-number"`
	SoftwareVer  string   `xml:"software-version"`
	NetworkType  string   `xml:"network-type"`
}

// DeviceInfo fetches the device's identifying information.
func (c *Client) DeviceInfo(ctx context.Context) (DeviceInfo, error) {
	var info DeviceInfo
	if err := c.getXML(ctx, "/query/device-info", &info); err != nil {
		return DeviceInfo{}, err
	}
	return info, nil
}

// ActiveApp queries GET /query/active-app.
type ActiveApp struct {
	XMLName xml.Name `xml:"active-app"`
	App     struct {
		ID      string `xml:"id,attr"`
		Type    string `xml:"type,attr"`
		Version string `xml:"version,attr"`
		Name    string `xml:",chardata"`
	} `xml:"app"`
}

// ActiveApp fetches the currently foregrounded app or channel.
func (c *Client) ActiveApp(ctx context.Context) (ActiveApp, error) {
	var app ActiveApp
	if err := c.getXML(ctx, "/query/active-app", &app); err != nil {
		return ActiveApp{}, err
	}
	return app, nil
}

func (c *Client) post(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("ecp: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ecp: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("ecp: %s returned status %d", path, resp.StatusCode)
	}
	return nil
}

func (c *Client) getXML(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("ecp: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ecp: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("ecp: %s returned status %d", path, resp.StatusCode)
	}
	if err := xml.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("ecp: decode %s response: %w", path, err)
	}
	return nil
}
