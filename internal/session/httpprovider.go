package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPProvider talks to the meeting service's JSON API.
//
// Safe for concurrent use.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// HTTPProviderConfig configures the meeting service client.
type HTTPProviderConfig struct {
	// BaseURL is the meeting service endpoint (required).
	BaseURL string
	// APIKey authenticates this server to the meeting service (required).
	APIKey string
}

func NewHTTPProvider(cfg HTTPProviderConfig) (*HTTPProvider, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("provider: base URL is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("provider: API key is required")
	}
	return &HTTPProvider{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (p *HTTPProvider) CreateMeeting(ctx context.Context, externalID, region string) (string, error) {
	var out struct {
		Handle string `json:"handle"`
	}
	err := p.do(ctx, http.MethodPost, "/v1/meetings", map[string]string{
		"external_id": externalID,
		"region":      region,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.Handle, nil
}

func (p *HTTPProvider) CreateAttendee(ctx context.Context, meetingHandle, externalUserID string) (*AttendeeCredentials, error) {
	var out struct {
		AttendeeID string `json:"attendee_id"`
		JoinToken  string `json:"join_token"`
	}
	path := "/v1/meetings/" + url.PathEscape(meetingHandle) + "/attendees"
	err := p.do(ctx, http.MethodPost, path, map[string]string{
		"external_user_id": externalUserID,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &AttendeeCredentials{AttendeeID: out.AttendeeID, JoinToken: out.JoinToken}, nil
}

func (p *HTTPProvider) GetMeeting(ctx context.Context, meetingHandle string) (string, error) {
	var out struct {
		Handle string `json:"handle"`
	}
	path := "/v1/meetings/" + url.PathEscape(meetingHandle)
	if err := p.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	return out.Handle, nil
}

func (p *HTTPProvider) DeleteMeeting(ctx context.Context, meetingHandle string) error {
	path := "/v1/meetings/" + url.PathEscape(meetingHandle)
	err := p.do(ctx, http.MethodDelete, path, nil, nil)
	if errors.Is(err, ErrMeetingGone) {
		return nil // releasing an already-gone meeting is fine
	}
	return err
}

func (p *HTTPProvider) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return ErrMeetingGone
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("provider: status %d: %s", resp.StatusCode, msg)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
