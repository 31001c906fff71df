// Package activecampaign is the marketing CRM client. The reconciliation
// engine treats the CRM as an opaque per-contact tag store; this package
// covers exactly that surface: list a contact's tags, apply, remove, and
// get-or-create tags by name.
package activecampaign

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ignite/engagement-sync/internal/domain"
	"github.com/ignite/engagement-sync/internal/pkg/httpretry"
)

// Client is the ActiveCampaign API client
type Client struct {
	baseURL    string
	apiToken   string
	httpClient httpretry.HTTPDoer

	mu         sync.Mutex
	contactIDs map[string]string // email -> contact id
	tagIDs     map[string]string // tag name -> tag id
}

// NewClient creates a new ActiveCampaign API client
func NewClient(cfg Config) *Client {
	return &Client{
		baseURL:  cfg.BaseURL,
		apiToken: cfg.APIToken,
		httpClient: httpretry.New(&http.Client{
			Timeout: 30 * time.Second,
		}, 3),
		contactIDs: make(map[string]string),
		tagIDs:     make(map[string]string),
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing)
func (c *Client) SetHTTPClient(client httpretry.HTTPDoer) {
	c.httpClient = client
}

// doRequest performs an authenticated request against the v3 API.
func (c *Client) doRequest(ctx context.Context, method, endpoint string, body interface{}) (int, []byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Token", c.apiToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, &domain.RemoteUnavailableError{Op: method + " " + endpoint, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, &domain.RemoteUnavailableError{Op: method + " " + endpoint, Err: err}
	}

	return resp.StatusCode, respBody, nil
}

// resolveContact returns the CRM contact id for an email, using a
// client-local cache so one reconciliation run looks each contact up once.
func (c *Client) resolveContact(ctx context.Context, email string) (string, error) {
	c.mu.Lock()
	id, ok := c.contactIDs[email]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	endpoint := "/api/3/contacts?email=" + url.QueryEscape(email)
	status, body, err := c.doRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", &domain.RemoteUnavailableError{
			Op:  "GET " + endpoint,
			Err: fmt.Errorf("status %d: %s", status, truncate(body)),
		}
	}

	var resp contactListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse contact response: %w", err)
	}
	for _, ct := range resp.Contacts {
		if ct.Email == email {
			c.mu.Lock()
			c.contactIDs[email] = ct.ID
			c.mu.Unlock()
			return ct.ID, nil
		}
	}

	// Unknown contact: create it. Members ingested from the platforms may not
	// exist in the CRM yet; tagging implies a contact.
	var createReq contactCreateRequest
	createReq.Contact.Email = email
	status, body, err = c.doRequest(ctx, http.MethodPost, "/api/3/contacts", createReq)
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return "", &domain.RemoteUnavailableError{
			Op:  "POST /api/3/contacts",
			Err: fmt.Errorf("status %d: %s", status, truncate(body)),
		}
	}
	var created contactCreateResponse
	if err := json.Unmarshal(body, &created); err != nil {
		return "", fmt.Errorf("failed to parse contact create response: %w", err)
	}
	c.mu.Lock()
	c.contactIDs[email] = created.Contact.ID
	c.mu.Unlock()
	return created.Contact.ID, nil
}

// ListContactTags returns the full set of tag names on the contact. The
// caller owns all namespace filtering; this is the raw remote state.
func (c *Client) ListContactTags(ctx context.Context, email string) ([]string, error) {
	contactID, err := c.resolveContact(ctx, email)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("/api/3/contacts/%s/contactTags?include=tag", contactID)
	status, body, err := c.doRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &domain.RemoteUnavailableError{
			Op:  "GET " + endpoint,
			Err: fmt.Errorf("status %d: %s", status, truncate(body)),
		}
	}

	var resp contactTagListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse contact tags response: %w", err)
	}

	names := make([]string, 0, len(resp.Tags))
	for _, t := range resp.Tags {
		names = append(names, t.Tag)
		c.mu.Lock()
		c.tagIDs[t.Tag] = t.ID
		c.mu.Unlock()
	}
	return names, nil
}

// GetOrCreateTag looks a tag up by exact name and creates it when absent.
// A duplicate-create response from the CRM is treated as success-with-lookup,
// never as an error, so concurrent automations cannot break pre-creation.
func (c *Client) GetOrCreateTag(ctx context.Context, name string) (string, error) {
	if id, err := c.lookupTag(ctx, name); err != nil {
		return "", err
	} else if id != "" {
		return id, nil
	}

	var createReq tagCreateRequest
	createReq.Tag.Tag = name
	createReq.Tag.TagType = "contact"
	status, body, err := c.doRequest(ctx, http.MethodPost, "/api/3/tags", createReq)
	if err != nil {
		return "", err
	}
	switch {
	case status == http.StatusCreated || status == http.StatusOK:
		var created tagCreateResponse
		if err := json.Unmarshal(body, &created); err != nil {
			return "", fmt.Errorf("failed to parse tag create response: %w", err)
		}
		c.mu.Lock()
		c.tagIDs[name] = created.Tag.ID
		c.mu.Unlock()
		return created.Tag.ID, nil
	case status == http.StatusUnprocessableEntity:
		// Duplicate create: the tag appeared between lookup and create.
		id, err := c.lookupTag(ctx, name)
		if err != nil {
			return "", err
		}
		if id == "" {
			return "", fmt.Errorf("tag %q reported duplicate but lookup found nothing", name)
		}
		return id, nil
	default:
		return "", &domain.RemoteUnavailableError{
			Op:  "POST /api/3/tags",
			Err: fmt.Errorf("status %d: %s", status, truncate(body)),
		}
	}
}

// lookupTag finds a tag id by exact name, or "" when absent.
func (c *Client) lookupTag(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	id, ok := c.tagIDs[name]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	endpoint := "/api/3/tags?search=" + url.QueryEscape(name)
	status, body, err := c.doRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", &domain.RemoteUnavailableError{
			Op:  "GET " + endpoint,
			Err: fmt.Errorf("status %d: %s", status, truncate(body)),
		}
	}

	var resp tagListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse tag search response: %w", err)
	}
	// Search is a substring match on the CRM side; require exact name.
	for _, t := range resp.Tags {
		if t.Tag == name {
			c.mu.Lock()
			c.tagIDs[name] = t.ID
			c.mu.Unlock()
			return t.ID, nil
		}
	}
	return "", nil
}

// ApplyTag attaches the named tag to the contact. Applying an already-present
// tag is a no-op on the CRM side, keeping the call idempotent.
func (c *Client) ApplyTag(ctx context.Context, email, name string) error {
	contactID, err := c.resolveContact(ctx, email)
	if err != nil {
		return err
	}
	tagID, err := c.lookupTag(ctx, name)
	if err != nil {
		return err
	}
	if tagID == "" {
		return fmt.Errorf("tag %q does not exist in the CRM", name)
	}

	var req contactTagCreateRequest
	req.ContactTag.Contact = contactID
	req.ContactTag.Tag = tagID
	status, body, err := c.doRequest(ctx, http.MethodPost, "/api/3/contactTags", req)
	if err != nil {
		return err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return &domain.RemoteUnavailableError{
			Op:  "POST /api/3/contactTags",
			Err: fmt.Errorf("status %d: %s", status, truncate(body)),
		}
	}
	return nil
}

// RemoveTag detaches the named tag from the contact. A tag that is already
// absent counts as success; the remote state is what reconciliation wanted.
func (c *Client) RemoveTag(ctx context.Context, email, name string) error {
	contactID, err := c.resolveContact(ctx, email)
	if err != nil {
		return err
	}

	assocID, err := c.findAssociation(ctx, contactID, name)
	if err != nil {
		return err
	}
	if assocID == "" {
		return nil
	}

	endpoint := "/api/3/contactTags/" + assocID
	status, body, err := c.doRequest(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent && status != http.StatusNotFound {
		return &domain.RemoteUnavailableError{
			Op:  "DELETE " + endpoint,
			Err: fmt.Errorf("status %d: %s", status, truncate(body)),
		}
	}
	return nil
}

// findAssociation locates the contactTag association id for a tag name, or
// "" when the contact does not carry the tag.
func (c *Client) findAssociation(ctx context.Context, contactID, name string) (string, error) {
	endpoint := fmt.Sprintf("/api/3/contacts/%s/contactTags?include=tag", contactID)
	status, body, err := c.doRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", &domain.RemoteUnavailableError{
			Op:  "GET " + endpoint,
			Err: fmt.Errorf("status %d: %s", status, truncate(body)),
		}
	}

	var resp contactTagListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse contact tags response: %w", err)
	}

	tagID := ""
	for _, t := range resp.Tags {
		if t.Tag == name {
			tagID = t.ID
			break
		}
	}
	if tagID == "" {
		return "", nil
	}
	for _, ct := range resp.ContactTags {
		if ct.Tag == tagID {
			return ct.ID, nil
		}
	}
	return "", nil
}

// truncate caps response bodies embedded in error messages.
func truncate(body []byte) string {
	const max = 300
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
