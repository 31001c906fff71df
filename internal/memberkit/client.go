// Package memberkit is the ingestion adapter for Memberkit, the second
// learning platform. Authentication is a query-string API key and the user
// listing is page-numbered rather than token-paginated.
package memberkit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/engagement-sync/internal/domain"
	"github.com/ignite/engagement-sync/internal/ingest"
	"github.com/ignite/engagement-sync/internal/pkg/httpretry"
)

// Config holds connection settings for the Memberkit API.
type Config struct {
	BaseURL  string
	APIKey   string
	PageSize int
}

// user is the wire shape of one Memberkit user with memberships.
type user struct {
	ID           int          `json:"id"`
	Email        string       `json:"email"`
	FullName     string       `json:"full_name"`
	LastSignInAt *string      `json:"last_sign_in_at"` // RFC3339 or null
	SignInCount  int          `json:"sign_in_count"`
	Memberships  []membership `json:"memberships"`
}

// membership links a user to one classroom.
type membership struct {
	ClassroomID   int     `json:"classroom_id"`
	ClassroomSlug string  `json:"classroom_slug"`
	ClassroomName string  `json:"classroom_name"`
	Status        string  `json:"status"` // active, inactive, expired
	Progress      float64 `json:"progress"`
	CreatedAt     string  `json:"created_at"`
}

// Client is the Memberkit API client. It satisfies ingest.Source.
type Client struct {
	baseURL    string
	apiKey     string
	pageSize   int
	pageDelay  time.Duration
	httpClient httpretry.HTTPDoer
}

// NewClient creates a Memberkit client. pageDelay is the fixed wait between
// page fetches during the bulk pull.
func NewClient(cfg Config, pageDelay time.Duration) *Client {
	return &Client{
		baseURL:   cfg.BaseURL,
		apiKey:    cfg.APIKey,
		pageSize:  cfg.PageSize,
		pageDelay: pageDelay,
		httpClient: httpretry.New(&http.Client{
			Timeout: 30 * time.Second,
		}, 3),
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing)
func (c *Client) SetHTTPClient(client httpretry.HTTPDoer) {
	c.httpClient = client
}

// Name implements ingest.Source.
func (c *Client) Name() string { return "memberkit" }

// FetchRecords pages through the user listing until an empty page. Each
// membership on a user becomes one record; the user's sign-in data carries
// to every one of their memberships.
func (c *Client) FetchRecords(ctx context.Context) ([]ingest.Record, error) {
	var records []ingest.Record

	for page := 1; ; page++ {
		if page > 1 && c.pageDelay > 0 {
			select {
			case <-time.After(c.pageDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		users, err := c.getUsersPage(ctx, page)
		if err != nil {
			return nil, err
		}
		if len(users) == 0 {
			break
		}

		for _, u := range users {
			records = append(records, normalizeUser(u)...)
		}
	}

	log.Printf("Memberkit: fetched %d membership records", len(records))
	return records, nil
}

func (c *Client) getUsersPage(ctx context.Context, page int) ([]user, error) {
	params := url.Values{}
	params.Set("api_key", c.apiKey)
	params.Set("page", strconv.Itoa(page))
	if c.pageSize > 0 {
		params.Set("per_page", strconv.Itoa(c.pageSize))
	}
	endpoint := c.baseURL + "/users?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.RemoteUnavailableError{Op: "GET /users", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.RemoteUnavailableError{Op: "GET /users", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &domain.RemoteUnavailableError{
			Op:  "GET /users",
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(body)),
		}
	}

	var users []user
	if err := json.Unmarshal(body, &users); err != nil {
		return nil, fmt.Errorf("failed to parse users page: %w", err)
	}
	return users, nil
}

// normalizeUser expands one user into records, one per membership.
func normalizeUser(u user) []ingest.Record {
	var lastActivity *time.Time
	if u.LastSignInAt != nil && *u.LastSignInAt != "" {
		if t, err := time.Parse(time.RFC3339, *u.LastSignInAt); err == nil {
			utc := t.UTC()
			lastActivity = &utc
		}
	}

	records := make([]ingest.Record, 0, len(u.Memberships))
	for _, m := range u.Memberships {
		code := strings.ToUpper(m.ClassroomSlug)
		if code == "" {
			code = fmt.Sprintf("MK-%d", m.ClassroomID)
		}

		rec := ingest.Record{
			MemberEmail:        u.Email,
			MemberName:         u.FullName,
			ProductCode:        code,
			ProductName:        m.ClassroomName,
			Status:             domain.EnrollmentActive,
			AccessCount:        u.SignInCount,
			LastActivity:       lastActivity,
			ProgressPercentage: m.Progress,
		}
		if m.Status != "active" {
			rec.Status = domain.EnrollmentInactive
		}
		if m.CreatedAt != "" {
			if t, err := time.Parse(time.RFC3339, m.CreatedAt); err == nil {
				rec.EnrolledAt = t.UTC()
			}
		}
		records = append(records, rec)
	}
	return records
}
