// Package hotmart is the ingestion adapter for Hotmart membership areas
// ("clubs"). It pulls each configured club's user list page by page and
// normalizes the engagement data to the common ingest record shape.
package hotmart

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/ignite/engagement-sync/internal/domain"
	"github.com/ignite/engagement-sync/internal/ingest"
	"github.com/ignite/engagement-sync/internal/pkg/httpretry"
)

// Client is the Hotmart API client. It satisfies ingest.Source.
type Client struct {
	baseURL    string
	pageSize   int
	clubs      []Club
	pageDelay  time.Duration
	httpClient httpretry.HTTPDoer
}

// NewClient creates a Hotmart client authenticated via the OAuth2
// client-credentials flow. pageDelay is the fixed wait between page fetches,
// keeping the bulk pull under the API's rate limit.
func NewClient(cfg Config, pageDelay time.Duration) *Client {
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
	}
	base := cc.Client(context.Background())
	base.Timeout = 30 * time.Second

	return &Client{
		baseURL:    cfg.BaseURL,
		pageSize:   cfg.PageSize,
		clubs:      cfg.Clubs,
		pageDelay:  pageDelay,
		httpClient: httpretry.New(base, 3),
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing)
func (c *Client) SetHTTPClient(client httpretry.HTTPDoer) {
	c.httpClient = client
}

// Name implements ingest.Source.
func (c *Client) Name() string { return "hotmart" }

// FetchRecords pulls every configured club's members. A club that fails is
// logged and skipped so one broken membership area cannot starve the others.
func (c *Client) FetchRecords(ctx context.Context) ([]ingest.Record, error) {
	if len(c.clubs) == 0 {
		return nil, nil
	}

	var records []ingest.Record
	failed := 0
	for _, club := range c.clubs {
		clubRecords, err := c.fetchClub(ctx, club)
		if err != nil {
			failed++
			log.Printf("Hotmart: club %s fetch failed: %v", club.Subdomain, err)
			continue
		}
		records = append(records, clubRecords...)
	}
	if failed == len(c.clubs) {
		return nil, fmt.Errorf("all %d hotmart clubs failed", failed)
	}
	return records, nil
}

// fetchClub pages through one club's user listing.
func (c *Client) fetchClub(ctx context.Context, club Club) ([]ingest.Record, error) {
	var records []ingest.Record
	pageToken := ""

	for page := 0; ; page++ {
		if page > 0 && c.pageDelay > 0 {
			select {
			case <-time.After(c.pageDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		result, err := c.getUsersPage(ctx, club.Subdomain, pageToken)
		if err != nil {
			return nil, err
		}

		for _, u := range result.Items {
			records = append(records, normalizeUser(club, u))
		}

		if result.PageInfo.NextPageToken == "" {
			break
		}
		pageToken = result.PageInfo.NextPageToken
	}

	log.Printf("Hotmart: club %s returned %d members", club.Subdomain, len(records))
	return records, nil
}

func (c *Client) getUsersPage(ctx context.Context, subdomain, pageToken string) (*clubUsersPage, error) {
	params := url.Values{}
	params.Set("subdomain", subdomain)
	if c.pageSize > 0 {
		params.Set("max_results", strconv.Itoa(c.pageSize))
	}
	if pageToken != "" {
		params.Set("page_token", pageToken)
	}
	endpoint := c.baseURL + "/club/api/v1/users?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.RemoteUnavailableError{Op: "GET /club/api/v1/users", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.RemoteUnavailableError{Op: "GET /club/api/v1/users", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &domain.RemoteUnavailableError{
			Op:  "GET /club/api/v1/users",
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(body)),
		}
	}

	var result clubUsersPage
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse users page: %w", err)
	}
	return &result, nil
}

// normalizeUser maps a Hotmart club user to the common record shape. A zero
// last_access_date means the member never opened the club; that is left as a
// nil LastActivity so downstream does not mistake it for ancient inactivity.
func normalizeUser(club Club, u clubUser) ingest.Record {
	rec := ingest.Record{
		MemberEmail:        u.Email,
		MemberName:         u.Name,
		ProductCode:        club.ProductCode,
		ProductName:        club.ProductName,
		Status:             domain.EnrollmentActive,
		AccessCount:        u.Engagement.AccessCount,
		ProgressPercentage: u.Engagement.Progress,
		ClassMemberships:   u.Classes,
	}
	if u.Status != "ACTIVE" {
		rec.Status = domain.EnrollmentInactive
	}
	if u.Engagement.LastAccessDate > 0 {
		t := time.UnixMilli(u.Engagement.LastAccessDate).UTC()
		rec.LastActivity = &t
	}
	if u.JoinedDate > 0 {
		rec.EnrolledAt = time.UnixMilli(u.JoinedDate).UTC()
	}
	return rec
}
