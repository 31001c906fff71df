package hotmart

// Club identifies one Hotmart membership area and the product it maps to.
type Club struct {
	Subdomain   string
	ProductCode string
	ProductName string
}

// Config holds client and OAuth settings for the Hotmart API.
type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	PageSize     int
	Clubs        []Club
}

// clubUser is the wire shape of one member in a club users page.
type clubUser struct {
	UserID     string   `json:"user_id"`
	Email      string   `json:"email"`
	Name       string   `json:"name"`
	Status     string   `json:"status"` // ACTIVE, BLOCKED, OVERDUE
	Classes    []string `json:"classes"`
	Engagement struct {
		AccessCount    int     `json:"access_count"`
		LastAccessDate int64   `json:"last_access_date"` // epoch millis, 0 = never
		Progress       float64 `json:"progress"`
	} `json:"engagement"`
	JoinedDate int64 `json:"joined_date"` // epoch millis
}

// clubUsersPage is one page of the club users listing.
type clubUsersPage struct {
	Items    []clubUser `json:"items"`
	PageInfo struct {
		NextPageToken string `json:"next_page_token"`
		TotalResults  int    `json:"total_results"`
	} `json:"page_info"`
}
