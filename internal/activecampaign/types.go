package activecampaign

// Config holds connection settings for one ActiveCampaign account.
type Config struct {
	BaseURL  string
	APIToken string
}

// contact is the wire shape of an ActiveCampaign contact.
type contact struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type contactListResponse struct {
	Contacts []contact `json:"contacts"`
}

type contactCreateRequest struct {
	Contact struct {
		Email string `json:"email"`
	} `json:"contact"`
}

type contactCreateResponse struct {
	Contact contact `json:"contact"`
}

// tag is the wire shape of an ActiveCampaign tag.
type tag struct {
	ID      string `json:"id"`
	Tag     string `json:"tag"`
	TagType string `json:"tagType"`
}

type tagListResponse struct {
	Tags []tag `json:"tags"`
}

type tagCreateRequest struct {
	Tag struct {
		Tag     string `json:"tag"`
		TagType string `json:"tagType"`
	} `json:"tag"`
}

type tagCreateResponse struct {
	Tag tag `json:"tag"`
}

// contactTag is a contact↔tag association.
type contactTag struct {
	ID      string `json:"id"`
	Contact string `json:"contact"`
	Tag     string `json:"tag"`
}

type contactTagListResponse struct {
	ContactTags []contactTag `json:"contactTags"`
	// Tags is side-loaded by ?include=tag so names resolve in one call.
	Tags []tag `json:"tags"`
}

type contactTagCreateRequest struct {
	ContactTag struct {
		Contact string `json:"contact"`
		Tag     string `json:"tag"`
	} `json:"contactTag"`
}
