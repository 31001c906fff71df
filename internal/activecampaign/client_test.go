package activecampaign

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// newTestClient points a client at an httptest server emulating the small
// slice of the v3 API the client uses: contact lookup, contactTags with
// side-loaded tags, tag search/create, association create/delete.
func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(Config{BaseURL: server.URL, APIToken: "test-token"})
}

func TestListContactTags(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Api-Token") == "" {
			t.Error("Missing Api-Token header")
		}
		switch {
		case r.URL.Path == "/api/3/contacts":
			json.NewEncoder(w).Encode(contactListResponse{
				Contacts: []contact{{ID: "42", Email: "maria@example.com"}},
			})
		case r.URL.Path == "/api/3/contacts/42/contactTags":
			json.NewEncoder(w).Encode(contactTagListResponse{
				ContactTags: []contactTag{
					{ID: "900", Contact: "42", Tag: "7"},
					{ID: "901", Contact: "42", Tag: "8"},
				},
				Tags: []tag{
					{ID: "7", Tag: "CURSO-GO - Inactive 7d"},
					{ID: "8", Tag: "VIP Customer"},
				},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	client := newTestClient(t, handler)
	tags, err := client.ListContactTags(context.Background(), "maria@example.com")
	if err != nil {
		t.Fatalf("ListContactTags() error: %v", err)
	}
	if len(tags) != 2 {
		t.Fatalf("expected 2 tags, got %d: %v", len(tags), tags)
	}
	if tags[0] != "CURSO-GO - Inactive 7d" || tags[1] != "VIP Customer" {
		t.Errorf("unexpected tag names: %v", tags)
	}
}

func TestGetOrCreateTag_ExistingTag(t *testing.T) {
	created := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/3/tags" && r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(tagListResponse{Tags: []tag{
				{ID: "11", Tag: "CURSO-GO - Inactive 7d extra"}, // substring hit, not exact
				{ID: "12", Tag: "CURSO-GO - Inactive 7d"},
			}})
		case r.URL.Path == "/api/3/tags" && r.Method == http.MethodPost:
			created = true
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	client := newTestClient(t, handler)
	id, err := client.GetOrCreateTag(context.Background(), "CURSO-GO - Inactive 7d")
	if err != nil {
		t.Fatalf("GetOrCreateTag() error: %v", err)
	}
	if id != "12" {
		t.Errorf("expected exact-match id 12, got %s", id)
	}
	if created {
		t.Error("existing tag should not trigger a create")
	}
}

func TestGetOrCreateTag_CreatesWhenAbsent(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/3/tags" && r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(tagListResponse{})
		case r.URL.Path == "/api/3/tags" && r.Method == http.MethodPost:
			var req tagCreateRequest
			json.NewDecoder(r.Body).Decode(&req)
			if req.Tag.TagType != "contact" {
				t.Errorf("expected tagType contact, got %s", req.Tag.TagType)
			}
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(tagCreateResponse{Tag: tag{ID: "55", Tag: req.Tag.Tag}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	client := newTestClient(t, handler)
	id, err := client.GetOrCreateTag(context.Background(), "CURSO-GO - Inactive 30d")
	if err != nil {
		t.Fatalf("GetOrCreateTag() error: %v", err)
	}
	if id != "55" {
		t.Errorf("expected id 55, got %s", id)
	}
}

func TestGetOrCreateTag_DuplicateCreateIsSuccess(t *testing.T) {
	lookups := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/3/tags" && r.Method == http.MethodGet:
			lookups++
			if lookups == 1 {
				// First lookup misses; the tag appears before the create lands.
				json.NewEncoder(w).Encode(tagListResponse{})
				return
			}
			json.NewEncoder(w).Encode(tagListResponse{Tags: []tag{{ID: "77", Tag: "CURSO-GO - Inactive 7d"}}})
		case r.URL.Path == "/api/3/tags" && r.Method == http.MethodPost:
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"errors":[{"title":"Duplicate entry"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	client := newTestClient(t, handler)
	id, err := client.GetOrCreateTag(context.Background(), "CURSO-GO - Inactive 7d")
	if err != nil {
		t.Fatalf("duplicate create should resolve via lookup, got error: %v", err)
	}
	if id != "77" {
		t.Errorf("expected id 77 from re-lookup, got %s", id)
	}
}

func TestApplyTag(t *testing.T) {
	var gotAssoc contactTagCreateRequest
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/3/contacts" && r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(contactListResponse{Contacts: []contact{{ID: "42", Email: "maria@example.com"}}})
		case r.URL.Path == "/api/3/tags" && r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(tagListResponse{Tags: []tag{{ID: "12", Tag: "CURSO-GO - Inactive 7d"}}})
		case r.URL.Path == "/api/3/contactTags" && r.Method == http.MethodPost:
			json.NewDecoder(r.Body).Decode(&gotAssoc)
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"contactTag":{"id":"900"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	client := newTestClient(t, handler)
	if err := client.ApplyTag(context.Background(), "maria@example.com", "CURSO-GO - Inactive 7d"); err != nil {
		t.Fatalf("ApplyTag() error: %v", err)
	}
	if gotAssoc.ContactTag.Contact != "42" || gotAssoc.ContactTag.Tag != "12" {
		t.Errorf("association posted wrong ids: %+v", gotAssoc.ContactTag)
	}
}

func TestRemoveTag(t *testing.T) {
	deleted := ""
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/3/contacts" && r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(contactListResponse{Contacts: []contact{{ID: "42", Email: "maria@example.com"}}})
		case r.URL.Path == "/api/3/contacts/42/contactTags":
			json.NewEncoder(w).Encode(contactTagListResponse{
				ContactTags: []contactTag{{ID: "900", Contact: "42", Tag: "12"}},
				Tags:        []tag{{ID: "12", Tag: "CURSO-GO - Inactive 7d"}},
			})
		case r.URL.Path == "/api/3/contactTags/900" && r.Method == http.MethodDelete:
			deleted = "900"
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	client := newTestClient(t, handler)
	if err := client.RemoveTag(context.Background(), "maria@example.com", "CURSO-GO - Inactive 7d"); err != nil {
		t.Fatalf("RemoveTag() error: %v", err)
	}
	if deleted != "900" {
		t.Error("expected association 900 to be deleted")
	}
}

func TestRemoveTag_AbsentTagIsNoop(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/3/contacts" && r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(contactListResponse{Contacts: []contact{{ID: "42", Email: "maria@example.com"}}})
		case r.URL.Path == "/api/3/contacts/42/contactTags":
			json.NewEncoder(w).Encode(contactTagListResponse{})
		default:
			t.Errorf("unexpected call %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	client := newTestClient(t, handler)
	if err := client.RemoveTag(context.Background(), "maria@example.com", "CURSO-GO - Inactive 7d"); err != nil {
		t.Fatalf("removing an absent tag should converge silently, got: %v", err)
	}
}
