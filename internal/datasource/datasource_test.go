package datasource

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"rent360.org/internal/config"
)

type usersDoc struct {
	Users []struct {
		Email string   `json:"email"`
		Roles []string `json:"roles"`
	} `json:"users"`
}

func TestMockReadsBundledFixtures(t *testing.T) {
	c := New(config.APIConfig{UseMockAPI: true, MockAPIBaseURL: "embedded"})
	var doc usersDoc
	if err := c.Get(context.Background(), Request{Endpoint: "auth/users", MockPath: "/auth/users.json"}, &doc); err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(doc.Users) == 0 {
		t.Fatal("expected fixture users")
	}

	for _, path := range []string{
		"properties/units.json",
		"marketplace/summary-owner.json",
		"marketplace/summary-tenant.json",
		"marketplace/summary-society-admin.json",
	} {
		var v map[string]any
		if err := c.Get(context.Background(), Request{MockPath: path}, &v); err != nil {
			t.Fatalf("fixture %s: %v", path, err)
		}
	}

	var v map[string]any
	if err := c.Get(context.Background(), Request{MockPath: "nope.json"}, &v); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := c.Post(context.Background(), "properties", map[string]string{}, nil); !errors.Is(err, ErrMockMode) {
		t.Fatalf("expected ErrMockMode, got %v", err)
	}
}

func TestMockReadsDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "auth"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "auth", "users.json"), []byte(`{"users":[{"email":"x@y.z","roles":["owner"]}]}`), 0o600); err != nil {
		t.Fatal(err)
	}
	c := New(config.APIConfig{UseMockAPI: true, MockAPIBaseURL: dir})
	var doc usersDoc
	if err := c.Get(context.Background(), Request{MockPath: "auth/users.json"}, &doc); err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(doc.Users) != 1 || doc.Users[0].Email != "x@y.z" {
		t.Fatalf("unexpected doc %+v", doc)
	}
}

func TestMockOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/assets/mock/marketplace/summary-owner.json" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"activeListings": 3}`))
	}))
	defer srv.Close()

	c := New(config.APIConfig{UseMockAPI: true, MockAPIBaseURL: srv.URL + "/assets/mock/"})
	var v struct {
		ActiveListings int `json:"activeListings"`
	}
	if err := c.Get(context.Background(), Request{MockPath: "/marketplace/summary-owner.json"}, &v); err != nil {
		t.Fatalf("get: %v", err)
	}
	if v.ActiveListings != 3 {
		t.Fatalf("unexpected body %+v", v)
	}
}

func TestAPIModeRequests(t *testing.T) {
	var gotAuth, gotQuery, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/properties/units":
			gotQuery = r.URL.RawQuery
			_, _ = w.Write([]byte(`{"properties": []}`))
		case r.Method == http.MethodPost && r.URL.Path == "/api/properties":
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			gotBody, _ = body["name"].(string)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id": "prop-9", "name": "Created"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(config.APIConfig{UseMockAPI: false, APIBaseURL: srv.URL + "/api/", ForwardSessionToken: true})
	ctx := WithBearer(context.Background(), "tok-1")

	var list map[string]any
	if err := c.Get(ctx, Request{Endpoint: "/properties/units", MockPath: "properties/units.json", Params: map[string]string{"owner": "a b"}}, &list); err != nil {
		t.Fatalf("get: %v", err)
	}
	if gotQuery != "owner=a+b" {
		t.Fatalf("unexpected query %q", gotQuery)
	}
	if gotAuth != "Bearer tok-1" {
		t.Fatalf("bearer not forwarded: %q", gotAuth)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := c.Post(ctx, "properties", map[string]string{"name": "Created"}, &created); err != nil {
		t.Fatalf("post: %v", err)
	}
	if created.ID != "prop-9" || gotBody != "Created" {
		t.Fatalf("unexpected post round trip id=%s body=%s", created.ID, gotBody)
	}

	err := c.Put(ctx, "properties/missing", map[string]string{}, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Fatalf("expected StatusError 404, got %v", err)
	}
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(config.APIConfig{APIBaseURL: srv.URL})
	for i := 0; i < 8; i++ {
		err := c.Get(context.Background(), Request{Endpoint: "auth/users"}, &map[string]any{})
		if !errors.Is(err, ErrUnavailable) {
			t.Fatalf("call %d: expected ErrUnavailable, got %v", i, err)
		}
	}
	if calls != 5 {
		t.Fatalf("expected breaker to stop traffic after 5 failures, backend saw %d calls", calls)
	}
}

func TestJoinURL(t *testing.T) {
	cases := map[[2]string]string{
		{"http://a/", "/b"}:   "http://a/b",
		{"http://a", "b"}:     "http://a/b",
		{"http://a//", "//b"}: "http://a/b",
	}
	for in, want := range cases {
		if got := joinURL(in[0], in[1]); got != want {
			t.Fatalf("joinURL(%q,%q)=%q want %q", in[0], in[1], got, want)
		}
	}
}

func TestSessionTokenIsNotForwardedByDefault(t *testing.T) {
	var gotAuth []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = append(gotAuth, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	ctx := WithBearer(context.Background(), "session-jwt")
	req := Request{Endpoint: "properties/units", MockPath: "properties/units.json"}

	var out map[string]any
	plain := New(config.APIConfig{APIBaseURL: srv.URL})
	if err := plain.Get(ctx, req, &out); err != nil {
		t.Fatalf("get: %v", err)
	}
	static := New(config.APIConfig{APIBaseURL: srv.URL, Token: "svc-token"})
	if err := static.Get(ctx, req, &out); err != nil {
		t.Fatalf("get: %v", err)
	}
	forwarding := New(config.APIConfig{APIBaseURL: srv.URL, Token: "svc-token", ForwardSessionToken: true})
	if err := forwarding.Get(context.Background(), req, &out); err != nil {
		t.Fatalf("get: %v", err)
	}

	want := []string{"", "Bearer svc-token", "Bearer svc-token"}
	if len(gotAuth) != len(want) {
		t.Fatalf("expected %d calls, got %d", len(want), len(gotAuth))
	}
	for i := range want {
		if gotAuth[i] != want[i] {
			t.Fatalf("call %d: Authorization %q, want %q", i, gotAuth[i], want[i])
		}
	}
}
