package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

type client struct {
	base  string
	token string
	http  *http.Client
}

func (c *client) call(method, path string, body, out any, want int) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			log.Fatalf("%s %s: marshal: %v", method, path, err)
		}
	}
	req, err := http.NewRequest(method, c.base+path, bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		log.Fatalf("%s %s: expected %d, got %d", method, path, want, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			log.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
}

func main() {
	log.SetFlags(0)
	base := os.Getenv("R360_SMOKE_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	c := &client{base: base, http: &http.Client{Timeout: 5 * time.Second}}

	var session struct {
		Token string `json:"token"`
	}
	c.call(http.MethodPost, "/v1/auth/login", map[string]string{"email": "owner@rent360.com", "password": "Owner@123"}, &session, http.StatusOK)
	c.token = session.Token

	var before struct {
		Properties []struct {
			ID string `json:"id"`
		} `json:"properties"`
	}
	c.call(http.MethodGet, "/v1/properties", nil, &before, http.StatusOK)

	var created struct {
		ID string `json:"id"`
	}
	name := fmt.Sprintf("Smoke Tower %d", time.Now().UnixNano())
	c.call(http.MethodPost, "/v1/properties", map[string]string{"name": name, "city": "Pune"}, &created, http.StatusCreated)

	var unit struct {
		ID string `json:"id"`
	}
	c.call(http.MethodPut, "/v1/properties/"+created.ID+"/units", map[string]any{"unitCode": "S-1", "rent": 25000}, &unit, http.StatusOK)
	c.call(http.MethodPost, "/v1/properties", map[string]string{"name": name, "city": "pune"}, nil, http.StatusConflict)

	var overview struct {
		Persona string `json:"persona"`
		KPIs    []any  `json:"kpis"`
	}
	c.call(http.MethodGet, "/v1/dashboard", nil, &overview, http.StatusOK)
	if overview.Persona != "owner" || len(overview.KPIs) == 0 {
		log.Fatalf("unexpected dashboard: %+v", overview)
	}

	c.call(http.MethodPost, "/v1/auth/logout", nil, nil, http.StatusNoContent)
	c.call(http.MethodGet, "/v1/me", nil, nil, http.StatusUnauthorized)

	fmt.Printf("rent360 smoke test passed: property=%s unit=%s (had %d)\n", created.ID, unit.ID, len(before.Properties))
}
