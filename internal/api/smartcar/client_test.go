package smartcar

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/langchou/odosync/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(Config{
		AuthURL:      "https://connect.example.com/oauth/authorize",
		TokenURL:     server.URL + "/oauth/token",
		APIHost:      server.URL + "/v1.0/",
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		RedirectURI:  "http://localhost:4000/oauth/callback",
		Timeout:      5 * time.Second,
	})
}

func TestListVehiclesSendsBearerToken(t *testing.T) {
	var gotAuth, gotPath string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"vehicles":["v-1","v-2"],"paging":{"count":2,"offset":0}}`))
	})

	ids, err := client.ListVehicles(context.Background(), "access-1")
	if err != nil {
		t.Fatalf("list vehicles: %v", err)
	}
	if gotAuth != "Bearer access-1" {
		t.Fatalf("unexpected Authorization header %q", gotAuth)
	}
	if gotPath != "/v1.0/vehicles" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if len(ids) != 2 || ids[0] != "v-1" || ids[1] != "v-2" {
		t.Fatalf("unexpected ids %v", ids)
	}
}

func TestListVehiclesUnauthorized(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"AUTHENTICATION","code":null}`))
	})

	_, err := client.ListVehicles(context.Background(), "expired")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected APIError with 401, got %v", err)
	}
	if !strings.Contains(apiErr.Body, "AUTHENTICATION") {
		t.Fatalf("expected response body in error, got %q", apiErr.Body)
	}
}

func TestRequestWithoutTokenFailsFast(t *testing.T) {
	called := false
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	if _, err := client.ListVehicles(context.Background(), " "); !errors.Is(err, ErrNoAccessToken) {
		t.Fatalf("expected ErrNoAccessToken, got %v", err)
	}
	if called {
		t.Fatal("no request should be sent without a token")
	}
}

func TestGetAttributesAndVIN(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1.0/vehicles/v-1":
			_, _ = w.Write([]byte(`{"id":"v-1","make":"TOYOTA","model":"Camry","year":2022}`))
		case "/v1.0/vehicles/v-1/vin":
			_, _ = w.Write([]byte(`{"vin":"1hgcm82633a004352"}`))
		default:
			http.NotFound(w, r)
		}
	})

	attrs, err := client.GetAttributes(context.Background(), "t", "v-1")
	if err != nil {
		t.Fatalf("attributes: %v", err)
	}
	if attrs.Make != "TOYOTA" || attrs.Model != "Camry" || attrs.Year != 2022 {
		t.Fatalf("unexpected attributes %+v", attrs)
	}

	vin, err := client.GetVIN(context.Background(), "t", "v-1")
	if err != nil {
		t.Fatalf("vin: %v", err)
	}
	if vin != "1hgcm82633a004352" {
		t.Fatalf("client should return the raw vin, got %q", vin)
	}
}

func TestGetOdometerUnits(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		unitSystem string
		wantUnit   models.DistanceUnit
	}{
		{"metric header", `{"distance":16093}`, "metric", models.UnitKilometers},
		{"imperial header", `{"distance":10000}`, "imperial", models.UnitMiles},
		{"body unit wins", `{"distance":10000,"unit":"mi"}`, "metric", models.UnitMiles},
		{"default km", `{"distance":5}`, "", models.UnitKilometers},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.unitSystem != "" {
					w.Header().Set(HeaderUnitSystem, tt.unitSystem)
				}
				_, _ = w.Write([]byte(tt.body))
			})

			reading, err := client.GetOdometer(context.Background(), "t", "v-1")
			if err != nil {
				t.Fatalf("odometer: %v", err)
			}
			if reading.Unit != tt.wantUnit {
				t.Fatalf("unit = %q, want %q", reading.Unit, tt.wantUnit)
			}
		})
	}
}

func TestGetOdometerMissingDistance(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	if _, err := client.GetOdometer(context.Background(), "t", "v-1"); err == nil {
		t.Fatal("expected error for response without distance")
	}
}

func TestAuthURL(t *testing.T) {
	client := NewClient(Config{
		AuthURL:     "https://connect.smartcar.com/oauth/authorize",
		ClientID:    "client-1",
		RedirectURI: "http://localhost:4000/oauth/callback",
	})

	raw := client.AuthURL(nil, "state-1", true)
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	q := u.Query()
	if q.Get("response_type") != "code" || q.Get("client_id") != "client-1" {
		t.Fatalf("unexpected query %v", q)
	}
	if q.Get("redirect_uri") != "http://localhost:4000/oauth/callback" {
		t.Fatalf("unexpected redirect_uri %q", q.Get("redirect_uri"))
	}
	if q.Get("scope") != "read_vehicle_info read_odometer read_vin" {
		t.Fatalf("unexpected scope %q", q.Get("scope"))
	}
	if q.Get("approval_prompt") != "force" || q.Get("state") != "state-1" {
		t.Fatalf("expected force prompt and state, got %v", q)
	}
}

func TestRefreshTokenPostsForm(t *testing.T) {
	var form url.Values
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth/token" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		form = r.PostForm
		_, _ = w.Write([]byte(`{"access_token":"new-access","refresh_token":"new-refresh","token_type":"Bearer","expires_in":7200}`))
	})

	token, err := client.RefreshToken(context.Background(), "old-refresh")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if form.Get("grant_type") != "refresh_token" || form.Get("refresh_token") != "old-refresh" {
		t.Fatalf("unexpected form %v", form)
	}
	if form.Get("client_id") != "client-1" || form.Get("client_secret") != "secret-1" {
		t.Fatalf("client credentials missing from form %v", form)
	}
	cred := token.Credential()
	if cred.AccessToken != "new-access" || cred.RefreshToken != "new-refresh" || cred.UpdatedAt.IsZero() {
		t.Fatalf("unexpected credential %+v", cred)
	}
}

func TestExchangeCodeFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err == nil && r.PostForm.Get("grant_type") != "authorization_code" {
			t.Errorf("unexpected grant_type %q", r.PostForm.Get("grant_type"))
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	})

	_, err := client.ExchangeCode(context.Background(), "bad-code")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected APIError 400, got %v", err)
	}

	if _, err := client.ExchangeCode(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty code")
	}
}

type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(r *http.Request) (*http.Response, error) { return f(r) }

// truncatedBody 读到一半连接断开
type truncatedBody struct{ sent bool }

func (b *truncatedBody) Read(p []byte) (int, error) {
	if b.sent {
		return 0, io.ErrUnexpectedEOF
	}
	b.sent = true
	return copy(p, `{"access_token":"a`), nil
}

func (b *truncatedBody) Close() error { return nil }

func TestRefreshTokenTruncatedBodyIsReadError(t *testing.T) {
	client := NewClient(Config{
		TokenURL: "https://auth.example.com/oauth/token",
		HTTPClient: doerFunc(func(r *http.Request) (*http.Response, error) {
			return &http.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: &truncatedBody{}}, nil
		}),
	})

	_, err := client.RefreshToken(context.Background(), "r1")
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected read error, got %v", err)
	}
	if !strings.Contains(err.Error(), "read") {
		t.Fatalf("error should name the read failure, got %v", err)
	}
}
