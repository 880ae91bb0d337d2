package valhalla

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/upb/market-routes/models"
	"github.com/upb/market-routes/services/providers"
)

var query = models.NewRouteQuery(
	models.Coordinate{Lat: -15.7942, Lng: -47.8822},
	models.Coordinate{Lat: -15.8, Lng: -47.93},
	"",
)

func TestValhallaAdapter_Route(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/route" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}

		var body routeRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if len(body.Locations) != 2 || body.Locations[1].Lon != -47.93 {
			t.Errorf("unexpected locations %+v", body.Locations)
		}
		if body.Costing != "auto" || body.DirectionsOption.Units != "kilometers" {
			t.Errorf("unexpected options %+v", body)
		}

		w.Write([]byte(`{"trip":{"status":0,"status_message":"Found route between points","summary":{"length":6.183,"time":688.4}}}`))
	}))
	defer server.Close()

	adapter := NewValhallaAdapter(providers.ProviderConfig{BaseURL: server.URL, HTTPClient: server.Client()})

	estimate, err := adapter.Route(context.Background(), query)
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if math.Abs(estimate.DistanceMeters-6183) > 1e-6 {
		t.Errorf("DistanceMeters = %v, want 6183 (converted from km)", estimate.DistanceMeters)
	}
	if estimate.DurationSeconds != 688.4 {
		t.Errorf("DurationSeconds = %v", estimate.DurationSeconds)
	}
}

func TestValhallaAdapter_NoRoute(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error_code":442,"error":"No path could be found for input","status_code":400}`))
	}))
	defer server.Close()

	adapter := NewValhallaAdapter(providers.ProviderConfig{BaseURL: server.URL, HTTPClient: server.Client()})
	_, err := adapter.Route(context.Background(), query)

	var provErr *providers.ProviderError
	if !errors.As(err, &provErr) || provErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 provider error, got %v", err)
	}
}

func TestValhallaAdapter_MissingTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	adapter := NewValhallaAdapter(providers.ProviderConfig{BaseURL: server.URL, HTTPClient: server.Client()})
	_, err := adapter.Route(context.Background(), query)

	var provErr *providers.ProviderError
	if !errors.As(err, &provErr) || provErr.Code != providers.CodeNoRoute {
		t.Fatalf("expected NO_ROUTE, got %v", err)
	}
}
