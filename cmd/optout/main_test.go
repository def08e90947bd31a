package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"eddm-registry/internal/client"
	"eddm-registry/internal/flow"
	"eddm-registry/internal/models"

	"github.com/stretchr/testify/assert"
)

func registryStub(t *testing.T, result models.OptOutResult) *flow.Flow {
	t.Helper()
	mux := http.NewServeMux()
	write := func(w http.ResponseWriter, data any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
	}
	mux.HandleFunc("/carrier-route", func(w http.ResponseWriter, r *http.Request) {
		write(w, models.RouteLookup{
			CarrierRoute:        models.CarrierRoute{CarrierRoute: "C045", ZipRoute: "62704C045", City: "Springfield", State: "IL", RouteType: "city"},
			StandardizedAddress: "123 Main St, Springfield IL 62704",
			Stats:               models.RouteStats{OptOutCount: 1, EstimatedHouseholds: 550, PercentOptedOut: 0.18, Confidence: "medium"},
		})
	})
	mux.HandleFunc("/route-stats", func(w http.ResponseWriter, r *http.Request) {
		write(w, models.RouteStats{})
	})
	mux.HandleFunc("/do-not-deliver", func(w http.ResponseWriter, r *http.Request) {
		write(w, result)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return flow.New(client.New(srv.URL, srv.Client(), 1, nil), nil, time.Second, nil)
}

func TestRunLookupOnly(t *testing.T) {
	var out bytes.Buffer
	code := run(context.Background(), registryStub(t, models.OptOutResult{}), &out, "123 Main St", "", false)

	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "62704C045")
	assert.Contains(t, out.String(), "1 of ~550 households (0.18%")
	assert.Contains(t, out.String(), "-confirm")
}

func TestRunConfirmReportsMilestone(t *testing.T) {
	threshold := 25
	var out bytes.Buffer
	f := registryStub(t, models.OptOutResult{
		ZipRoute: "62704C045", OptOutCount: 138, EstimatedHouseholds: 550, PercentOptedOut: 25.09,
		IsNewOptOut: true, MilestoneReached: &threshold,
	})

	code := run(context.Background(), f, &out, "123 Main St", "a@b.org", true)

	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "recorded")
	assert.Contains(t, out.String(), "passed 25%")
}

func TestRunLookupFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "Could not understand address"})
	}))
	defer srv.Close()
	f := flow.New(client.New(srv.URL, srv.Client(), 1, nil), nil, time.Second, nil)

	var out bytes.Buffer
	code := run(context.Background(), f, &out, "???", "", true)

	assert.Equal(t, 1, code)
	assert.Contains(t, out.String(), "Could not understand address")
}
