package forwarder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSyncConsumption(t *testing.T) {
	var got SyncRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/api/consumption/sync-firebase" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Expected JSON content type, got %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("Failed to decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"buckets":{"hour":"2026-01-01 10:00"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL+"/api", time.Second)
	loadType := "medium"
	resp, err := client.SyncConsumption(context.Background(), SyncRequest{
		Name:            "admin",
		LoadType:        &loadType,
		SocketID:        "ESP2_3",
		Power:           12.5,
		DurationSeconds: 1.5,
	})
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	if got.Name != "admin" || got.SocketID != "ESP2_3" || got.Power != 12.5 || got.DurationSeconds != 1.5 {
		t.Errorf("Unexpected request body: %+v", got)
	}
	if got.LoadType == nil || *got.LoadType != "medium" {
		t.Errorf("Expected load_type medium, got %v", got.LoadType)
	}
	if resp.HourBucket() != "2026-01-01 10:00" {
		t.Errorf("Expected hour bucket, got %s", resp.HourBucket())
	}
}

func TestSyncConsumptionNullLoadType(t *testing.T) {
	var raw map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&raw)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	resp, err := client.SyncConsumption(context.Background(), SyncRequest{Name: "admin", SocketID: "ESP5"})
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	v, ok := raw["load_type"]
	if !ok {
		t.Fatal("Expected load_type key to be present")
	}
	if v != nil {
		t.Errorf("Expected null load_type, got %v", v)
	}
	if resp.HourBucket() != "undefined" {
		t.Errorf("Expected undefined hour bucket, got %s", resp.HourBucket())
	}
}

func TestHourBucketNumeric(t *testing.T) {
	resp := &SyncResponse{Buckets: &Buckets{Hour: json.RawMessage(`12.5`)}}
	if resp.HourBucket() != "12.5" {
		t.Errorf("Expected 12.5, got %s", resp.HourBucket())
	}
}

func TestRemoteError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"socket not registered"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	_, err := client.SyncConsumption(context.Background(), SyncRequest{Name: "admin", SocketID: "ESP1"})
	if err == nil {
		t.Fatal("Expected error")
	}

	if Kind(err) != KindRemote {
		t.Errorf("Expected remote error, got %s", Kind(err))
	}

	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("Expected *RemoteError, got %T", err)
	}
	if remoteErr.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("Expected status 422, got %d", remoteErr.StatusCode)
	}
	if remoteErr.Message != "socket not registered" {
		t.Errorf("Expected message, got %q", remoteErr.Message)
	}
	if string(ResponseBody(err)) != `{"message":"socket not registered"}` {
		t.Errorf("Expected payload attached, got %s", ResponseBody(err))
	}
}

func TestNetworkTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(server.URL, 50*time.Millisecond)
	_, err := client.CheckReset(context.Background(), "admin")
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	if Kind(err) != KindNetwork {
		t.Errorf("Expected network error, got %s (%v)", Kind(err), err)
	}
	if !IsTimeout(err) {
		t.Errorf("Expected timeout, got %v", err)
	}
}

func TestNetworkConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := NewClient(url, time.Second)
	_, err := client.CheckReset(context.Background(), "admin")
	if Kind(err) != KindNetwork {
		t.Errorf("Expected network error, got %v", err)
	}
}

func TestCheckReset(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/consumption/check-reset" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		var body ResetRequest
		json.NewDecoder(r.Body).Decode(&body)
		if body.Name != "tenant" {
			t.Errorf("Expected name tenant, got %s", body.Name)
		}
		w.Write([]byte(`{"resets_performed":["daily","weekly"]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL+"/api/", time.Second)
	resp, err := client.CheckReset(context.Background(), "tenant")
	if err != nil {
		t.Fatalf("Check reset failed: %v", err)
	}
	if len(resp.ResetsPerformed) != 2 || resp.ResetsPerformed[0] != "daily" {
		t.Errorf("Unexpected resets: %v", resp.ResetsPerformed)
	}
}

func TestNonJSONSuccessIsDelivered(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	resp, err := client.CheckReset(context.Background(), "admin")
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if len(resp.ResetsPerformed) != 0 {
		t.Errorf("Expected no resets, got %v", resp.ResetsPerformed)
	}
}

func TestKindUnknown(t *testing.T) {
	if Kind(errors.New("boom")) != KindUnknown {
		t.Error("Expected unknown kind")
	}
}
