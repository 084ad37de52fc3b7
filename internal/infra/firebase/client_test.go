package firebase_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/emanuele79ottolini-collab/finanze-famiglia/internal/domain"
	"github.com/emanuele79ottolini-collab/finanze-famiglia/internal/infra/firebase"
	"github.com/emanuele79ottolini-collab/finanze-famiglia/internal/infra/resilience"

	"go.uber.org/zap"
)

func newClient(t *testing.T, baseURL string) *firebase.Client {
	t.Helper()
	httpClient := &http.Client{Timeout: 5 * time.Second}
	cb := resilience.NewCircuitBreaker("firebase-test")
	return firebase.NewClient(httpClient, baseURL, "finanze_famigliari", "tok", cb, zap.NewNop())
}

func TestPut_WritesRootWithAuth(t *testing.T) {
	var gotMethod, gotPath, gotAuth, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.URL.Query().Get("auth")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Write([]byte("{}"))
	}))
	defer server.Close()

	c := newClient(t, server.URL)
	snap := &domain.RemoteSnapshot{Settings: domain.Settings{domain.SettingUser1: "Marco"}}

	if err := c.Put(context.Background(), snap); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if gotMethod != http.MethodPut {
		t.Errorf("expected PUT, got %s", gotMethod)
	}
	if gotPath != "/finanze_famigliari.json" {
		t.Errorf("unexpected path %s", gotPath)
	}
	if gotAuth != "tok" {
		t.Errorf("expected auth token in query, got '%s'", gotAuth)
	}
	var decoded domain.RemoteSnapshot
	if err := json.Unmarshal([]byte(gotBody), &decoded); err != nil {
		t.Fatalf("body is not a snapshot: %v", err)
	}
	if decoded.Settings[domain.SettingUser1] != "Marco" {
		t.Errorf("expected settings in body, got '%s'", decoded.Settings[domain.SettingUser1])
	}
}

func TestPut_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := newClient(t, server.URL)
	err := c.Put(context.Background(), &domain.RemoteSnapshot{})
	var external *domain.ErrExternalService
	if !errors.As(err, &external) {
		t.Fatalf("expected external service error, got %v", err)
	}
}

func TestGet_NullBodyMeansNoData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("null"))
	}))
	defer server.Close()

	c := newClient(t, server.URL)
	snap, err := c.Get(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if snap != nil {
		t.Errorf("expected nil snapshot for null body, got %+v", snap)
	}
}

func TestWatch_DeliversRootPuts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("expected event-stream accept header, got %s", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		fmt.Fprint(w, "event: put\ndata: {\"path\":\"/\",\"data\":{\"settings\":{\"user1\":\"Marco\"}}}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "event: keep-alive\ndata: null\n\n")
		flusher.Flush()
		fmt.Fprint(w, "event: put\ndata: {\"path\":\"/\",\"data\":null}\n\n")
		flusher.Flush()
	}))
	defer server.Close()

	c := newClient(t, server.URL)

	var snaps []*domain.RemoteSnapshot
	err := c.Watch(context.Background(), func(s *domain.RemoteSnapshot) {
		snaps = append(snaps, s)
	})
	// The server closing the stream surfaces as an error so the caller
	// knows to reconnect.
	if err == nil {
		t.Fatal("expected stream-end error")
	}

	if len(snaps) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(snaps))
	}
	if snaps[0].Settings[domain.SettingUser1] != "Marco" {
		t.Errorf("expected first snapshot settings, got %+v", snaps[0])
	}
	if snaps[1] != nil {
		t.Errorf("expected nil snapshot for null data, got %+v", snaps[1])
	}
}

func TestWatch_ServerCancelTerminates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: cancel\ndata: null\n\n")
	}))
	defer server.Close()

	c := newClient(t, server.URL)
	err := c.Watch(context.Background(), func(*domain.RemoteSnapshot) {
		t.Error("cancel event must not deliver a snapshot")
	})
	if err == nil {
		t.Fatal("expected terminating error on cancel event")
	}
}

func TestWatch_PartialUpdateRefetchesRoot(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") == "text/event-stream" {
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, "event: patch\ndata: {\"path\":\"/settings\",\"data\":{\"user1\":\"Marco\"}}\n\n")
			return
		}
		// Root refetch triggered by the patch.
		w.Write([]byte(`{"settings":{"user1":"Marco","user2":"Giulia"}}`))
	}))
	defer server.Close()

	c := newClient(t, server.URL)

	var snaps []*domain.RemoteSnapshot
	_ = c.Watch(context.Background(), func(s *domain.RemoteSnapshot) {
		snaps = append(snaps, s)
	})

	if len(snaps) != 1 {
		t.Fatalf("expected 1 delivery from refetch, got %d", len(snaps))
	}
	if snaps[0].Settings[domain.SettingUser2] != "Giulia" {
		t.Errorf("expected full root from refetch, got %+v", snaps[0])
	}
}
