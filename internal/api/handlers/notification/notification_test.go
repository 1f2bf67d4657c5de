package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"Agora/internal/api/middleware"
	"Agora/internal/core/notifications"
)

type mockLister struct {
	err       error
	gotLimit  int
	gotUserID string
}

func (m *mockLister) ListForUser(_ context.Context, userID string, limit int) ([]*notifications.Notification, error) {
	m.gotUserID, m.gotLimit = userID, limit
	if m.err != nil {
		return nil, m.err
	}
	return []*notifications.Notification{{SlugID: "n-1", Type: notifications.TypeImportCompleted}}, nil
}

type mockStreamer struct {
	userID string
}

func (m *mockStreamer) Serve(w http.ResponseWriter, _ *http.Request, userID string) error {
	m.userID = userID
	w.WriteHeader(http.StatusSwitchingProtocols)
	return nil
}

func authed(req *http.Request) *http.Request {
	return req.WithContext(middleware.SetTestUserID(req.Context(), "user-1"))
}

func TestHandleList(t *testing.T) {
	tests := []struct {
		err       error
		name      string
		query     string
		wantCode  int
		wantLimit int
	}{
		{name: "default limit", wantCode: http.StatusOK, wantLimit: defaultLimit},
		{name: "custom limit", query: "?limit=5", wantCode: http.StatusOK, wantLimit: 5},
		{name: "clamped limit", query: "?limit=1000", wantCode: http.StatusOK, wantLimit: maxLimit},
		{name: "bad limit", query: "?limit=zero", wantCode: http.StatusBadRequest},
		{name: "store error", err: errors.New("db down"), wantCode: http.StatusInternalServerError, wantLimit: defaultLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lister := &mockLister{err: tt.err}
			w := httptest.NewRecorder()
			NewHandler(lister, nil).HandleList(w, authed(httptest.NewRequest(http.MethodGet, "/api/v1/notifications"+tt.query, nil)))

			if w.Code != tt.wantCode {
				t.Fatalf("Expected status %d, got %d", tt.wantCode, w.Code)
			}
			if lister.gotLimit != tt.wantLimit {
				t.Errorf("Expected limit %d, got %d", tt.wantLimit, lister.gotLimit)
			}
			if w.Code != http.StatusOK {
				return
			}
			var body struct {
				Notifications []notifications.Notification `json:"notifications"`
			}
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if len(body.Notifications) != 1 || body.Notifications[0].SlugID != "n-1" {
				t.Errorf("Unexpected body: %+v", body)
			}
		})
	}
}

func TestHandleStream(t *testing.T) {
	streamer := &mockStreamer{}
	h := NewHandler(nil, streamer)

	w := httptest.NewRecorder()
	h.HandleStream(w, httptest.NewRequest(http.MethodGet, "/api/v1/notifications/stream", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.HandleStream(w, authed(httptest.NewRequest(http.MethodGet, "/api/v1/notifications/stream", nil)))
	if streamer.userID != "user-1" {
		t.Errorf("Expected stream for user-1, got %q", streamer.userID)
	}
}
