package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"LiveFM/config"
	"LiveFM/core/auth"
	"LiveFM/core/realtime"
	"LiveFM/core/room"
	"LiveFM/model"
	"LiveFM/repository"
	"LiveFM/storage"
)

type testServer struct {
	*httptest.Server
	hub    *realtime.Hub
	tokens *auth.TokenIssuer
	tuning *config.TuningStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	blobs := storage.NewMemoryStore("/blobs")
	hub := realtime.NewHub()
	go hub.Run(ctx)

	deps := Deps{
		Directory: room.NewDirectory(repository.NewMemoryRoomRepository(), blobs, nil),
		Hub:       hub,
		Tokens:    auth.NewTokenIssuer("test-secret", time.Hour),
		Tuning:    config.NewTuningStore(config.DefaultSyncTuning()),
		Blobs:     blobs,
	}
	srv := httptest.NewServer(New(deps).Handler())
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return &testServer{Server: srv, hub: hub, tokens: deps.Tokens, tuning: deps.Tuning}
}

func (s *testServer) token(t *testing.T, id int64, name string) string {
	t.Helper()
	body, _ := json.Marshal(IssueTokenRequest{UserID: id, Username: name})
	resp, err := http.Post(s.URL+"/api/token", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("issue token status %d", resp.StatusCode)
	}
	var out struct {
		Token string       `json:"token"`
		User  model.Viewer `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode token: %v", err)
	}
	if out.User.ID != id {
		t.Fatalf("token user = %+v", out.User)
	}
	return out.Token
}

func (s *testServer) do(t *testing.T, method, path, token, contentType string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeRoom(t *testing.T, resp *http.Response) *model.Room {
	t.Helper()
	var out RoomResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode room: %v", err)
	}
	return out.Room
}

func TestRoomAPI(t *testing.T) {
	s := newTestServer(t)
	hostToken := s.token(t, 1, "host")
	otherToken := s.token(t, 2, "other")

	var created *model.Room

	t.Run("create requires auth", func(t *testing.T) {
		resp := s.do(t, http.MethodPost, "/api/rooms", "", "application/json", []byte(`{"title":"x"}`))
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status = %d", resp.StatusCode)
		}
		resp = s.do(t, http.MethodPost, "/api/rooms", "forged", "application/json", []byte(`{"title":"x"}`))
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("forged token status = %d", resp.StatusCode)
		}
	})

	t.Run("create rejects empty title", func(t *testing.T) {
		resp := s.do(t, http.MethodPost, "/api/rooms", hostToken, "application/json", []byte(`{"title":"  "}`))
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d", resp.StatusCode)
		}
	})

	t.Run("create with cover upload", func(t *testing.T) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		_ = mw.WriteField("title", "午夜频道")
		fw, _ := mw.CreateFormFile("cover", "night.png")
		_, _ = fw.Write([]byte("\x89PNG\r\n\x1a\nfake"))
		_ = mw.Close()

		resp := s.do(t, http.MethodPost, "/api/rooms", hostToken, mw.FormDataContentType(), buf.Bytes())
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		created = decodeRoom(t, resp)
		if created.HostID != 1 || created.HostName != "host" || created.Title != "午夜频道" {
			t.Errorf("room = %+v", created)
		}
		if !strings.HasSuffix(created.CoverURL, ".png") {
			t.Fatalf("cover url = %q", created.CoverURL)
		}

		cover := s.do(t, http.MethodGet, created.CoverURL, "", "", nil)
		if cover.StatusCode != http.StatusOK {
			t.Errorf("cover status = %d", cover.StatusCode)
		}
	})
	if created == nil {
		t.Fatal("room not created")
	}

	t.Run("list and get", func(t *testing.T) {
		resp := s.do(t, http.MethodGet, "/api/rooms", "", "", nil)
		var list RoomListResponse
		if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
			t.Fatal(err)
		}
		if len(list.Rooms) != 1 || list.Rooms[0].ID != created.ID {
			t.Errorf("list = %+v", list.Rooms)
		}

		resp = s.do(t, http.MethodGet, "/api/rooms/"+created.ID, "", "", nil)
		if got := decodeRoom(t, resp); got.ID != created.ID {
			t.Errorf("get = %+v", got)
		}

		resp = s.do(t, http.MethodGet, "/api/rooms/999999", "", "", nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("missing room status = %d", resp.StatusCode)
		}

		resp = s.do(t, http.MethodGet, "/api/rooms/my", otherToken, "", nil)
		_ = json.NewDecoder(resp.Body).Decode(&list)
		if len(list.Rooms) != 0 {
			t.Errorf("other user hosts %d rooms", len(list.Rooms))
		}
	})

	t.Run("only host can end", func(t *testing.T) {
		resp := s.do(t, http.MethodDelete, "/api/rooms/"+created.ID, otherToken, "", nil)
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("status = %d", resp.StatusCode)
		}
	})

	t.Run("end notifies connected listeners", func(t *testing.T) {
		ctx := context.Background()
		wsURL := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws?token=" + otherToken
		listener, err := realtime.DialWS(ctx, wsURL, "")
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		defer listener.Close()

		sub, err := listener.Subscribe(ctx, model.RoomTopic(created.ID))
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}
		deadline := time.Now().Add(2 * time.Second)
		for s.hub.SubscriberCount(model.RoomTopic(created.ID)) == 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}

		resp := s.do(t, http.MethodDelete, "/api/rooms/"+created.ID, hostToken, "", nil)
		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("status = %d", resp.StatusCode)
		}

		select {
		case ev := <-sub.Events():
			var msg model.RoomMessage
			if err := ev.Decode(&msg); err != nil || !msg.IsRoomEnded() {
				t.Errorf("event %s decoded as %+v (err %v)", ev.Name, msg, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("listener not notified")
		}

		resp = s.do(t, http.MethodGet, "/api/rooms/"+created.ID, "", "", nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("ended room status = %d", resp.StatusCode)
		}
		if cover := s.do(t, http.MethodGet, created.CoverURL, "", "", nil); cover.StatusCode != http.StatusNotFound {
			t.Errorf("cover still served after end: %d", cover.StatusCode)
		}
	})
}

func TestRelayAuth(t *testing.T) {
	s := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"

	t.Run("rejects missing token", func(t *testing.T) {
		if _, err := realtime.DialWS(context.Background(), wsURL, ""); err == nil {
			t.Error("expected dial to fail")
		}
	})

	t.Run("accepts bearer header", func(t *testing.T) {
		ch, err := realtime.DialWS(context.Background(), wsURL, s.token(t, 5, "u5"))
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		defer ch.Close()
		deadline := time.Now().Add(2 * time.Second)
		for s.hub.ClientCount() != 1 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		if s.hub.ClientCount() != 1 {
			t.Errorf("clients = %d", s.hub.ClientCount())
		}
	})
}

func TestTuningEndpoint(t *testing.T) {
	s := newTestServer(t)
	next := config.DefaultSyncTuning()
	next.ManualDrift = 1.5
	s.tuning.Set(next)

	resp := s.do(t, http.MethodGet, "/api/sync/tuning", "", "", nil)
	var out TuningResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.ManualDrift != 1.5 || out.HeartbeatIntervalMs != 4000 || out.HeartbeatDrift != 4 {
		t.Errorf("tuning = %+v", out)
	}
}
