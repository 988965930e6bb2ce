package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func newAuthedRouter(t *testing.T, token string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv("API_AUTH_TOKEN", token)

	r := gin.New()
	r.Use(AuthMiddleware())
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		authHeader string
		wantStatus int
	}{
		{"dev mode without configured token", "", "", http.StatusOK},
		{"missing header", "sekrit", "", http.StatusUnauthorized},
		{"wrong scheme", "sekrit", "Basic sekrit", http.StatusForbidden},
		{"malformed header", "sekrit", "Bearer", http.StatusForbidden},
		{"wrong token", "sekrit", "Bearer nope", http.StatusForbidden},
		{"valid token", "sekrit", "Bearer sekrit", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newAuthedRouter(t, tt.token)

			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("Status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestRateLimiterMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rl := NewRateLimiter(60, 2)
	r := gin.New()
	r.Use(rl.Middleware())
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Burst capacity 2: the first two requests from one IP pass, the
	// third is rejected with a Retry-After hint.
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("Request %d status = %d, want 200 within burst", i+1, w.Code)
		}
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("Request over burst status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("429 response missing Retry-After header")
	}
}

func TestRateLimiterIsolatesIPs(t *testing.T) {
	rl := NewRateLimiter(60, 1)

	if ok, _ := rl.allow("192.0.2.10"); !ok {
		t.Fatal("First request from an IP must be allowed")
	}
	if ok, _ := rl.allow("192.0.2.10"); ok {
		t.Fatal("Second request must exhaust the burst of 1")
	}
	if ok, _ := rl.allow("192.0.2.20"); !ok {
		t.Error("A different IP must have its own bucket")
	}
}

func TestHubBroadcastReachesSubscriber(t *testing.T) {
	gin.SetMode(gin.TestMode)

	hub := NewHub()
	go hub.Run()

	r := gin.New()
	r.GET("/stream", hub.Subscribe)
	srv := httptest.NewServer(r)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer conn.Close()

	// Registration happens in the handler goroutine right after the
	// handshake; give it a moment before broadcasting.
	time.Sleep(200 * time.Millisecond)

	payload := []byte(`{"type":"risk_alert"}`)
	hub.Broadcast(payload)

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Subscriber never received a broadcast message: %v", err)
	}
	if string(msg) != string(payload) {
		t.Errorf("Received %q, want %q", msg, payload)
	}
}
