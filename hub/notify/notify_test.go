package notify

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/postforge-ai/postforge/pkg/api"
)

func setupTestHub(t *testing.T, origins []string) (*Hub, *httptest.Server) {
	t.Helper()
	h := New(origins, slog.Default())
	ts := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	t.Cleanup(ts.Close)
	return h, ts
}

func dial(t *testing.T, ts *httptest.Server, email string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "?email=" + email
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestPaymentSucceededReachesRegisteredClient(t *testing.T) {
	h, ts := setupTestHub(t, []string{"*"})
	conn := dial(t, ts, "payer@example.com")

	waitForConnections(t, h, "payer@example.com", 1)
	h.PaymentSucceeded("payer@example.com", "pay-123")

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env api.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	if env.Type != api.TypePaymentSuccess {
		t.Errorf("type = %q, want %q", env.Type, api.TypePaymentSuccess)
	}
	if env.Email != "payer@example.com" {
		t.Errorf("email = %q, want payer@example.com", env.Email)
	}
	payload, ok := env.Payload.(map[string]any)
	if !ok {
		t.Fatalf("payload type = %T, want object", env.Payload)
	}
	if payload["payment_id"] != "pay-123" {
		t.Errorf("payment_id = %v, want pay-123", payload["payment_id"])
	}
}

func TestPaymentSucceededOnlyTargetsOwnEmail(t *testing.T) {
	h, ts := setupTestHub(t, []string{"*"})
	other := dial(t, ts, "other@example.com")

	waitForConnections(t, h, "other@example.com", 1)
	h.PaymentSucceeded("payer@example.com", "pay-123")

	_ = other.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var env api.Envelope
	if err := other.ReadJSON(&env); err == nil {
		t.Fatalf("unexpected envelope for unrelated email: %+v", env)
	}
}

func TestHandleWSRequiresEmail(t *testing.T) {
	_, ts := setupTestHub(t, []string{"*"})

	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleWSRejectsUnknownOrigin(t *testing.T) {
	_, ts := setupTestHub(t, []string{"https://app.example.com"})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "?email=payer@example.com"
	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		_ = conn.Close()
		t.Fatal("dial should fail for a disallowed origin")
	}
	if resp != nil && resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestConnectionRemovedOnClose(t *testing.T) {
	h, ts := setupTestHub(t, []string{"*"})
	conn := dial(t, ts, "payer@example.com")

	waitForConnections(t, h, "payer@example.com", 1)
	_ = conn.Close()
	waitForConnections(t, h, "payer@example.com", 0)
}

// waitForConnections polls until the email has the wanted connection count.
// Registration and teardown race the test goroutine, so this is deadline-based.
func waitForConnections(t *testing.T, h *Hub, email string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.ConnectionCount(email) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("connection count for %s = %d, want %d", email, h.ConnectionCount(email), want)
}
