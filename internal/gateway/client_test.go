package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"estate-auth/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := &config.Config{
		Gateway: config.GatewayConfig{
			BaseURL: server.URL,
			APIKey:  "test-key",
			Timeout: 2 * time.Second,
		},
	}
	return NewClient(cfg, zap.NewNop())
}

func TestSendOTPViaSMS(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/SMS/") {
			t.Errorf("expected SMS path, got %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"Status":"Success","Details":"session-abc"}`)
	})

	result, err := client.SendOTP(context.Background(), "+919876543210")
	if err != nil {
		t.Fatalf("SendOTP failed: %v", err)
	}
	if !result.Success || result.SessionID != "session-abc" {
		t.Errorf("unexpected result: %+v", result)
	}
	if result.Channel != "sms" || result.IsFallback {
		t.Errorf("expected primary sms delivery, got %+v", result)
	}
}

func TestSendOTPFallsBackToVoice(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/VOICE/") {
			fmt.Fprint(w, `{"Status":"Success","Details":"voice-session"}`)
			return
		}
		fmt.Fprint(w, `{"Status":"Error","Details":"sms route down"}`)
	})

	result, err := client.SendOTP(context.Background(), "+919876543210")
	if err != nil {
		t.Fatalf("SendOTP failed: %v", err)
	}
	if !result.Success || result.SessionID != "voice-session" {
		t.Errorf("unexpected result: %+v", result)
	}
	if result.Channel != "voice" || !result.IsFallback {
		t.Errorf("expected voice fallback, got %+v", result)
	}
}

func TestVerifyOTP(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/VERIFY/sess-1/1234") {
			fmt.Fprint(w, `{"Status":"Success","Details":"OTP Matched"}`)
			return
		}
		fmt.Fprint(w, `{"Status":"Error","Details":"OTP Mismatch"}`)
	})

	ok, err := client.VerifyOTP(context.Background(), "sess-1", "1234")
	if err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}
	if !ok.Success {
		t.Error("expected successful verification")
	}

	bad, err := client.VerifyOTP(context.Background(), "sess-1", "9999")
	if err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}
	if bad.Success {
		t.Error("expected mismatch to be unsuccessful")
	}
}

func TestBalance(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/ADDON_SERVICES/BAL/SMS") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"Status":"Success","Details":"412.5"}`)
	})

	balance, err := client.Balance(context.Background())
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if balance != 412.5 {
		t.Errorf("balance = %v, want 412.5", balance)
	}
}

func TestGatewayErrorStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	if _, err := client.VerifyOTP(context.Background(), "sess", "1234"); err == nil {
		t.Error("expected error on non-200 response")
	}
}
