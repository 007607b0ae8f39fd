package notify

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestHandler() *Handler {
	return NewHandler(
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithLatency(func() time.Duration { return 0 }),
	)
}

func TestHandler_HandleSend(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantStatus  int
		wantChannel string
	}{
		{
			name:        "sms",
			body:        `{"to":"+919876543210","channel":"sms","body":"Your order is on its way"}`,
			wantStatus:  http.StatusOK,
			wantChannel: ChannelSMS,
		},
		{
			name:        "email",
			body:        `{"to":"buyer@example.com","channel":"email","subject":"Order placed","body":"Thanks"}`,
			wantStatus:  http.StatusOK,
			wantChannel: ChannelEmail,
		},
		{
			name:        "channel defaults to sms",
			body:        `{"to":"+919876543210","body":"hello"}`,
			wantStatus:  http.StatusOK,
			wantChannel: ChannelSMS,
		},
		{
			name:       "unknown channel",
			body:       `{"to":"x","channel":"pigeon","body":"hello"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing recipient",
			body:       `{"channel":"sms","body":"hello"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing body",
			body:       `{"to":"+919876543210","channel":"sms"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed json",
			body:       `{`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/send", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			newTestHandler().HandleSend(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}

			var resp sendResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp.Status != "sent" || resp.Channel != tt.wantChannel {
				t.Errorf("unexpected response: %+v", resp)
			}
		})
	}
}
