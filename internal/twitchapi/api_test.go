package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

type staticToken string

func (s staticToken) AccessToken(context.Context) (string, error) { return string(s), nil }

type failingToken struct{}

func (failingToken) AccessToken(context.Context) (string, error) { return "", errors.New("no token") }

func TestSendChatMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/helix/chat/messages" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization mismatch: got=%q", got)
		}
		if got := r.Header.Get("Client-Id"); got != "cid" {
			t.Errorf("Client-Id mismatch: got=%q", got)
		}
		var body sendChatRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode failed: %v", err)
		}
		if body.BroadcasterID != "b1" || body.SenderID != "b1" || body.Message != "hello" {
			t.Errorf("unexpected body: %+v", body)
		}
		w.Write([]byte(`{"data":[{"message_id":"m1","is_sent":true}]}`))
	}))
	defer srv.Close()

	c := NewClient(staticToken("tok"), Options{ClientID: "cid", BroadcasterID: "b1", BaseURL: srv.URL})
	if err := c.SendChatMessage(context.Background(), "hello"); err != nil {
		t.Fatalf("SendChatMessage failed: %v", err)
	}
}

func TestSendChatMessageFailures(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "http error", status: http.StatusUnauthorized, body: `{"error":"Unauthorized"}`},
		{name: "dropped", status: http.StatusOK, body: `{"data":[{"message_id":"","is_sent":false,"drop_reason":{"code":"msg_duplicate","message":"duplicate"}}]}`, wantErr: ErrMessageDropped},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := NewClient(staticToken("tok"), Options{BroadcasterID: "b1", BaseURL: srv.URL})
			err := c.SendChatMessage(context.Background(), "hello")
			if err == nil {
				t.Fatalf("expected error")
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("error mismatch: got=%v want=%v", err, tc.wantErr)
			}
		})
	}

	c := NewClient(failingToken{}, Options{BroadcasterID: "b1", BaseURL: "http://127.0.0.1:0"})
	if err := c.SendChatMessage(context.Background(), "hello"); err == nil || !strings.Contains(err.Error(), "access token") {
		t.Fatalf("token failure not reported: %v", err)
	}
}

func TestChatNotifierDryRun(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"data":[{"is_sent":true}]}`))
	}))
	defer srv.Close()

	c := NewClient(staticToken("tok"), Options{BroadcasterID: "b1", BaseURL: srv.URL})
	if err := (ChatNotifier{Client: c, DryRun: true}).SendNotice(context.Background(), "x"); err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	if err := (ChatNotifier{Client: c}).SendNotice(context.Background(), "x"); err != nil {
		t.Fatalf("SendNotice failed: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("call count mismatch: got=%d want=1", got)
	}
}

func TestTruncateMessage(t *testing.T) {
	cases := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{name: "short", in: "hello", limit: 10, want: "hello"},
		{name: "exact", in: "hello", limit: 5, want: "hello"},
		{name: "ascii", in: "hello world", limit: 5, want: "hello"},
		{name: "emoji at boundary", in: "ab🎉🎉", limit: 3, want: "ab🎉"},
		{name: "japanese", in: "ジャックポット", limit: 4, want: "ジャック"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := truncateMessage(tc.in, tc.limit); got != tc.want {
				t.Fatalf("truncateMessage mismatch: got=%q want=%q", got, tc.want)
			}
		})
	}
}

func TestSendChatMessageKeepsMultiByteCharacters(t *testing.T) {
	var received string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body sendChatRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode failed: %v", err)
		}
		received = body.Message
		w.Write([]byte(`{"data":[{"message_id":"m1","is_sent":true}]}`))
	}))
	defer srv.Close()

	c := NewClient(staticToken("tok"), Options{ClientID: "cid", BroadcasterID: "b1", BaseURL: srv.URL})

	// 500 文字ちょうどなら切らない (バイト数は 500 を超える)
	exact := strings.Repeat("a", 498) + "🎉🎉"
	if err := c.SendChatMessage(context.Background(), exact); err != nil {
		t.Fatalf("SendChatMessage failed: %v", err)
	}
	if received != exact {
		t.Fatalf("message within the limit was altered: got suffix %q", received[len(received)-10:])
	}

	long := strings.Repeat("a", 499) + "🎉🎉"
	if err := c.SendChatMessage(context.Background(), long); err != nil {
		t.Fatalf("SendChatMessage failed: %v", err)
	}
	if want := strings.Repeat("a", 499) + "🎉"; received != want {
		t.Fatalf("truncation mismatch: got suffix %q", received[len(received)-10:])
	}
	if strings.ContainsRune(received, '\uFFFD') {
		t.Fatalf("message contains a replacement character")
	}
}
