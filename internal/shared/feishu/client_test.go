package feishu

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func newTestServer(t *testing.T, tokenCalls *int32, got *SendMessageRequest, idType *string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/open-apis/auth/v3/app_access_token/internal", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(tokenCalls, 1)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"code": 0, "msg": "ok", "app_access_token": "t-123", "expire": 7200,
		})
	})
	mux.HandleFunc("/open-apis/im/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer t-123" {
			json.NewEncoder(w).Encode(map[string]interface{}{"code": 99991663, "msg": "invalid token"})
			return
		}
		*idType = r.URL.Query().Get("receive_id_type")
		json.NewDecoder(r.Body).Decode(got)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"code": 0, "msg": "ok", "data": map[string]string{"message_id": "om_1"},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSendEmailCard(t *testing.T) {
	var calls int32
	var got SendMessageRequest
	var idType string
	srv := newTestServer(t, &calls, &got, &idType)
	c := NewClient("app", "secret", WithBaseURL(srv.URL+"/"))

	card := NewNoticeCard("Claim CPM-2026-0001", "blue",
		[]Field{{Label: "Status", Value: "PENDING_APPROVER_REVIEW"}}, "please review", "Open", "http://app/claims/1")

	for i := 0; i < 2; i++ {
		id, err := c.SendEmailCard(context.Background(), "approver@example.com", card)
		if err != nil {
			t.Fatalf("SendEmailCard: %v", err)
		}
		if id != "om_1" {
			t.Errorf("message id = %q", id)
		}
	}
	if calls != 1 {
		t.Errorf("token fetched %d times, want cached", calls)
	}
	if idType != ReceiveIDEmail || got.ReceiveID != "approver@example.com" || got.MsgType != "interactive" {
		t.Errorf("request = %+v (%s)", got, idType)
	}
	if !strings.Contains(got.Content, "PENDING_APPROVER_REVIEW") || !strings.Contains(got.Content, "http://app/claims/1") {
		t.Errorf("content = %s", got.Content)
	}
}

func TestSendCardRequiresReceiver(t *testing.T) {
	c := NewClient("app", "secret", WithBaseURL("http://127.0.0.1:1"))
	if _, err := c.SendCard(context.Background(), "", InteractiveCard{}); err == nil {
		t.Error("expected error for empty chat id")
	}
}

func TestAPIErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"code": 10003, "msg": "invalid app_id"})
	}))
	defer srv.Close()
	c := NewClient("bad", "secret", WithBaseURL(srv.URL))
	_, err := c.SendCard(context.Background(), "oc_1", InteractiveCard{})
	if err == nil || !strings.Contains(err.Error(), "invalid app_id") {
		t.Errorf("err = %v", err)
	}
}
