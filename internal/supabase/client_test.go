package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/unihub-app/unihub/backend/internal/models"
)

func TestListMessages_QueryExcludesHiddenRows(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		if got := r.Header.Get("apikey"); got != "service-key" {
			t.Errorf("apikey header = %q", got)
		}
		w.Write([]byte(`[{"id":"m1","body":"hi","author_id":"bob"}]`))
	}))
	defer srv.Close()

	cli := NewClient(srv.URL, "service-key", nil)
	msgs, err := cli.ListMessages(context.Background(), models.GroupScope("g1"), 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Fatalf("messages = %+v", msgs)
	}

	for _, want := range []string{"group_id=eq.g1", "deleted=is.false", "reported=is.false", "order=created_at.asc", "limit=50"} {
		if !containsParam(gotQuery, want) {
			t.Errorf("query %q missing %q", gotQuery, want)
		}
	}
}

func TestInsertMessage_ReturnsPersistedRow(t *testing.T) {
	var gotRow map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		json.NewDecoder(r.Body).Decode(&gotRow)
		w.Write([]byte(`[{"id":"srv-1","body":"hello","author_id":"alice","created_at":"2025-09-01T12:00:00Z"}]`))
	}))
	defer srv.Close()

	cli := NewClient(srv.URL, "service-key", nil)
	msg := models.Message{AuthorID: "alice", Kind: models.KindText, Body: "hello"}
	msg.SetScope(models.DirectScope("alice", "bob"))

	persisted, err := cli.InsertMessage(context.Background(), msg)
	if err != nil {
		t.Fatal(err)
	}
	if persisted.ID != "srv-1" {
		t.Fatalf("persisted id = %q", persisted.ID)
	}
	if gotRow["dm_key"] != "alice:bob" {
		t.Fatalf("row dm_key = %v, want canonical pair key", gotRow["dm_key"])
	}
	if _, ok := gotRow["reply_to"]; ok {
		t.Fatal("empty reply_to must be omitted from the row")
	}
}

func TestInsertReadReceipts_IgnoresDuplicates(t *testing.T) {
	var gotPrefer, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPrefer = r.Header.Get("Prefer")
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	cli := NewClient(srv.URL, "service-key", nil)
	err := cli.InsertReadReceipts(context.Background(), []models.ReadReceipt{
		{MessageID: "m1", UserID: "alice"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if gotPrefer != "resolution=ignore-duplicates,return=minimal" {
		t.Fatalf("Prefer header = %q", gotPrefer)
	}
	if !containsParam(gotQuery, "on_conflict=message_id,user_id") {
		t.Fatalf("query = %q, missing conflict target", gotQuery)
	}
}

func TestInsertReadReceipts_EmptyIsNoop(t *testing.T) {
	cli := NewClient("http://unreachable.invalid", "service-key", nil)
	if err := cli.InsertReadReceipts(context.Background(), nil); err != nil {
		t.Fatalf("empty batch must not hit the network: %v", err)
	}
}

func TestGetSession_UnauthorizedMeansNoIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	cli := NewClient(srv.URL, "service-key", nil)
	ident, err := cli.GetSession(context.Background(), "expired-token")
	if err != nil {
		t.Fatalf("expired token must not be an error: %v", err)
	}
	if ident != nil {
		t.Fatalf("identity = %+v, want nil", ident)
	}
}

func TestGetSession_ForwardsUserToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer user-token" {
			t.Errorf("Authorization = %q, want the user token, not the service key", got)
		}
		w.Write([]byte(`{"id":"alice","email":"alice@campus.edu"}`))
	}))
	defer srv.Close()

	cli := NewClient(srv.URL, "service-key", nil)
	ident, err := cli.GetSession(context.Background(), "user-token")
	if err != nil {
		t.Fatal(err)
	}
	if ident == nil || ident.ID != "alice" {
		t.Fatalf("identity = %+v", ident)
	}
}

func TestIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message":"permission denied for table messages"}`))
	}))
	defer srv.Close()

	cli := NewClient(srv.URL, "service-key", nil)
	_, err := cli.ListMessages(context.Background(), models.GroupScope("g1"), 0)
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsAuthError(err) {
		t.Fatalf("IsAuthError(%v) = false, want true", err)
	}
	if IsAuthError(errors.New("dial tcp: timeout")) {
		t.Fatal("plain errors must not be auth errors")
	}
}

func TestUploadAttachment_PublicURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/storage/v1/object/attachments/alice/f1.png" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Content-Type"); got != "image/png" {
			t.Errorf("content type = %q", got)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cli := NewClient(srv.URL, "service-key", nil)
	url, err := cli.UploadAttachment(context.Background(), "attachments", "alice/f1.png", []byte{1, 2, 3}, "image/png")
	if err != nil {
		t.Fatal(err)
	}
	want := srv.URL + "/storage/v1/object/public/attachments/alice/f1.png"
	if url != want {
		t.Fatalf("public url = %q, want %q", url, want)
	}
}

func containsParam(query, param string) bool {
	for _, p := range splitQuery(query) {
		if p == param {
			return true
		}
	}
	return false
}

func splitQuery(query string) []string {
	var parts []string
	start := 0
	for i := 0; i <= len(query); i++ {
		if i == len(query) || query[i] == '&' {
			parts = append(parts, query[start:i])
			start = i + 1
		}
	}
	return parts
}
