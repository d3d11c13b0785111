package resend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Helpers ---

type sentEmail struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
}

func newFakeResend(t *testing.T, status int) (*httptest.Server, func() (sentEmail, string)) {
	t.Helper()
	var (
		mu   sync.Mutex
		got  sentEmail
		auth string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		_ = json.Unmarshal(body, &got)
		auth = r.Header.Get("Authorization")
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status >= 300 {
			_, _ = io.WriteString(w, `{"statusCode":422,"name":"validation_error","message":"Invalid from field."}`)
			return
		}
		_, _ = io.WriteString(w, `{"id":"49a3999c-0ce1-4ea6-ab68-afcd6dc2e794"}`)
	}))
	t.Cleanup(srv.Close)
	return srv, func() (sentEmail, string) {
		mu.Lock()
		defer mu.Unlock()
		return got, auth
	}
}

// --- Tests ---

func TestSend(t *testing.T) {
	srv, last := newFakeResend(t, http.StatusOK)
	c, err := New(Config{
		APIKey:  "re_test",
		From:    "onboarding@resend.dev",
		To:      "inbox@example.com",
		Timeout: 5 * time.Second,
		BaseURL: srv.URL + "/",
	})
	require.NoError(t, err)

	id, err := c.Send(context.Background(), "Naujas naujienlaiškio prenumeratorius", "Gautas naujas prenumeratos adresas: a@b.lt")
	require.NoError(t, err)
	assert.Equal(t, "49a3999c-0ce1-4ea6-ab68-afcd6dc2e794", id)

	got, auth := last()
	assert.Equal(t, "Bearer re_test", auth)
	assert.Equal(t, "onboarding@resend.dev", got.From)
	assert.Equal(t, []string{"inbox@example.com"}, got.To)
	assert.Equal(t, "Naujas naujienlaiškio prenumeratorius", got.Subject)
	assert.Equal(t, "Gautas naujas prenumeratos adresas: a@b.lt", got.Text)
}

func TestSend_Error(t *testing.T) {
	srv, _ := newFakeResend(t, http.StatusUnprocessableEntity)
	c, err := New(Config{APIKey: "re_test", From: "x", To: "y", BaseURL: srv.URL + "/"})
	require.NoError(t, err)

	_, err = c.Send(context.Background(), "s", "t")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid from field.")
}
