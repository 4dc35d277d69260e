package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskhive/trustengine/pkg/escalation"
	"github.com/taskhive/trustengine/pkg/moderation"
	"github.com/taskhive/trustengine/pkg/riskscan"
	"github.com/taskhive/trustengine/pkg/store"
)

var serverNow = time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

type serverClock struct{}

func (serverClock) Now() time.Time { return serverNow }

func newTestServer(st *store.MemStore) *Server {
	scanner := riskscan.NewScanner(nil, st).WithClock(serverClock{})
	policy := escalation.NewPolicy(st, st, nil).WithClock(serverClock{}.Now)
	engine := moderation.NewEngine(st, scanner, policy, moderation.DefaultConfig()).WithClock(serverClock{}.Now)
	return NewServer(engine, st, "https://help.taskhive.app/trust/appeals")
}

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHandleMessage_BlockedContactInfo(t *testing.T) {
	st := store.NewMemStore()
	st.SeedUser("prov-1", 10)
	st.JobStatuses["job-1"] = "OPEN"
	h := newTestServer(st).Routes()

	w := postJSON(t, h, "/v1/jobs/job-1/messages",
		`{"sender_id":"prov-1","text":"call me at 555-222-1111"}`)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	// The body is a documented client contract: assert the raw JSON keys.
	assert.JSONEq(t, `{
		"error": "Sharing contact details is not allowed until the job is awarded.",
		"code": "CONTACT_INFO_NOT_ALLOWED",
		"blocked": true,
		"reasonCodes": ["CONTACT_INFO"],
		"appealUrl": "https://help.taskhive.app/trust/appeals"
	}`, w.Body.String())
}

func TestHandleMessage_BlockedScamKeyword(t *testing.T) {
	st := store.NewMemStore()
	st.SeedUser("user-1", 0)
	st.JobStatuses["job-1"] = "OPEN"
	h := newTestServer(st).Routes()

	w := postJSON(t, h, "/v1/jobs/job-1/messages",
		`{"sender_id":"user-1","text":"pay me via western union"}`)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{
		"error": "This message violates our community guidelines.",
		"code": "MESSAGE_BLOCKED",
		"blocked": true,
		"reasonCodes": ["BANNED_KEYWORD"],
		"appealUrl": "https://help.taskhive.app/trust/appeals"
	}`, w.Body.String())
}

func TestHandleMessage_Accepted(t *testing.T) {
	st := store.NewMemStore()
	st.SeedUser("user-1", 0)
	st.JobStatuses["job-1"] = "OPEN"
	h := newTestServer(st).Routes()

	w := postJSON(t, h, "/v1/jobs/job-1/messages",
		`{"sender_id":"user-1","text":"See you Tuesday at 9"}`)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"accepted": true, "appliedScore": 0}`, w.Body.String())
}

func TestHandleMessage_BypassOnAwardedJob(t *testing.T) {
	st := store.NewMemStore()
	st.SeedUser("prov-1", 10)
	st.JobStatuses["job-1"] = "AWARDED"
	h := newTestServer(st).Routes()

	w := postJSON(t, h, "/v1/jobs/job-1/messages",
		`{"sender_id":"prov-1","text":"call me at 555-222-1111"}`)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{
		"accepted": true,
		"appliedScore": 0,
		"bypassReason": "job_status_awarded_or_later"
	}`, w.Body.String())
}

func TestHandleMessage_UnknownJobGatesLikeOpen(t *testing.T) {
	st := store.NewMemStore()
	st.SeedUser("prov-1", 0)
	h := newTestServer(st).Routes()

	w := postJSON(t, h, "/v1/jobs/nope/messages",
		`{"sender_id":"prov-1","text":"call me at 555-222-1111"}`)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleMessage_RestrictedSender(t *testing.T) {
	st := store.NewMemStore()
	st.SeedUser("user-1", 0)
	until := serverNow.Add(2 * time.Hour)
	require.NoError(t, st.SetRestrictedUntil(t.Context(), "user-1", until))
	h := newTestServer(st).Routes()

	w := postJSON(t, h, "/v1/jobs/job-1/messages",
		`{"sender_id":"user-1","text":"hello there"}`)

	require.Equal(t, http.StatusForbidden, w.Code)

	var body RestrictedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Your account is temporarily restricted from messaging.", body.Message)
	assert.True(t, body.RestrictedUntil.Equal(until))
}

func TestHandleMessage_ValidationErrors(t *testing.T) {
	st := store.NewMemStore()
	h := newTestServer(st).Routes()

	w := postJSON(t, h, "/v1/jobs/job-1/messages", `{"sender_id":"","text":""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Missing required fields")

	w = postJSON(t, h, "/v1/jobs/job-1/messages", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid request body")
}

func TestHandleBidMessage(t *testing.T) {
	st := store.NewMemStore()
	st.SeedUser("prov-1", 0)
	st.JobStatuses["job-2"] = "OPEN"
	text := "Hi, I can start tomorrow, check my profile"
	st.SeedBidMessage("job-2", "prov-1", text, serverNow.Add(-30*time.Minute))
	h := newTestServer(st).Routes()

	w := postJSON(t, h, "/v1/jobs/job-2/bid-messages",
		`{"sender_id":"prov-1","text":"Hi, I can start tomorrow, check my profile"}`)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"accepted": true, "appliedScore": 20}`, w.Body.String())
}

func TestHandleJobPost_ShadowHidden(t *testing.T) {
	st := store.NewMemStore()
	st.SeedUser("consumer-1", 0)
	h := newTestServer(st).Routes()

	w := postJSON(t, h, "/v1/jobs",
		`{"job_id":"job-9","consumer_id":"consumer-1","title":"Cleaner wanted","description":"will pay with gift card"}`)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"accepted": true, "applied_score": 40, "shadow_hidden": true}`, w.Body.String())
	assert.True(t, st.HiddenJobs["job-9"])
}

func TestHandleJobPost_MissingConsumer(t *testing.T) {
	st := store.NewMemStore()
	h := newTestServer(st).Routes()

	w := postJSON(t, h, "/v1/jobs", `{"title":"x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthz(t *testing.T) {
	h := newTestServer(store.NewMemStore()).Routes()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status": "ok"}`, w.Body.String())
}

func TestIPRateLimiter(t *testing.T) {
	rl := NewIPRateLimiter(1, 2)
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	get := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		codes = append(codes, get("10.0.0.1:5000").Code)
	}
	assert.Equal(t, []int{204, 204, 429, 429}, codes)
	assert.Equal(t, "1", get("10.0.0.1:5000").Header().Get("Retry-After"))

	// A different client IP has its own bucket.
	assert.Equal(t, http.StatusNoContent, get("10.0.0.2:5000").Code)
}
