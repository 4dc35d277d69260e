package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/taskhive/trustengine/pkg/moderation"
	"github.com/taskhive/trustengine/pkg/store"
)

// JobLookup resolves the job lifecycle state for the gate. Satisfied by
// store.SQLStore and store.MemStore; not part of the engine's own contract.
type JobLookup interface {
	GetJobStatus(ctx context.Context, jobID string) (string, error)
}

// Server exposes the moderation engine over HTTP.
type Server struct {
	engine    *moderation.Engine
	jobs      JobLookup
	appealURL string
}

// NewServer builds the HTTP layer over an engine and a job lookup.
func NewServer(engine *moderation.Engine, jobs JobLookup, appealURL string) *Server {
	return &Server{engine: engine, jobs: jobs, appealURL: appealURL}
}

// Routes returns the server's mux.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/jobs/{id}/messages", s.handleMessage(false))
	mux.HandleFunc("POST /v1/jobs/{id}/bid-messages", s.handleMessage(true))
	mux.HandleFunc("POST /v1/jobs", s.handleJobPost)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return RequestLogger(mux)
}

// messageRequest is the inbound payload for both message endpoints. Sender
// identity and role come from the authenticated session upstream; this
// service trusts its internal callers.
type messageRequest struct {
	SenderID string `json:"sender_id"`
	Text     string `json:"text"`
	IsAdmin  bool   `json:"is_admin,omitempty"`
}

func (s *Server) handleMessage(bid bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := r.PathValue("id")

		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		var req messageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "Invalid request body")
			return
		}
		if req.SenderID == "" || req.Text == "" {
			writeBadRequest(w, "Missing required fields: sender_id, text")
			return
		}

		ctx := r.Context()

		// Restricted accounts are turned away before any scan.
		if allowed, until := s.engine.CheckSenderAllowed(ctx, req.SenderID); !allowed {
			writeJSON(w, http.StatusForbidden, RestrictedResponse{
				Message:         "Your account is temporarily restricted from messaging.",
				RestrictedUntil: until,
			})
			return
		}

		jobStatus, err := s.jobs.GetJobStatus(ctx, jobID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			// Unknown status gates like OPEN; the verdict path continues.
			jobStatus = ""
		}

		mreq := moderation.MessageRequest{
			JobID:         jobID,
			SenderID:      req.SenderID,
			JobStatus:     jobStatus,
			Text:          req.Text,
			SenderIsAdmin: req.IsAdmin,
		}
		var res moderation.Result
		if bid {
			res = s.engine.ModerateBidMessage(ctx, mreq)
		} else {
			res = s.engine.ModerateMessageSend(ctx, mreq)
		}

		if !res.Allowed {
			writeJSON(w, http.StatusBadRequest, BlockResponse{
				Error:       blockMessage(res.BlockCode),
				Code:        res.BlockCode,
				Blocked:     true,
				ReasonCodes: res.ReasonCodes,
				AppealURL:   s.appealURL,
			})
			return
		}

		writeJSON(w, http.StatusAccepted, AcceptedResponse{
			Accepted:     true,
			AppliedScore: res.AppliedScore,
			BypassReason: string(res.Bypass.Reason),
		})
	}
}

// jobPostRequest is the inbound payload for the job-post scan endpoint.
type jobPostRequest struct {
	JobID       string `json:"job_id"`
	ConsumerID  string `json:"consumer_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	IsAdmin     bool   `json:"is_admin,omitempty"`
}

func (s *Server) handleJobPost(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req jobPostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid request body")
		return
	}
	if req.ConsumerID == "" {
		writeBadRequest(w, "Missing required field: consumer_id")
		return
	}

	ctx := r.Context()
	if allowed, until := s.engine.CheckSenderAllowed(ctx, req.ConsumerID); !allowed {
		writeJSON(w, http.StatusForbidden, RestrictedResponse{
			Message:         "Your account is temporarily restricted from posting.",
			RestrictedUntil: until,
		})
		return
	}

	res := s.engine.ModerateJobPost(ctx, moderation.JobPostRequest{
		JobID:      req.JobID,
		ConsumerID: req.ConsumerID,
		Text:       fmt.Sprintf("%s %s", req.Title, req.Description),
		IsAdmin:    req.IsAdmin,
	})

	writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted":      true,
		"applied_score": res.AppliedScore,
		"shadow_hidden": res.ShadowHidden,
	})
}

func blockMessage(code string) string {
	if code == moderation.CodeContactInfoNotAllowed {
		return "Sharing contact details is not allowed until the job is awarded."
	}
	return "This message violates our community guidelines."
}
