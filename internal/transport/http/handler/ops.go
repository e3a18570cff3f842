package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tokengate/internal/application/export"
	"github.com/tokengate/internal/application/onboarding"
	"github.com/tokengate/internal/application/reverify"
	"github.com/tokengate/internal/application/status"
	"github.com/tokengate/internal/application/verification"
)

// OpsHandler is the operator-facing REST surface: inspect groups and
// requests, drive the approval workflow, export memberships, trigger
// sweeps. The bot itself never calls these.
type OpsHandler struct {
	onboarding onboarding.Service
	status     status.Service
	export     export.Service
	sweeper    reverify.Service
	engine     verification.Service
}

type OpsDeps struct {
	Onboarding onboarding.Service
	Status     status.Service
	Export     export.Service
	Sweeper    reverify.Service
	Engine     verification.Service
}

func NewOpsHandler(deps OpsDeps) *OpsHandler {
	return &OpsHandler{
		onboarding: deps.Onboarding,
		status:     deps.Status,
		export:     deps.Export,
		sweeper:    deps.Sweeper,
		engine:     deps.Engine,
	}
}

func (h *OpsHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.onboarding.Groups(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DataEnvelope{Data: groups})
}

func (h *OpsHandler) GroupStatus(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	st, err := h.status.Get(r.Context(), groupID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DataEnvelope{Data: st})
}

func (h *OpsHandler) MemberStatus(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	userID := chi.URLParam(r, "userID")
	st, err := h.status.Member(r.Context(), groupID, userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DataEnvelope{Data: st})
}

func (h *OpsHandler) ListPendingRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.onboarding.PendingRequests(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DataEnvelope{Data: reqs})
}

func (h *OpsHandler) ListWhitelist(w http.ResponseWriter, r *http.Request) {
	entries, err := h.onboarding.WhitelistedGroups(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DataEnvelope{Data: entries})
}

func (h *OpsHandler) ListBlockedGroups(w http.ResponseWriter, r *http.Request) {
	blocked, err := h.onboarding.BlockedGroups(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DataEnvelope{Data: blocked})
}

// ListRejections returns every group carrying strikes, blocked or not.
func (h *OpsHandler) ListRejections(w http.ResponseWriter, r *http.Request) {
	rejected, err := h.onboarding.Rejections(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DataEnvelope{Data: rejected})
}

func (h *OpsHandler) ActiveSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, DataEnvelope{Data: map[string]int{
		"active": h.engine.ActiveSessions(),
	}})
}

func (h *OpsHandler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	summary, err := h.onboarding.Approve(r.Context(), groupID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: summary})
}

func (h *OpsHandler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	summary, err := h.onboarding.Reject(r.Context(), groupID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: summary})
}

func (h *OpsHandler) ExportGroup(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	url, err := h.export.Export(r.Context(), groupID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DataEnvelope{Data: map[string]string{"url": url}})
}

func (h *OpsHandler) ExportAll(w http.ResponseWriter, r *http.Request) {
	url, err := h.export.SnapshotAll(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DataEnvelope{Data: map[string]string{"url": url}})
}

// TriggerSweep runs a re-verification pass synchronously and returns its
// report. A sweep already in flight maps to 409.
func (h *OpsHandler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.sweeper.RunSweepOnce(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DataEnvelope{Data: report})
}
