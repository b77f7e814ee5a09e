package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wangue52/diploma-secure/internal/audit"
	"github.com/wangue52/diploma-secure/internal/diploma"
	"github.com/wangue52/diploma-secure/internal/replacement"
)

func actor(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(ActorHeader))
}

func requireActor(r *http.Request) (string, error) {
	a := actor(r)
	if a == "" {
		return "", fmt.Errorf("%w: %s header is required", diploma.ErrInvalidInput, ActorHeader)
	}
	return a, nil
}

type createRequest struct {
	diploma.StudentData
	Status diploma.Status `json:"status,omitempty"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	who, err := requireActor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req createRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := s.app.Store.Create(r.Context(), chi.URLParam(r, "tenant"), req.StudentData, req.Status, who)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// parseStatuses accepts ?status=A&status=B as well as ?status=A,B.
func parseStatuses(r *http.Request) ([]diploma.Status, error) {
	var out []diploma.Status
	for _, v := range r.URL.Query()["status"] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			st, err := diploma.ParseStatus(strings.ToUpper(part))
			if err != nil {
				return nil, err
			}
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	statuses, err := parseStatuses(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	records, err := s.app.Store.List(r.Context(), chi.URLParam(r, "tenant"), statuses...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if records == nil {
		records = []*diploma.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"diplomas": records, "count": len(records)})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.app.Store.Stats(r.Context(), chi.URLParam(r, "tenant"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.app.Store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type transitionRequest struct {
	From diploma.Status `json:"from"`
	To   diploma.Status `json:"to"`
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	who, err := requireActor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req transitionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	for _, st := range []diploma.Status{req.From, req.To} {
		if _, err := diploma.ParseStatus(string(st)); err != nil {
			writeError(w, r, err)
			return
		}
	}
	rec, err := s.app.Store.ApplyTransition(r.Context(), chi.URLParam(r, "id"), req.From, req.To, who)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type signRequest struct {
	SignerID   string `json:"signerId"`
	SignerRole string `json:"signerRole"`
	diploma.Artifact
}

// signer resolves the signer identity, defaulting to the actor header.
func (req signRequest) signer(r *http.Request) (string, diploma.Role, error) {
	id := strings.TrimSpace(req.SignerID)
	if id == "" {
		id = actor(r)
	}
	if id == "" {
		return "", "", fmt.Errorf("%w: signerId or %s is required", diploma.ErrInvalidInput, ActorHeader)
	}
	role, err := diploma.ParseRole(req.SignerRole)
	if err != nil {
		return "", "", err
	}
	return id, role, nil
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	var req signRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	signerID, role, err := req.signer(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := s.app.Ledger.AppendSignature(r.Context(), chi.URLParam(r, "id"), signerID, role, req.Artifact)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type bulkSignRequest struct {
	DiplomaIDs []string `json:"diplomaIds"`
	signRequest
}

func (s *Server) handleBulkSign(w http.ResponseWriter, r *http.Request) {
	var req bulkSignRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if len(req.DiplomaIDs) == 0 {
		writeError(w, r, fmt.Errorf("%w: diplomaIds must not be empty", diploma.ErrInvalidInput))
		return
	}
	signerID, role, err := req.signer(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	outcomes, err := s.app.Ledger.BulkSign(r.Context(), req.DiplomaIDs, signerID, role, req.Artifact)
	if err != nil {
		writeError(w, r, err)
		return
	}
	summary := map[string]int{}
	for _, o := range outcomes {
		summary[o.Outcome]++
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcomes": outcomes, "summary": summary})
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	records, err := s.app.Ledger.PendingForSigner(r.Context(), chi.URLParam(r, "tenant"), chi.URLParam(r, "signer"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"diplomas": records, "count": len(records)})
}

type replaceRequest struct {
	replacement.Correction
	AuthorityID string `json:"authorityId,omitempty"`
}

func (s *Server) handleReplace(w http.ResponseWriter, r *http.Request) {
	var req replaceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	authority := strings.TrimSpace(req.AuthorityID)
	if authority == "" {
		authority = actor(r)
	}
	res, err := s.app.Replacements.Replace(r.Context(), chi.URLParam(r, "id"), req.Correction, authority)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// handleVerify returns the full verification result for operators.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	res, err := s.app.Verifier.Verify(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handlePublicVerify returns the redacted view. An unknown id is a 404
// carrying the same body shape.
func (s *Server) handlePublicVerify(w http.ResponseWriter, r *http.Request) {
	res, err := s.app.Verifier.Verify(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if !res.Found {
		status = http.StatusNotFound
	}
	writeJSON(w, status, res.Public(s.now()))
}

func (s *Server) handleAuditEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var after uint64
	limit := 100
	if v := q.Get("after"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: after must be a sequence number", diploma.ErrInvalidInput))
			return
		}
		after = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, r, fmt.Errorf("%w: limit must be between 1 and 1000", diploma.ErrInvalidInput))
			return
		}
		limit = n
	}
	tenant := chi.URLParam(r, "tenant")
	var (
		entries any
		err     error
	)
	if subject := q.Get("diploma"); subject != "" {
		entries, err = s.app.Audit.ForSubject(r.Context(), tenant, subject)
	} else {
		entries, err = s.app.Audit.Entries(r.Context(), tenant, after, limit)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenantId": tenant, "entries": entries})
}

func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	res, err := s.app.Audit.VerifyChain(r.Context(), chi.URLParam(r, "tenant"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	var signer *audit.Signer
	if r.URL.Query().Get("attest") != "false" {
		var err error
		if signer, err = s.app.AttestationSigner(r.Context(), tenant); err != nil {
			writeError(w, r, err)
			return
		}
	}
	bundle, err := s.app.Audit.Export(r.Context(), tenant, signer)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

func (s *Server) handleAuditRelease(w http.ResponseWriter, r *http.Request) {
	who, err := requireActor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	tenant := chi.URLParam(r, "tenant")
	if err := s.app.Audit.Release(r.Context(), tenant, who); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"tenantId": tenant, "status": "released"})
}
