package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/tunevault/tunevault/internal/apperr"
	"github.com/tunevault/tunevault/internal/httputil"
	"github.com/tunevault/tunevault/internal/jobs"
	"github.com/tunevault/tunevault/internal/session/state"
	"github.com/tunevault/tunevault/internal/version"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"version":    version.Load().Version,
		"ws_clients": s.wsHub.ClientCount(),
	})
}

// folderRef identifies a folder in every job request. Either the hash
// or the path may be given; a missing hash is computed from the path.
type folderRef struct {
	Hash        string `json:"hash"`
	Path        string `json:"path"`
	FrontendRef string `json:"frontend_ref"`
}

func (s *Server) resolve(ctx context.Context, ref *folderRef) error {
	if ref.Path == "" && ref.Hash == "" {
		return apperr.InvalidUsage("either path or hash is required")
	}
	if ref.Path == "" {
		f, err := s.store.FolderByHash(ctx, ref.Hash)
		if err != nil {
			return err
		}
		ref.Path = f.Path
		return nil
	}
	if ref.Hash == "" {
		hash, err := s.fp.Hash(ref.Path)
		if err != nil {
			return apperr.InvalidUsage("cannot hash %s: %v", ref.Path, err)
		}
		ref.Hash = hash
	}
	return nil
}

// ──────────────────── Job enqueueing ────────────────────

func (s *Server) handleEnqueuePreview(w http.ResponseWriter, r *http.Request) {
	var req folderRef
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := s.resolve(r.Context(), &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	meta, err := s.dispatcher.Preview(r.Context(), req.Hash, req.Path, req.FrontendRef)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, meta)
}

func (s *Server) handleEnqueueAddCandidates(w http.ResponseWriter, r *http.Request) {
	var req struct {
		folderRef
		SearchIDs    []string `json:"search_ids"`
		SearchArtist string   `json:"search_artist"`
		SearchAlbum  string   `json:"search_album"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := s.resolve(r.Context(), &req.folderRef); err != nil {
		httputil.WriteError(w, err)
		return
	}
	meta, err := s.dispatcher.AddCandidates(r.Context(), req.Hash, req.Path,
		req.SearchIDs, req.SearchArtist, req.SearchAlbum, req.FrontendRef)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, meta)
}

func (s *Server) handleEnqueueImport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		folderRef
		CandidateIDs     map[string]string `json:"candidate_ids"`
		DuplicateActions map[string]string `json:"duplicate_actions"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := s.resolve(r.Context(), &req.folderRef); err != nil {
		httputil.WriteError(w, err)
		return
	}
	meta, err := s.dispatcher.ImportCandidate(r.Context(), req.Hash, req.Path,
		req.CandidateIDs, req.DuplicateActions, req.FrontendRef)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, meta)
}

func (s *Server) handleEnqueueImportAuto(w http.ResponseWriter, r *http.Request) {
	var req struct {
		folderRef
		ImportThreshold  *float64          `json:"import_threshold"`
		DuplicateActions map[string]string `json:"duplicate_actions"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := s.resolve(r.Context(), &req.folderRef); err != nil {
		httputil.WriteError(w, err)
		return
	}
	threshold := s.config.StrongRecThresh
	if req.ImportThreshold != nil {
		threshold = *req.ImportThreshold
	}
	meta, err := s.dispatcher.ImportAuto(r.Context(), req.Hash, req.Path,
		threshold, req.DuplicateActions, req.FrontendRef)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, meta)
}

func (s *Server) handleEnqueueImportBootleg(w http.ResponseWriter, r *http.Request) {
	var req folderRef
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := s.resolve(r.Context(), &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	meta, err := s.dispatcher.ImportBootleg(r.Context(), req.Hash, req.Path, req.FrontendRef)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, meta)
}

func (s *Server) handleEnqueueUndo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		folderRef
		DeleteFiles bool `json:"delete_files"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := s.resolve(r.Context(), &req.folderRef); err != nil {
		httputil.WriteError(w, err)
		return
	}
	meta, err := s.dispatcher.ImportUndo(r.Context(), req.Hash, req.Path, req.DeleteFiles, req.FrontendRef)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, meta)
}

func (s *Server) handleJobResult(w http.ResponseWriter, r *http.Request) {
	queue := r.PathValue("queue")
	if queue != jobs.QueuePreview && queue != jobs.QueueImport {
		httputil.WriteError(w, apperr.InvalidUsage("unknown queue %q", queue))
		return
	}
	result := s.dispatcher.Result(queue, r.PathValue("id"))
	if result == nil {
		httputil.WriteJSON(w, http.StatusOK, nil)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(result)
}

func (s *Server) handleRevokeJob(w http.ResponseWriter, r *http.Request) {
	queue := r.PathValue("queue")
	if queue != jobs.QueuePreview && queue != jobs.QueueImport {
		httputil.WriteError(w, apperr.InvalidUsage("unknown queue %q", queue))
		return
	}
	if err := s.dispatcher.Revoke(queue, r.PathValue("id")); err != nil {
		httputil.WriteError(w, apperr.NotFound("job not queued: %v", err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, nil)
}

// ──────────────────── Sessions & inboxes ────────────────────

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.SessionByHash(r.Context(), r.PathValue("hash"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, state.Serialize(sess))
}

func (s *Server) handleGetSessionByPath(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		httputil.WriteError(w, apperr.InvalidUsage("path query parameter is required"))
		return
	}
	sess, err := s.store.SessionByPath(r.Context(), path)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, state.Serialize(sess))
}

func (s *Server) handleListInboxes(w http.ResponseWriter, r *http.Request) {
	type inboxInfo struct {
		Path          string  `json:"path"`
		Autotag       string  `json:"autotag"`
		AutoThreshold float64 `json:"auto_threshold,omitempty"`
	}
	out := make([]inboxInfo, 0, len(s.config.Inboxes))
	for _, in := range s.config.Inboxes {
		out = append(out, inboxInfo{
			Path:          in.Path,
			Autotag:       string(in.Autotag),
			AutoThreshold: in.AutoThreshold,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// ──────────────────── Library ────────────────────

func (s *Server) handleListAlbums(w http.ResponseWriter, r *http.Request) {
	albums, err := s.lib.Albums(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, albums)
}

func (s *Server) handleListAlbumItems(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		httputil.WriteError(w, apperr.InvalidUsage("invalid album id"))
		return
	}
	items, err := s.lib.AlbumItems(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, items)
}
