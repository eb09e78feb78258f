package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunevault/tunevault/internal/apperr"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusAccepted, map[string]string{"job_id": "preview:abc"})

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Nil(t, resp.Error)
}

func TestWriteErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{apperr.InvalidUsage("bad request"), http.StatusBadRequest},
		{apperr.NotFound("no session found"), http.StatusNotFound},
		{apperr.NoCandidatesFound("nothing matched"), http.StatusNotFound},
		{apperr.Duplicate("already imported"), http.StatusConflict},
		{apperr.Integrity("missing entries"), http.StatusUnprocessableEntity},
		{assertError("boom"), http.StatusInternalServerError},
	}

	for _, c := range cases {
		rec := httptest.NewRecorder()
		WriteError(rec, c.err)
		assert.Equal(t, c.code, rec.Code, "%v", c.err)

		var resp Response
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "error", resp.Status)
		require.NotNil(t, resp.Error)
	}
}

func TestReadJSONWrapsDecodeErrors(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{broken"))
	var dst map[string]string
	err := ReadJSON(req, &dst)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalidUsage, apperr.KindOf(err))
}

type assertError string

func (e assertError) Error() string { return string(e) }
