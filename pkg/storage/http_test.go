package storage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stateflow/stateflow/pkg/models"
)

func writeJunk(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other_wf.json"), []byte("{}"), 0o644))
}

// stubStorageServer implements the remote workflows surface in memory.
type stubStorageServer struct {
	mu     sync.Mutex
	items  map[string]json.RawMessage
	seen   http.Header
	status int // force status when non-zero
}

func newStubStorageServer() *stubStorageServer {
	return &stubStorageServer{items: map[string]json.RawMessage{}}
}

func (s *stubStorageServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/workflows", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.seen = r.Header.Clone()
		if s.status != 0 {
			w.WriteHeader(s.status)
			return
		}
		ids := make([]string, 0, len(s.items))
		for id := range s.items {
			ids = append(ids, id)
		}
		json.NewEncoder(w).Encode(ids)
	})
	mux.HandleFunc("/workflows/", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.seen = r.Header.Clone()
		if s.status != 0 {
			w.WriteHeader(s.status)
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/workflows/")
		switch r.Method {
		case http.MethodGet:
			data, ok := s.items[id]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write(data)
		case http.MethodPut:
			var raw json.RawMessage
			if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			s.items[id] = raw
			w.WriteHeader(http.StatusOK)
		case http.MethodDelete:
			if _, ok := s.items[id]; !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			delete(s.items, id)
			w.WriteHeader(http.StatusOK)
		}
	})
	return mux
}

func TestHTTPAdapter_Contract(t *testing.T) {
	stub := newStubStorageServer()
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	adapter, err := NewHTTPAdapter(HTTPAdapterConfig{BaseURL: srv.URL})
	require.NoError(t, err)
	runAdapterContract(t, adapter)
}

func TestHTTPAdapter_RequiresBaseURL(t *testing.T) {
	_, err := NewHTTPAdapter(HTTPAdapterConfig{})
	assert.Error(t, err)
}

func TestHTTPAdapter_SendsBearerTokenAndHeaders(t *testing.T) {
	stub := newStubStorageServer()
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	adapter, err := NewHTTPAdapter(HTTPAdapterConfig{
		BaseURL: srv.URL,
		APIKey:  "secret-key",
		Headers: map[string]string{"X-Tenant": "acme"},
	})
	require.NoError(t, err)

	_, err = adapter.List(context.Background())
	require.NoError(t, err)

	stub.mu.Lock()
	defer stub.mu.Unlock()
	assert.Equal(t, "Bearer secret-key", stub.seen.Get("Authorization"))
	assert.Equal(t, "acme", stub.seen.Get("X-Tenant"))
}

func TestHTTPAdapter_ServerErrorMapsToStorageError(t *testing.T) {
	stub := newStubStorageServer()
	stub.status = http.StatusInternalServerError
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	adapter, err := NewHTTPAdapter(HTTPAdapterConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	err = adapter.Save(context.Background(), "wf-x", sampleState("wf-x"))
	var storageErr *models.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "save", storageErr.Op)
}

func TestHTTPAdapter_NetworkErrorMapsToStorageError(t *testing.T) {
	adapter, err := NewHTTPAdapter(HTTPAdapterConfig{
		BaseURL: "http://127.0.0.1:1", // nothing listens here
		Timeout: 200 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = adapter.List(context.Background())
	var storageErr *models.StorageError
	assert.ErrorAs(t, err, &storageErr)
}

func TestHTTPAdapter_EscapesWorkflowID(t *testing.T) {
	stub := newStubStorageServer()
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	adapter, err := NewHTTPAdapter(HTTPAdapterConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	id := "team alpha"
	require.NoError(t, adapter.Save(context.Background(), id, sampleState(id)))

	loaded, err := adapter.Load(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, loaded.Definition.ID)
}
