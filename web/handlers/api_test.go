package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/nexus/internal/engine"
	"github.com/scrypster/nexus/internal/retrieval"
	"github.com/scrypster/nexus/internal/storage"
	"github.com/scrypster/nexus/pkg/types"
)

// MockMemoryService is a mock implementation of MemoryService for testing.
type MockMemoryService struct {
	mock.Mock
}

func (m *MockMemoryService) Create(ctx context.Context, req types.CreateMemoryRequest) (*types.Memory, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Memory), args.Error(1)
}

func (m *MockMemoryService) Get(ctx context.Context, id int64) (*types.Memory, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Memory), args.Error(1)
}

func (m *MockMemoryService) List(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.Memory], error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.PaginatedResult[types.Memory]), args.Error(1)
}

func (m *MockMemoryService) Update(ctx context.Context, id int64, u types.MemoryUpdate) (*types.Memory, error) {
	args := m.Called(ctx, id, u)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Memory), args.Error(1)
}

func (m *MockMemoryService) Delete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockMemoryService) Search(ctx context.Context, req engine.SearchRequest) ([]retrieval.Match, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]retrieval.Match), args.Error(1)
}

func (m *MockMemoryService) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockMemoryService) EmbeddingModel() string {
	return m.Called().String(0)
}

func (m *MockMemoryService) EmbeddingDimensions() int {
	return m.Called().Int(0)
}

func sampleMemory(id int64) *types.Memory {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	return &types.Memory{
		ID:              id,
		AgentID:         "moneytrust",
		Content:         "NVIDIA stock prices drop before earnings calls",
		Category:        "stocks",
		ImportanceScore: 8,
		Embedding:       []float32{1, 0, 0},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestCreateMemory_Success(t *testing.T) {
	svc := new(MockMemoryService)
	h := NewMemoryHandlers(svc, nil)

	req := types.CreateMemoryRequest{
		AgentID:         "moneytrust",
		Content:         "NVIDIA stock prices drop before earnings calls",
		Category:        "stocks",
		ImportanceScore: 8,
	}
	svc.On("Create", mock.Anything, req).Return(sampleMemory(1), nil)

	body, _ := json.Marshal(req)
	r := httptest.NewRequest(http.MethodPost, "/memories/", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.CreateMemory(w, r)

	assert.Equal(t, http.StatusCreated, w.Code)
	var got types.Memory
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, int64(1), got.ID)
	assert.Equal(t, []float32{1, 0, 0}, got.Embedding)
	svc.AssertExpectations(t)
}

func TestCreateMemory_InvalidJSON(t *testing.T) {
	svc := new(MockMemoryService)
	h := NewMemoryHandlers(svc, nil)

	r := httptest.NewRequest(http.MethodPost, "/memories/", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	h.CreateMemory(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestCreateMemory_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", fmt.Errorf("%w: importance_score must be in [1, 10], got 11", types.ErrValidation), http.StatusUnprocessableEntity},
		{"embedding unavailable", fmt.Errorf("embed content: %w", retrieval.ErrEmbeddingUnavailable), http.StatusServiceUnavailable},
		{"dimension mismatch", fmt.Errorf("embed content: %w", retrieval.ErrDimensionMismatch), http.StatusInternalServerError},
		{"unexpected", fmt.Errorf("disk full"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockMemoryService)
			h := NewMemoryHandlers(svc, nil)
			svc.On("Create", mock.Anything, mock.Anything).Return(nil, tt.err)

			r := httptest.NewRequest(http.MethodPost, "/memories/",
				bytes.NewBufferString(`{"agent_id":"a","content":"c","importance_score":11}`))
			w := httptest.NewRecorder()
			h.CreateMemory(w, r)

			assert.Equal(t, tt.status, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, http.StatusText(tt.status), resp.Code)
			assert.Equal(t, tt.err.Error(), resp.Details["error"])
		})
	}
}

func TestListMemories_PassesFilters(t *testing.T) {
	svc := new(MockMemoryService)
	h := NewMemoryHandlers(svc, nil)

	expected := storage.ListOptions{Offset: 10, Limit: 5, Category: "stocks", Query: "NVIDIA"}
	svc.On("List", mock.Anything, expected).Return(&storage.PaginatedResult[types.Memory]{
		Items:  []types.Memory{*sampleMemory(11)},
		Total:  11,
		Offset: 10,
		Limit:  5,
	}, nil)

	r := httptest.NewRequest(http.MethodGet, "/memories/?offset=10&limit=5&category=stocks&q=NVIDIA", nil)
	w := httptest.NewRecorder()
	h.ListMemories(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "11", w.Header().Get("X-Total-Count"))
	var got []types.Memory
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, int64(11), got[0].ID)
	svc.AssertExpectations(t)
}

func TestListMemories_EmptyIsArray(t *testing.T) {
	svc := new(MockMemoryService)
	h := NewMemoryHandlers(svc, nil)
	svc.On("List", mock.Anything, storage.ListOptions{Limit: storage.DefaultListLimit}).
		Return(&storage.PaginatedResult[types.Memory]{}, nil)

	r := httptest.NewRequest(http.MethodGet, "/memories/", nil)
	w := httptest.NewRecorder()
	h.ListMemories(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestListMemories_BadPagination(t *testing.T) {
	svc := new(MockMemoryService)
	h := NewMemoryHandlers(svc, nil)

	for _, target := range []string{
		"/memories/?limit=ten",
		"/memories/?offset=first",
		"/memories/?limit=-3",
		"/memories/?offset=-1",
	} {
		r := httptest.NewRequest(http.MethodGet, target, nil)
		w := httptest.NewRecorder()
		h.ListMemories(w, r)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code, target)
	}
	svc.AssertNotCalled(t, "List", mock.Anything, mock.Anything)
}

func TestListMemories_ZeroLimit(t *testing.T) {
	svc := new(MockMemoryService)
	h := NewMemoryHandlers(svc, nil)
	svc.On("List", mock.Anything, storage.ListOptions{Limit: 1, Category: "stocks"}).
		Return(&storage.PaginatedResult[types.Memory]{
			Items: []types.Memory{*sampleMemory(1)},
			Total: 7,
			Limit: 1,
		}, nil)

	r := httptest.NewRequest(http.MethodGet, "/memories/?limit=0&category=stocks", nil)
	w := httptest.NewRecorder()
	h.ListMemories(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
	assert.Equal(t, "7", w.Header().Get("X-Total-Count"))
	svc.AssertExpectations(t)
}

func TestSearchMemories_Success(t *testing.T) {
	svc := new(MockMemoryService)
	h := NewMemoryHandlers(svc, nil)

	threshold := 0.5
	svc.On("Search", mock.Anything, engine.SearchRequest{Query: "chips", TopK: 2, MinSimilarity: &threshold}).
		Return([]retrieval.Match{
			{Memory: sampleMemory(1), Similarity: 0.9},
			{Memory: sampleMemory(2), Similarity: 0.7},
		}, nil)

	r := httptest.NewRequest(http.MethodGet, "/memories/search?q=chips&top_k=2&min_similarity=0.5", nil)
	w := httptest.NewRecorder()
	h.SearchMemories(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	var got []SearchResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].ID)
	assert.InDelta(t, 0.9, got[0].Similarity, 1e-9)
	assert.Equal(t, "stocks", got[1].Category)
	svc.AssertExpectations(t)
}

func TestSearchMemories_BadParameters(t *testing.T) {
	svc := new(MockMemoryService)
	h := NewMemoryHandlers(svc, nil)

	for _, target := range []string{
		"/memories/search?q=x&top_k=many",
		"/memories/search?q=x&min_similarity=high",
	} {
		r := httptest.NewRequest(http.MethodGet, target, nil)
		w := httptest.NewRecorder()
		h.SearchMemories(w, r)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code, target)
	}
	svc.AssertNotCalled(t, "Search", mock.Anything, mock.Anything)
}

func TestSearchMemories_ZeroTopK(t *testing.T) {
	svc := new(MockMemoryService)
	h := NewMemoryHandlers(svc, nil)

	for _, target := range []string{
		"/memories/search?q=hello&top_k=0",
		"/memories/search?q=hello&top_k=-1",
	} {
		r := httptest.NewRequest(http.MethodGet, target, nil)
		w := httptest.NewRecorder()
		h.SearchMemories(w, r)
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
	}
	svc.AssertNotCalled(t, "Search", mock.Anything, mock.Anything)
}

func TestSearchMemories_InvalidArgument(t *testing.T) {
	svc := new(MockMemoryService)
	h := NewMemoryHandlers(svc, nil)
	svc.On("Search", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("%w: top_k must be in [1, 20], got 50", retrieval.ErrInvalidArgument))

	r := httptest.NewRequest(http.MethodGet, "/memories/search?q=x&top_k=50", nil)
	w := httptest.NewRecorder()
	h.SearchMemories(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetMemory(t *testing.T) {
	svc := new(MockMemoryService)
	h := NewMemoryHandlers(svc, nil)
	svc.On("Get", mock.Anything, int64(1)).Return(sampleMemory(1), nil)
	svc.On("Get", mock.Anything, int64(999)).Return(nil, fmt.Errorf("sqlite: memory 999: %w", storage.ErrNotFound))

	r := httptest.NewRequest(http.MethodGet, "/memories/1", nil)
	r.SetPathValue("id", "1")
	w := httptest.NewRecorder()
	h.GetMemory(w, r)
	assert.Equal(t, http.StatusOK, w.Code)

	r = httptest.NewRequest(http.MethodGet, "/memories/999", nil)
	r.SetPathValue("id", "999")
	w = httptest.NewRecorder()
	h.GetMemory(w, r)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetMemory_NonNumericID(t *testing.T) {
	svc := new(MockMemoryService)
	h := NewMemoryHandlers(svc, nil)

	r := httptest.NewRequest(http.MethodGet, "/memories/abc", nil)
	r.SetPathValue("id", "abc")
	w := httptest.NewRecorder()
	h.GetMemory(w, r)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	svc.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestUpdateMemory_PartialFields(t *testing.T) {
	svc := new(MockMemoryService)
	h := NewMemoryHandlers(svc, nil)

	score := 9
	updated := sampleMemory(1)
	updated.ImportanceScore = score
	svc.On("Update", mock.Anything, int64(1), types.MemoryUpdate{ImportanceScore: &score}).Return(updated, nil)

	r := httptest.NewRequest(http.MethodPatch, "/memories/1", bytes.NewBufferString(`{"importance_score":9}`))
	r.SetPathValue("id", "1")
	w := httptest.NewRecorder()
	h.UpdateMemory(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	var got types.Memory
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 9, got.ImportanceScore)
	svc.AssertExpectations(t)
}

func TestUpdateMemory_NotFound(t *testing.T) {
	svc := new(MockMemoryService)
	h := NewMemoryHandlers(svc, nil)
	svc.On("Update", mock.Anything, int64(999), mock.Anything).Return(nil, storage.ErrNotFound)

	r := httptest.NewRequest(http.MethodPatch, "/memories/999", bytes.NewBufferString(`{"content":"x"}`))
	r.SetPathValue("id", "999")
	w := httptest.NewRecorder()
	h.UpdateMemory(w, r)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteMemory(t *testing.T) {
	svc := new(MockMemoryService)
	h := NewMemoryHandlers(svc, nil)
	svc.On("Delete", mock.Anything, int64(3)).Return(nil)

	r := httptest.NewRequest(http.MethodDelete, "/memories/3", nil)
	r.SetPathValue("id", "3")
	w := httptest.NewRecorder()
	h.DeleteMemory(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())
	svc.AssertExpectations(t)
}

func TestHealth(t *testing.T) {
	svc := new(MockMemoryService)
	h := NewMemoryHandlers(svc, nil)
	svc.On("Count", mock.Anything).Return(3, nil)
	svc.On("EmbeddingModel").Return("all-minilm")
	svc.On("EmbeddingDimensions").Return(384)

	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.Health(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	var got HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "healthy", got.Status)
	assert.Equal(t, 3, got.Memories)
	assert.Equal(t, 384, got.Dimensions)
}

// checkedService adds embedder health reporting to the mock.
type checkedService struct {
	*MockMemoryService
	health engine.EmbedderHealth
}

func (p checkedService) EmbedderHealth(context.Context) engine.EmbedderHealth { return p.health }

type fixedSnapshot time.Time

func (f fixedSnapshot) LastSnapshot() time.Time { return time.Time(f) }

func TestHealth_ReportsEmbedderAndSnapshots(t *testing.T) {
	svc := new(MockMemoryService)
	svc.On("Count", mock.Anything).Return(3, nil)
	svc.On("EmbeddingModel").Return("all-minilm")
	svc.On("EmbeddingDimensions").Return(384)

	taken := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	h := NewMemoryHandlers(checkedService{svc, engine.EmbedderHealth{Reachable: true, Breaker: "closed"}}, nil)
	h.SetSnapshots(fixedSnapshot(taken))

	w := httptest.NewRecorder()
	h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	var got HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "healthy", got.Status)
	require.NotNil(t, got.Embedder)
	assert.Equal(t, "closed", got.Embedder.Breaker)
	require.NotNil(t, got.LastSnapshot)
	assert.True(t, taken.Equal(*got.LastSnapshot))
}

func TestHealth_DegradedWhenEmbedderDown(t *testing.T) {
	svc := new(MockMemoryService)
	svc.On("Count", mock.Anything).Return(0, nil)
	svc.On("EmbeddingModel").Return("all-minilm")
	svc.On("EmbeddingDimensions").Return(0)

	for _, health := range []engine.EmbedderHealth{
		{Reachable: false, Breaker: "closed", Error: "connection refused"},
		{Reachable: true, Breaker: "open"},
	} {
		h := NewMemoryHandlers(checkedService{svc, health}, nil)
		h.SetSnapshots(fixedSnapshot(time.Time{}))

		w := httptest.NewRecorder()
		h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		var got HealthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, "degraded", got.Status)
		assert.Nil(t, got.LastSnapshot, "no snapshot taken yet")
	}
}
