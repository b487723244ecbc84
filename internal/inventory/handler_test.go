package inventory

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/gerai-pos/gerai/internal/shared"
)

func newTestHandler(t *testing.T, repo *memoryRepo) (*Handler, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHandler(logger, newTestService(repo), validator.New(), client), mr
}

func scopedRequest(method, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	ctx := shared.ContextWithScope(req.Context(), testScope)
	return req.WithContext(ctx)
}

func seedLowStock(t *testing.T, repo *memoryRepo, svc *Service) {
	t.Helper()
	_, _, err := svc.Adjust(context.Background(), testScope, AdjustInput{VariantID: 10, StoreID: 1, Quantity: 2, Type: MovementPurchase})
	require.NoError(t, err)
	key := levelKey(1, 10, 1)
	level := repo.levels[key]
	level.ReorderLevel = 5
	repo.levels[key] = level
}

func TestLowStockCachesSnapshot(t *testing.T) {
	repo := newMemoryRepo()
	handler, mr := newTestHandler(t, repo)
	seedLowStock(t, repo, handler.service)

	r := chi.NewRouter()
	handler.MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, scopedRequest(http.MethodGet, "/inventory/low-stock?storeId=1"))
	require.Equal(t, http.StatusOK, rec.Code)

	var levels []StockLevel
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &levels))
	require.Len(t, levels, 1)
	require.EqualValues(t, 10, levels[0].VariantID)
	require.True(t, mr.Exists("lowstock:1:1"))

	// Restock above the reorder level; the cached snapshot still answers
	// until the TTL lapses.
	_, _, err := handler.service.Adjust(context.Background(), testScope, AdjustInput{VariantID: 10, StoreID: 1, Quantity: 20, Type: MovementPurchase})
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, scopedRequest(http.MethodGet, "/inventory/low-stock?storeId=1"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &levels))
	require.Len(t, levels, 1)

	mr.FastForward(lowStockCacheTTL + time.Second)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, scopedRequest(http.MethodGet, "/inventory/low-stock?storeId=1"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &levels))
	require.Empty(t, levels)
}

func TestLowStockWorksWithoutCache(t *testing.T) {
	repo := newMemoryRepo()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewHandler(logger, newTestService(repo), validator.New(), nil)
	seedLowStock(t, repo, handler.service)

	r := chi.NewRouter()
	handler.MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, scopedRequest(http.MethodGet, "/inventory/low-stock?storeId=1"))
	require.Equal(t, http.StatusOK, rec.Code)

	var levels []StockLevel
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &levels))
	require.Len(t, levels, 1)
}

func TestLowStockRequiresScope(t *testing.T) {
	repo := newMemoryRepo()
	handler, _ := newTestHandler(t, repo)

	r := chi.NewRouter()
	handler.MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/inventory/low-stock", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
