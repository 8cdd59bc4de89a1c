package phoenixkit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phoenixkit/phoenixkit/pkg/config"
)

func TestNewValidatesConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Database.SchemaPrefix = ""

	_, err := New(cfg)
	assert.Error(t, err)
}

func TestNewWithNilConfig(t *testing.T) {
	kit, err := New(nil)
	require.NoError(t, err)
	assert.NotNil(t, kit.Logger())
	assert.NotNil(t, kit.Metrics())
	assert.Nil(t, kit.DB())
}

func TestRoutesBeforeInitializeReturnSetupRequired(t *testing.T) {
	kit, err := New(config.DefaultConfig())
	require.NoError(t, err)

	router := mux.NewRouter()
	kit.RegisterRoutes(router)

	req := httptest.NewRequest("GET", "/phoenixkit/roles", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "setup required")
}

func TestInitializeWithoutStore(t *testing.T) {
	for _, key := range []string{
		"DATABASE_URL", "PGHOST", "PGDATABASE",
	} {
		t.Setenv(key, "")
	}

	kit, err := New(config.DefaultConfig())
	require.NoError(t, err)

	assert.Error(t, kit.Initialize(context.Background()))
	assert.Nil(t, kit.Accounts())
}

func TestConcurrentInitializeWithoutStore(t *testing.T) {
	for _, key := range []string{
		"DATABASE_URL", "PGHOST", "PGDATABASE",
	} {
		t.Setenv(key, "")
	}

	kit, err := New(config.DefaultConfig())
	require.NoError(t, err)

	// initialization serializes, so racing callers each fail cleanly
	// and leave the kit in a retryable state with no jobs running
	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			errs[n] = kit.Initialize(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.Error(t, err)
	}
	assert.Nil(t, kit.Accounts())
	assert.Nil(t, kit.Tokens())
}
