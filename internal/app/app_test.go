package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gavv/httpexpect/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadimbarashkov/shortly/internal/adapter/repository/cached"
	"github.com/vadimbarashkov/shortly/internal/adapter/repository/memory"
	"github.com/vadimbarashkov/shortly/internal/config"
	"github.com/vadimbarashkov/shortly/internal/metrics"
	"github.com/vadimbarashkov/shortly/internal/usecase"

	delivery "github.com/vadimbarashkov/shortly/internal/adapter/delivery/http"
)

func testConfig(t *testing.T, driver string) *config.Config {
	t.Helper()

	return &config.Config{
		Env:     config.EnvDev,
		Storage: config.Storage{Driver: driver},
		SQLite:  config.SQLite{Path: filepath.Join(t.TempDir(), "shortly.db")},
		Cache:   config.Cache{MaxItems: 1000},
		Log:     config.Log{Level: "debug"},
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	cfg := testConfig(t, config.StorageMemory)
	cfg.Log.JSON = true

	logger := NewLogger(cfg, &buf)
	logger.Debug("hello")

	assert.Contains(t, buf.String(), `"hello"`)
	assert.Contains(t, buf.String(), `"env":"dev"`)
}

func TestNewURLRepository(t *testing.T) {
	ctx := context.Background()
	logger := NewLogger(testConfig(t, config.StorageMemory), &bytes.Buffer{})

	t.Run("unknown driver", func(t *testing.T) {
		repo, closeRepo, err := newURLRepository(ctx, testConfig(t, "mongo"), logger.Logger, metrics.New())

		assert.Error(t, err)
		assert.Nil(t, repo)
		assert.Nil(t, closeRepo)
	})

	t.Run("memory", func(t *testing.T) {
		repo, closeRepo, err := newURLRepository(ctx, testConfig(t, config.StorageMemory), logger.Logger, metrics.New())
		require.NoError(t, err)
		t.Cleanup(closeRepo)

		assert.IsType(t, &memory.URLRepository{}, repo)
	})

	t.Run("memory with cache", func(t *testing.T) {
		cfg := testConfig(t, config.StorageMemory)
		cfg.Cache.Enabled = true

		repo, closeRepo, err := newURLRepository(ctx, cfg, logger.Logger, metrics.New())
		require.NoError(t, err)
		t.Cleanup(closeRepo)

		assert.IsType(t, &cached.URLRepository{}, repo)
	})

	t.Run("sqlite end to end", func(t *testing.T) {
		repo, closeRepo, err := newURLRepository(ctx, testConfig(t, config.StorageSQLite), logger.Logger, metrics.New())
		require.NoError(t, err)
		t.Cleanup(closeRepo)

		uc := usecase.New(repo, usecase.NewCodeGenerator(repo))
		server := httptest.NewServer(delivery.NewRouter(logger, uc))
		t.Cleanup(server.Close)

		e := httpexpect.WithConfig(httpexpect.Config{
			BaseURL:  server.URL,
			Reporter: httpexpect.NewAssertReporter(t),
			Client: &http.Client{
				CheckRedirect: func(req *http.Request, via []*http.Request) error {
					return http.ErrUseLastResponse
				},
			},
		})

		e.POST("/api/urls/shorten").
			WithJSON(map[string]string{"url": "https://example.com/a", "customCode": "abc"}).
			Expect().
			Status(http.StatusOK).
			JSON().Object().
			Value("data").Object().
			HasValue("short_url", server.URL+"/abc")

		e.POST("/api/urls/shorten").
			WithJSON(map[string]string{"url": "https://example.com/b", "customCode": "abc"}).
			Expect().
			Status(http.StatusBadRequest)

		e.GET("/abc").
			Expect().
			Status(http.StatusFound).
			Header("Location").IsEqual("https://example.com/a")

		e.GET("/api/urls/stats/abc").
			Expect().
			Status(http.StatusOK).
			JSON().Object().
			Value("data").Object().
			HasValue("clicks", 1)

		e.DELETE("/api/urls/abc").Expect().Status(http.StatusOK)
		e.DELETE("/api/urls/abc").Expect().Status(http.StatusNotFound)
		e.GET("/abc").Expect().Status(http.StatusNotFound)
	})
}
