package config_test

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v3"

	"github.com/alris/cms-backend/pkg/config"
	"github.com/alris/cms-backend/pkg/service"
)

var update = flag.Bool("update", false, "update golden files")

func ptr[T any](v T) *T {
	return &v
}

func newFakeConfig() config.Config {
	cookie := func(name string, maxAge int) config.CookieSettings {
		return config.CookieSettings{
			Name:     name,
			MaxAge:   maxAge,
			Path:     "/",
			Domain:   "localhost",
			SameSite: "Lax",
			Secure:   false,
			HttpOnly: true,
		}
	}

	return config.Config{
		Server: config.Server{
			Hostname: "localhost",
			Address:  "127.0.0.1",
			Port:     "8080",
		},
		Backend: config.Backend{
			Kind:           config.BackendPostgREST,
			URL:            "http://localhost:54321",
			APIKey:         "fake_anon_key",
			Schema:         "public",
			IDField:        "id",
			TimeoutSeconds: 10,
		},
		Auth: config.Auth{
			URL:               "http://localhost:54321/auth/v1",
			APIKey:            "fake_anon_key",
			JWTSecret:         "fake_jwt_secret",
			ResetRedirectURL:  "http://localhost:8080/auth/reset-password",
			SessionTTLSeconds: 3600,
		},
		Sessions: config.Sessions{
			Driver:                 config.BackendSQLite,
			DSN:                    "file:sessions.db",
			MaxOpenConnections:     1,
			MaxIdleConnections:     1,
			CleanupIntervalSeconds: 300,
		},
		Cookies: config.Cookies{
			Session: cookie("cms_session", 3600),
			Flash:   cookie("cms_flash", 60),
		},
		Console: config.Console{
			DefaultCollection: "blogs",
			DefaultPageSize:   10,
			PageSizeOptions:   []int{5, 10, 20, 30, 40, 50},
			SearchDebounceMs:  500,
			DefaultSort:       config.Sort{Field: "id", Ascending: false},
			ViewTTLSeconds:    900,
			Collections: map[string]config.Collection{
				"author": {
					Deletable: ptr(true),
				},
				"blogs": {
					Deletable: ptr(true),
					Fields: []config.FieldConfig{
						{Name: "title", Kind: "string"},
						{Name: "slug", Kind: "string"},
						{Name: "content", Kind: "json"},
						{Name: "synonyms_slug", Kind: "array"},
					},
					SearchFields: []string{"title"},
					SlugFrom:     "title",
				},
			},
		},
		LogLevel: "info",
		Debug:    false,
	}
}

func updateGoldenFiles(t *testing.T, filePath string, cfg config.Config) []byte {
	t.Helper()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		t.Errorf("marshal config: %v", err)
	}

	err = os.WriteFile(filePath, data, 0o600)
	if err != nil {
		t.Errorf("write golden file: %v", err)
	}

	return data
}

func TestValidate(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		config    config.Config
		expectErr bool
	}{
		{
			name:      "Valid config",
			config:    newFakeConfig(),
			expectErr: false,
		},
		{
			name: "Unknown backend",
			config: func() config.Config {
				cfg := newFakeConfig()
				cfg.Backend.Kind = "mongo"

				return cfg
			}(),
			expectErr: true,
		},
		{
			name: "SQL backend without dsn",
			config: func() config.Config {
				cfg := newFakeConfig()
				cfg.Backend.Kind = config.BackendPgx

				return cfg
			}(),
			expectErr: true,
		},
		{
			name: "Unknown field kind",
			config: func() config.Config {
				cfg := newFakeConfig()
				cfg.Console.Collections["blogs"].Fields[0].Kind = "blob"

				return cfg
			}(),
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.config.Validate()
			if err != nil && !tc.expectErr {
				t.Errorf("unexpected error: %v", err)
			}

			if err == nil && tc.expectErr {
				t.Errorf("expected error, got none")
			}
		})
	}
}

func TestLoad(t *testing.T) {
	if *update {
		t.Log("Updating golden files")
		updateGoldenFiles(t, "testdata/config.yaml", newFakeConfig())
		t.Log("Done updating golden files")

		return
	}

	testCases := []struct {
		name      string
		config    string
		path      string
		envPrefix string
		loader    config.Loader
		binder    config.Binder
		envs      map[string]string
		expect    config.Config
		expectErr bool
	}{
		{
			name:   "Standard config",
			config: "config",
			path:   "testdata",
			loader: config.NewFileSystemLoader(),
			expect: newFakeConfig(),
		},
		{
			name:   "Standard config with env overrides",
			config: "config",
			path:   "testdata",
			loader: config.NewFileSystemLoader(),
			expect: func() config.Config {
				cfg := newFakeConfig()
				cfg.Server.Address = "10.0.0.1"

				return cfg
			}(),
			envs: map[string]string{
				"SERVER_ADDRESS": "10.0.0.1",
			},
		},
		{
			name:      "Standard config with env prefix overrides",
			config:    "config",
			path:      "testdata",
			envPrefix: "cms",
			loader:    config.NewFileSystemLoader(),
			expect: func() config.Config {
				cfg := newFakeConfig()
				cfg.Server.Address = "10.0.0.1"

				return cfg
			}(),
			envs: map[string]string{
				"CMS_SERVER_ADDRESS": "10.0.0.1",
			},
		},
		{
			name:      "Supabase environment",
			config:    "config",
			path:      "testdata",
			envPrefix: "cms",
			loader:    config.NewFileSystemLoader(),
			binder:    config.NewDefaultEnvBinder(),
			expect: func() config.Config {
				cfg := newFakeConfig()
				cfg.Backend.URL = "https://project.supabase.co"
				cfg.Auth.URL = "https://project.supabase.co"
				cfg.Backend.APIKey = "real-anon-key"
				cfg.Auth.APIKey = "real-anon-key"

				return cfg
			}(),
			envs: map[string]string{
				"SUPABASE_URL":      "https://project.supabase.co",
				"SUPABASE_ANON_KEY": "real-anon-key",
			},
		},
		{
			name:      "Missing file",
			config:    "nope",
			path:      "testdata",
			loader:    config.NewFileSystemLoader(),
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.envs {
				t.Setenv(k, v)
			}

			cfg, err := tc.loader.Load(tc.config, tc.path, tc.envPrefix, tc.binder)
			if err != nil && !tc.expectErr {
				t.Errorf("unexpected error: %v", err)
			}

			if err == nil && tc.expectErr {
				t.Errorf("expected error, got none")
			}

			if !tc.expectErr {
				if diff := cmp.Diff(tc.expect, cfg); diff != "" {
					t.Errorf("mismatch (-want +got):\n%s", diff)
				}
			}
		})
	}
}

func TestApplyFallbacks(t *testing.T) {
	cfg := newFakeConfig()
	cfg.Backend.URL = "YOUR_SUPABASE_URL"
	cfg.Backend.APIKey = ""
	cfg.Auth.APIKey = "YOUR_SUPABASE_ANON_KEY"

	problems := cfg.ApplyFallbacks()

	assert.Len(t, problems, 3)
	assert.Equal(t, config.PlaceholderURL, cfg.Backend.URL)
	assert.Equal(t, config.PlaceholderAPIKey, cfg.Backend.APIKey)
	assert.Equal(t, config.PlaceholderAPIKey, cfg.Auth.APIKey)
	assert.Equal(t, "http://localhost:54321/auth/v1", cfg.Auth.URL)
	assert.NoError(t, cfg.Validate())
}

func TestConsole_Policy(t *testing.T) {
	console := newFakeConfig().Console

	blogs := console.Policy("blogs")
	assert.True(t, blogs.Deletable)
	assert.Equal(t, "title", blogs.SlugFrom)
	assert.Equal(t, []string{"title"}, blogs.SearchFields)
	assert.Equal(t, []service.Field{
		{Name: "title", Kind: service.KindString},
		{Name: "slug", Kind: service.KindString},
		{Name: "content", Kind: service.KindJSON},
		{Name: "synonyms_slug", Kind: service.KindArray},
	}, blogs.StaticSchema.Fields)

	author := console.Policy("Author")
	assert.True(t, author.Deletable)
	assert.True(t, author.StaticSchema.Empty())

	other := console.Policy("comments")
	assert.False(t, other.Deletable)
	assert.True(t, other.StaticSchema.Empty())
}

func getWorkingDir(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	if err != nil {
		t.Errorf("get working dir: %v", err)
	}

	return wd
}

func TestProcessConfigPath(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		path      string
		expect    config.FileParts
		expectErr bool
	}{
		{
			name: "Valid config path",
			path: "testdata/config.yaml",
			expect: config.FileParts{
				FileName: "config",
				Path:     filepath.Join(getWorkingDir(t), "testdata"),
			},
		},
		{
			name:      "Invalid extension",
			path:      "testdata/config.json",
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := config.ProcessConfigPath(tc.path)
			if err != nil && !tc.expectErr {
				t.Errorf("unexpected error: %v", err)
			}

			if err == nil && tc.expectErr {
				t.Errorf("expected error, got none")
			}

			if !tc.expectErr {
				if diff := cmp.Diff(tc.expect, got); diff != "" {
					t.Errorf("mismatch (-want +got):\n%s", diff)
				}
			}
		})
	}
}
