package config

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/alris/cms-backend/pkg/schema"
	"github.com/alris/cms-backend/pkg/service"
)

const (
	defaultExtension = "yaml"
	defaultTagName   = "yaml"
)

// Values the managed backend falls back to when it is not configured. They
// let the server start, and every call made with them fails.
const (
	PlaceholderURL    = "https://placeholder.supabase.co"
	PlaceholderAPIKey = "placeholder-key"
)

var templateValues = []string{"YOUR_SUPABASE_URL", "YOUR_SUPABASE_ANON_KEY"}

const (
	BackendPostgREST = "postgrest"
	BackendPostgres  = "postgres"
	BackendPgx       = "pgx"
	BackendSQLite    = "sqlite"
	BackendSQLServer = "sqlserver"
	BackendRethinkDB = "rethinkdb"
)

type Binder interface {
	Bind(v *viper.Viper) error
}

type Loader interface {
	Load(name, path, envPrefix string, binder Binder) (Config, error)
}

type Config struct {
	Server   Server   `yaml:"server"`
	Backend  Backend  `yaml:"backend"`
	Auth     Auth     `yaml:"auth"`
	Sessions Sessions `yaml:"sessions"`
	Cookies  Cookies  `yaml:"cookies"`
	Console  Console  `yaml:"console"`

	LogLevel string `yaml:"log_level"`
	Debug    bool   `yaml:"debug"`
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Server, validation.Required),
		validation.Field(&c.Backend, validation.Required),
		validation.Field(&c.Auth, validation.Required),
		validation.Field(&c.Sessions, validation.Required),
		validation.Field(&c.Cookies, validation.Required),
		validation.Field(&c.Console, validation.Required),
		validation.Field(&c.LogLevel, validation.Required, validation.In("trace", "debug", "info", "warn", "error")),
	)
}

// ApplyFallbacks replaces a missing or template managed-backend URL and key
// with placeholders, and returns one error per replaced value so the caller
// can report them without refusing to start.
func (c *Config) ApplyFallbacks() []error {
	var problems []error

	fix := func(name string, value *string, fallback string) {
		v := strings.TrimSpace(*value)
		if v != "" && !isTemplateValue(v) {
			return
		}

		problems = append(problems, fmt.Errorf("%s is not configured, using %q", name, fallback))
		*value = fallback
	}

	if c.Backend.Kind == BackendPostgREST {
		fix("backend.url", &c.Backend.URL, PlaceholderURL)
		fix("backend.api_key", &c.Backend.APIKey, PlaceholderAPIKey)
	}

	fix("auth.url", &c.Auth.URL, PlaceholderURL)
	fix("auth.api_key", &c.Auth.APIKey, PlaceholderAPIKey)

	return problems
}

func isTemplateValue(v string) bool {
	for _, t := range templateValues {
		if strings.EqualFold(v, t) {
			return true
		}
	}

	return false
}

type Server struct {
	Hostname       string   `yaml:"hostname"`
	Address        string   `yaml:"address"`
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

func (s Server) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Address, validation.Required, is.IP),
		validation.Field(&s.Hostname, validation.Required, is.Host),
		validation.Field(&s.Port, validation.Required, is.Port),
	)
}

// Backend selects and configures the data store every collection lives in.
type Backend struct {
	Kind      string    `yaml:"kind"`
	URL       string    `yaml:"url"`
	APIKey    string    `yaml:"api_key"`
	DSN       string    `yaml:"dsn"`
	Schema    string    `yaml:"schema"`
	IDField   string    `yaml:"id_field"`
	RethinkDB RethinkDB `yaml:"rethinkdb"`

	MaxOpenConnections int `yaml:"max_open_connections"`
	MaxIdleConnections int `yaml:"max_idle_connections"`
	TimeoutSeconds     int `yaml:"timeout_seconds"`
}

func (b Backend) Validate() error {
	sql := b.Kind == BackendPostgres || b.Kind == BackendPgx || b.Kind == BackendSQLite || b.Kind == BackendSQLServer

	return validation.ValidateStruct(&b,
		validation.Field(&b.Kind, validation.Required, validation.In(
			BackendPostgREST, BackendPostgres, BackendPgx, BackendSQLite, BackendSQLServer, BackendRethinkDB,
		)),
		validation.Field(&b.URL, validation.When(b.Kind == BackendPostgREST, validation.Required, is.URL)),
		validation.Field(&b.APIKey, validation.When(b.Kind == BackendPostgREST, validation.Required)),
		validation.Field(&b.DSN, validation.When(sql, validation.Required)),
		validation.Field(&b.RethinkDB, validation.When(b.Kind == BackendRethinkDB, validation.Required)),
	)
}

func (b Backend) Timeout() time.Duration {
	if b.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}

	return time.Duration(b.TimeoutSeconds) * time.Second
}

type RethinkDB struct {
	Address  string `yaml:"address"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

func (r RethinkDB) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Address, validation.Required, is.DialString),
		validation.Field(&r.Database, validation.Required),
	)
}

// Auth configures the hosted identity provider.
type Auth struct {
	URL               string `yaml:"url"`
	APIKey            string `yaml:"api_key"`
	JWTSecret         string `yaml:"jwt_secret"`
	ResetRedirectURL  string `yaml:"reset_redirect_url"`
	SessionTTLSeconds int    `yaml:"session_ttl_seconds"`
}

func (a Auth) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.URL, validation.Required, is.URL),
		validation.Field(&a.APIKey, validation.Required),
		validation.Field(&a.ResetRedirectURL, is.URL),
		validation.Field(&a.SessionTTLSeconds, validation.Required, validation.Min(60)),
	)
}

// Sessions configures the database console sessions are kept in.
type Sessions struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	MaxOpenConnections     int    `yaml:"max_open_connections"`
	MaxIdleConnections     int    `yaml:"max_idle_connections"`
	CleanupIntervalSeconds int    `yaml:"cleanup_interval_seconds"`
}

func (s Sessions) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Driver, validation.Required, validation.In(BackendPostgres, BackendPgx, BackendSQLite, BackendSQLServer)),
		validation.Field(&s.DSN, validation.Required),
		validation.Field(&s.CleanupIntervalSeconds, validation.Min(0)),
	)
}

type Cookies struct {
	Session CookieSettings `yaml:"session"`
	Flash   CookieSettings `yaml:"flash"`
}

func (c Cookies) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Session, validation.Required),
		validation.Field(&c.Flash, validation.Required),
	)
}

type CookieSettings struct {
	Name     string `yaml:"name"`
	MaxAge   int    `yaml:"max_age"`
	Path     string `yaml:"path"`
	Domain   string `yaml:"domain"`
	SameSite string `yaml:"same_site"`
	Secure   bool   `yaml:"secure"`
	HttpOnly bool   `yaml:"http_only"`
}

func (c CookieSettings) GetSameSite() http.SameSite {
	switch c.SameSite {
	case "Strict":
		return http.SameSiteStrictMode
	case "Lax":
		return http.SameSiteLaxMode
	case "None":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteDefaultMode
	}
}

func (c CookieSettings) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Name, validation.Required),
		validation.Field(&c.MaxAge, validation.Required),
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.Domain, validation.Required, is.Host),
		validation.Field(&c.SameSite, validation.Required, validation.In("Strict", "Lax", "None")),
	)
}

// Console holds the list and form defaults and the per-collection policy.
type Console struct {
	DefaultCollection  string                `yaml:"default_collection"`
	DefaultPageSize    int                   `yaml:"default_page_size"`
	PageSizeOptions    []int                 `yaml:"page_size_options"`
	SearchDebounceMs   int                   `yaml:"search_debounce_ms"`
	DefaultSort        Sort                  `yaml:"default_sort"`
	ViewTTLSeconds     int                   `yaml:"view_ttl_seconds"`
	DeletableByDefault bool                  `yaml:"deletable_by_default"`
	Collections        map[string]Collection `yaml:"collections"`
}

func (c Console) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.DefaultCollection, validation.Required),
		validation.Field(&c.DefaultPageSize, validation.Required, validation.Min(1), validation.Max(service.MaxPageSize)),
		validation.Field(&c.PageSizeOptions, validation.Required, validation.Each(validation.Min(1), validation.Max(service.MaxPageSize))),
		validation.Field(&c.SearchDebounceMs, validation.Min(0)),
		validation.Field(&c.ViewTTLSeconds, validation.Required, validation.Min(1)),
		validation.Field(&c.Collections),
	)
}

func (c Console) SearchDebounce() time.Duration {
	return time.Duration(c.SearchDebounceMs) * time.Millisecond
}

func (c Console) ViewTTL() time.Duration {
	return time.Duration(c.ViewTTLSeconds) * time.Second
}

// Policy returns the configured behaviour of a collection. Collections
// without configuration get the defaults and an inferred schema.
func (c Console) Policy(collection string) service.CollectionPolicy {
	coll, ok := c.Collections[strings.ToLower(collection)]
	if !ok {
		return service.CollectionPolicy{Deletable: c.DeletableByDefault}
	}

	deletable := c.DeletableByDefault
	if coll.Deletable != nil {
		deletable = *coll.Deletable
	}

	var static service.Schema
	if len(coll.Fields) > 0 {
		order := make([]string, len(coll.Fields))
		kinds := make(map[string]string, len(coll.Fields))
		for i, f := range coll.Fields {
			order[i] = f.Name
			kinds[f.Name] = f.Kind
		}

		static = schema.Static(order, kinds)
	}

	return service.CollectionPolicy{
		Deletable:    deletable,
		StaticSchema: static,
		SearchFields: coll.SearchFields,
		SlugFrom:     coll.SlugFrom,
	}
}

type Sort struct {
	Field     string `yaml:"field"`
	Ascending bool   `yaml:"ascending"`
}

type Collection struct {
	Deletable    *bool         `yaml:"deletable"`
	Fields       []FieldConfig `yaml:"fields"`
	SearchFields []string      `yaml:"search_fields"`
	SlugFrom     string        `yaml:"slug_from"`
}

func (c Collection) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Fields),
	)
}

type FieldConfig struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`
}

func (f FieldConfig) Validate() error {
	kinds := make([]any, len(service.AllKinds))
	for i, k := range service.AllKinds {
		kinds[i] = string(k)
	}

	return validation.ValidateStruct(&f,
		validation.Field(&f.Name, validation.Required),
		validation.Field(&f.Kind, validation.In(kinds...)),
	)
}

type FileParts struct {
	FileName string
	Path     string
}

func ProcessConfigPath(configFile string) (FileParts, error) {
	absolutePath, err := filepath.Abs(configFile)
	if err != nil {
		return FileParts{}, fmt.Errorf("convert to absolute path: %w", err)
	}

	fileName := filepath.Base(absolutePath)
	path := filepath.Dir(absolutePath)
	extension := filepath.Ext(fileName)

	if strings.ReplaceAll(strings.ToLower(extension), ".", "") != defaultExtension {
		return FileParts{}, fmt.Errorf("config file must have extension %s, got: %s", defaultExtension, extension)
	}

	return FileParts{
		FileName: fileName[:len(fileName)-len(extension)],
		Path:     path,
	}, nil
}

func NewFileSystemLoader() *FileSystemLoader {
	return &FileSystemLoader{}
}

type FileSystemLoader struct{}

func (fs *FileSystemLoader) Load(name, path, envPrefix string, b Binder) (Config, error) {
	v := viper.New()

	v.AddConfigPath(path)
	v.SetConfigName(name)
	v.SetConfigType(defaultExtension)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if b != nil {
		err := b.Bind(v)
		if err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix(envPrefix)

	err := v.ReadInConfig()
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var config Config

	err = v.Unmarshal(&config, func(cfg *mapstructure.DecoderConfig) {
		cfg.TagName = defaultTagName
	})
	if err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	return config, nil
}

// EnvBinder binds config keys to environment variables. A key bound to
// several variables takes the first one that is set.
type EnvBinder struct {
	binders map[string][]string
}

func (e *EnvBinder) Bind(v *viper.Viper) error {
	for key, envVars := range e.binders {
		err := v.BindEnv(append([]string{key}, envVars...)...)
		if err != nil {
			return fmt.Errorf("bind env vars %v to key %s: %w", envVars, key, err)
		}
	}

	return nil
}

func NewEnvBinder(binders map[string][]string) *EnvBinder {
	return &EnvBinder{
		binders: binders,
	}
}

func NewDefaultEnvBinder() *EnvBinder {
	return NewEnvBinder(map[string][]string{
		"backend.url":     {"SUPABASE_URL"},
		"backend.api_key": {"SUPABASE_ANON_KEY"},
		"backend.dsn":     {"DATABASE_URL"},
		"auth.url":        {"SUPABASE_URL"},
		"auth.api_key":    {"SUPABASE_ANON_KEY"},
		"auth.jwt_secret": {"SUPABASE_JWT_SECRET"},
	})
}
