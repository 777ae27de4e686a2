// Package config carga la configuración del servicio: defaults, luego el YAML
// (opcional) y por último las variables de entorno, que siempre ganan.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env     string `yaml:"env" env:"APP_ENV"`
		Name    string `yaml:"name" env:"APP_NAME"`
		Version string `yaml:"version" env:"APP_VERSION"`
	} `yaml:"app"`

	Log struct {
		Level string `yaml:"level" env:"LOG_LEVEL"`
	} `yaml:"log"`

	Server struct {
		Addr string `yaml:"addr" env:"SERVER_ADDR"`
		// PublicURL es la URL externa del backend; con ella se arman los redirect URIs.
		PublicURL          string        `yaml:"public_url" env:"PUBLIC_URL"`
		CORSAllowedOrigins []string      `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
		ReadTimeout        time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
		WriteTimeout       time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
		ShutdownTimeout    time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
	} `yaml:"server"`

	Storage struct {
		// postgres | sqlite
		Driver     string `yaml:"driver" env:"STORAGE_DRIVER"`
		DSN        string `yaml:"dsn" env:"DATABASE_URL"`
		SQLitePath string `yaml:"sqlite_path" env:"SQLITE_PATH"`
	} `yaml:"storage"`

	SessionStore struct {
		// memory | redis
		Driver        string        `yaml:"driver" env:"SESSION_STORE_DRIVER"`
		TTL           time.Duration `yaml:"ttl" env:"OAUTH_SESSION_TTL"`
		SweepInterval time.Duration `yaml:"sweep_interval" env:"OAUTH_SESSION_SWEEP"`
	} `yaml:"session_store"`

	Redis struct {
		Addr     string `yaml:"addr" env:"REDIS_ADDR"`
		Password string `yaml:"password" env:"REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"REDIS_DB"`
		Prefix   string `yaml:"prefix" env:"REDIS_PREFIX"`
	} `yaml:"redis"`

	JWT struct {
		Secret     string        `yaml:"secret" env:"JWT_SECRET"`
		Issuer     string        `yaml:"issuer" env:"JWT_ISSUER"`
		SessionTTL time.Duration `yaml:"session_ttl" env:"JWT_SESSION_TTL"`
	} `yaml:"jwt"`

	Google struct {
		ClientID     string `yaml:"client_id" env:"GOOGLE_CLIENT_ID"`
		ClientSecret string `yaml:"client_secret" env:"GOOGLE_CLIENT_SECRET"`
		// Client ids de las apps nativas (iOS/Android/desktop) aceptados como audience.
		NativeClientIDs []string `yaml:"native_client_ids" env:"GOOGLE_NATIVE_CLIENT_IDS" envSeparator:","`
	} `yaml:"google"`

	Apple struct {
		// Bundle id / service id aceptados como audience del identity token.
		Audiences []string `yaml:"audiences" env:"APPLE_AUDIENCES" envSeparator:","`
	} `yaml:"apple"`

	Facebook struct {
		AppID     string `yaml:"app_id" env:"FACEBOOK_APP_ID"`
		AppSecret string `yaml:"app_secret" env:"FACEBOOK_APP_SECRET"`
	} `yaml:"facebook"`

	Client struct {
		// Base del deep link de resultado del flujo web: <base>/success?token=...
		AppRedirectBase string `yaml:"app_redirect_base" env:"APP_REDIRECT_BASE"`
		// Scheme al que apunta la página de resultado del flujo mobile.
		AppScheme string `yaml:"app_scheme" env:"APP_SCHEME"`
		// Redirect URIs aceptados en el exchange directo (además de loopback y oob).
		AllowedRedirectURIs []string `yaml:"allowed_redirect_uris" env:"ALLOWED_REDIRECT_URIS" envSeparator:","`
	} `yaml:"client"`

	SMTP struct {
		Host     string `yaml:"host" env:"SMTP_HOST"`
		Port     int    `yaml:"port" env:"SMTP_PORT"`
		Username string `yaml:"username" env:"SMTP_USER"`
		Password string `yaml:"password" env:"SMTP_PASS"`
		From     string `yaml:"from" env:"SMTP_FROM"`
		// auto | starttls | ssl | none
		TLSMode string `yaml:"tls_mode" env:"SMTP_TLS_MODE"`
	} `yaml:"smtp"`

	Rate struct {
		Enabled        bool          `yaml:"enabled" env:"RATE_ENABLED"`
		Window         time.Duration `yaml:"window" env:"RATE_WINDOW"`
		PollPerWindow  int           `yaml:"poll_per_window" env:"RATE_POLL_MAX"`
		TokenPerWindow int           `yaml:"token_per_window" env:"RATE_TOKEN_MAX"`
	} `yaml:"rate"`
}

// Defaults retorna una Config con todos los valores por defecto.
func Defaults() *Config {
	var c Config
	c.App.Env = "dev"
	c.App.Name = "beout-auth"
	c.Log.Level = "info"
	c.Server.Addr = ":8080"
	c.Server.PublicURL = "http://localhost:8080"
	c.Server.ReadTimeout = 10 * time.Second
	c.Server.WriteTimeout = 30 * time.Second
	c.Server.ShutdownTimeout = 15 * time.Second
	c.Storage.Driver = "sqlite"
	c.Storage.SQLitePath = "data/beout.db"
	c.SessionStore.Driver = "memory"
	c.SessionStore.TTL = 10 * time.Minute
	c.SessionStore.SweepInterval = time.Minute
	c.Redis.Prefix = "beout"
	c.JWT.Issuer = "beout-auth"
	c.JWT.SessionTTL = 7 * 24 * time.Hour
	c.Client.AppRedirectBase = "beout://oauth"
	c.Client.AppScheme = "com.beout.app"
	c.SMTP.Port = 587
	c.SMTP.TLSMode = "auto"
	c.Rate.Enabled = true
	c.Rate.Window = time.Minute
	c.Rate.PollPerWindow = 120
	c.Rate.TokenPerWindow = 20
	return &c
}

// Load aplica defaults, el YAML en path (si path != "") y luego el entorno.
// No valida: el caller decide cuándo llamar Validate.
func Load(path string) (*Config, error) {
	c := Defaults()

	if path = strings.TrimSpace(path); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("config: env: %w", err)
	}
	c.normalize()
	return c, nil
}

func (c *Config) normalize() {
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	c.SessionStore.Driver = strings.ToLower(strings.TrimSpace(c.SessionStore.Driver))
	c.Server.PublicURL = strings.TrimRight(strings.TrimSpace(c.Server.PublicURL), "/")
	c.Client.AppRedirectBase = strings.TrimRight(strings.TrimSpace(c.Client.AppRedirectBase), "/")
}

// Errores de validación.
var (
	ErrMissingJWTSecret  = errors.New("config: JWT_SECRET is required")
	ErrMissingGoogle     = errors.New("config: GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET are required")
	ErrInvalidDriver     = errors.New("config: invalid driver")
	ErrMissingRedisAddr  = errors.New("config: REDIS_ADDR is required for the redis session store")
	ErrMissingStorageDSN = errors.New("config: DATABASE_URL is required for postgres")
)

// Validate falla ruidosamente si falta algo crítico. En particular no se
// arranca sin secreto de firma de sesiones.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.JWT.Secret) == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	if c.Google.ClientID == "" || c.Google.ClientSecret == "" {
		errs = append(errs, ErrMissingGoogle)
	}
	switch c.Storage.Driver {
	case "postgres":
		if c.Storage.DSN == "" {
			errs = append(errs, ErrMissingStorageDSN)
		}
	case "sqlite":
	default:
		errs = append(errs, fmt.Errorf("%w: storage %q", ErrInvalidDriver, c.Storage.Driver))
	}
	switch c.SessionStore.Driver {
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, ErrMissingRedisAddr)
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("%w: session_store %q", ErrInvalidDriver, c.SessionStore.Driver))
	}
	if c.JWT.SessionTTL <= 0 {
		errs = append(errs, errors.New("config: jwt.session_ttl must be positive"))
	}
	if c.SessionStore.TTL <= 0 {
		errs = append(errs, errors.New("config: session_store.ttl must be positive"))
	}
	return errors.Join(errs...)
}

// IsProd reporta si APP_ENV=prod.
func (c *Config) IsProd() bool { return strings.EqualFold(c.App.Env, "prod") }

// FacebookEnabled reporta si el login web con Facebook está configurado.
func (c *Config) FacebookEnabled() bool {
	return c.Facebook.AppID != "" && c.Facebook.AppSecret != ""
}

// SMTPEnabled reporta si hay un SMTP configurado para notificaciones.
func (c *Config) SMTPEnabled() bool { return c.SMTP.Host != "" && c.SMTP.From != "" }

// GoogleAudiences devuelve todos los client ids aceptados para Google.
func (c *Config) GoogleAudiences() []string {
	out := []string{c.Google.ClientID}
	for _, id := range c.Google.NativeClientIDs {
		if id = strings.TrimSpace(id); id != "" && id != c.Google.ClientID {
			out = append(out, id)
		}
	}
	return out
}
