package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the API process.
// All values must come from env (or an env-file loaded by LoadEnvFiles).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Twilio    TwilioConfig
	Admission AdmissionConfig
	Realtime  RealtimeConfig
	Calendar  CalendarConfig

	// PublicBaseURL is the externally reachable https origin of this service.
	// The media-stream and status-callback URLs handed to Twilio are built from it.
	PublicBaseURL string

	// BridgeAPIKey guards the machine-to-machine endpoints used by the media bridge.
	// Empty disables the check.
	BridgeAPIKey string

	// UpstreamTimeout bounds every call to the conversational engine and calendar provider.
	UpstreamTimeout time.Duration
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration
}

type TwilioConfig struct {
	// AuthToken enables X-Twilio-Signature validation when set.
	AuthToken string
}

type AdmissionBackend string

const (
	AdmissionBackendMemory AdmissionBackend = "memory"
	AdmissionBackendRedis  AdmissionBackend = "redis"
)

type AdmissionConfig struct {
	// RateLimit is the number of calls admitted per agent per Window.
	RateLimit int
	Window    time.Duration
	Backend   AdmissionBackend
}

type RealtimeConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	DefaultVoice string
}

type CalendarConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// StatusURL is the operator-facing page the OAuth callback redirects to.
	StatusURL string
}

const (
	defaultAdmissionRateLimit = 20
	defaultAdmissionWindow    = time.Minute
	defaultRealtimeBaseURL    = "https://api.openai.com/v1"
	defaultRealtimeModel      = "gpt-4o-realtime-preview"
	defaultRealtimeVoice      = "alloy"
	defaultUpstreamTimeout    = 15 * time.Second
)

// LoadEnvFiles loads whichever of the given env files exist. Variables already
// present in the environment win.
func LoadEnvFiles(files ...string) (int, error) {
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Admission.Backend = AdmissionBackend(strings.ToLower(strings.TrimSpace(os.Getenv("ADMISSION_BACKEND"))))
	{
		n, err := optionalInt("ADMISSION_RATE_LIMIT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Admission.RateLimit = n
	}
	c.Admission.Window = mustDuration("ADMISSION_WINDOW")

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := optionalInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")

	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")

	c.Realtime.APIKey = os.Getenv("OPENAI_API_KEY")
	c.Realtime.BaseURL = strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	c.Realtime.DefaultModel = strings.TrimSpace(os.Getenv("REALTIME_DEFAULT_MODEL"))
	c.Realtime.DefaultVoice = strings.TrimSpace(os.Getenv("REALTIME_DEFAULT_VOICE"))

	c.Calendar.ClientID = strings.TrimSpace(os.Getenv("GOOGLE_CLIENT_ID"))
	c.Calendar.ClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	c.Calendar.RedirectURL = strings.TrimSpace(os.Getenv("GOOGLE_REDIRECT_URL"))
	c.Calendar.StatusURL = strings.TrimSpace(os.Getenv("CALENDAR_STATUS_URL"))

	c.PublicBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")), "/")
	c.BridgeAPIKey = os.Getenv("BRIDGE_API_KEY")
	c.UpstreamTimeout = mustDuration("UPSTREAM_TIMEOUT")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate reports every configuration problem at once and fills in defaults.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Admission.Backend == "" {
		c.Admission.Backend = AdmissionBackendMemory
	}
	switch c.Admission.Backend {
	case AdmissionBackendMemory:
	case AdmissionBackendRedis:
		if c.Redis.Host == "" {
			errs = append(errs, errors.New("REDIS_HOST is required when ADMISSION_BACKEND=redis"))
		}
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
	default:
		errs = append(errs, fmt.Errorf("ADMISSION_BACKEND must be one of memory, redis, got %q", c.Admission.Backend))
	}
	if c.Admission.RateLimit == 0 {
		c.Admission.RateLimit = defaultAdmissionRateLimit
	}
	if c.Admission.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("ADMISSION_RATE_LIMIT must be positive, got %d", c.Admission.RateLimit))
	}
	if c.Admission.Window <= 0 {
		c.Admission.Window = defaultAdmissionWindow
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}

	if c.Realtime.APIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required"))
	}
	if c.Realtime.BaseURL == "" {
		c.Realtime.BaseURL = defaultRealtimeBaseURL
	}
	if c.Realtime.DefaultModel == "" {
		c.Realtime.DefaultModel = defaultRealtimeModel
	}
	if c.Realtime.DefaultVoice == "" {
		c.Realtime.DefaultVoice = defaultRealtimeVoice
	}

	if c.Calendar.ClientID == "" {
		errs = append(errs, errors.New("GOOGLE_CLIENT_ID is required"))
	}
	if c.Calendar.ClientSecret == "" {
		errs = append(errs, errors.New("GOOGLE_CLIENT_SECRET is required"))
	}
	if c.Calendar.RedirectURL == "" {
		errs = append(errs, errors.New("GOOGLE_REDIRECT_URL is required"))
	}
	if c.Calendar.StatusURL == "" && c.PublicBaseURL != "" {
		c.Calendar.StatusURL = c.PublicBaseURL + "/settings/calendar"
	}

	if c.PublicBaseURL != "" {
		u, err := url.Parse(c.PublicBaseURL)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			errs = append(errs, fmt.Errorf("PUBLIC_BASE_URL must be an absolute http(s) URL, got %q", c.PublicBaseURL))
		}
	}

	if c.UpstreamTimeout <= 0 {
		c.UpstreamTimeout = defaultUpstreamTimeout
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string) (int, error) {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return 0, nil
	}
	return mustInt(key)
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
