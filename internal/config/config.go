package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	OpenAI   OpenAIConfig
	Twilio   TwilioConfig
	Limits   LimitsConfig
	Features FeaturesConfig
	Business BusinessConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicURL is the externally reachable base URL of this process,
	// e.g. https://bridge.example.com. Stream and webhook URLs handed
	// to the provider are derived from it.
	PublicURL string

	// Debug enables verbose logging of every realtime event.
	Debug bool
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type OpenAIConfig struct {
	APIKey       string
	Organization string
	Project      string
	Model        string
	Voice        string
	AudioFormat  string
}

type TwilioConfig struct {
	AccountSID    string
	AuthToken     string
	PhoneNumber   string
	WebhookSecret string
}

type LimitsConfig struct {
	MaxConcurrentCalls int
	MaxCallDuration    time.Duration
}

type FeaturesConfig struct {
	EnableOutboundCalls   bool
	EnableFunctionCalling bool
	EnableHumanTransfer   bool
	EnableCallRecording   bool
}

type BusinessConfig struct {
	// DefaultInstructions seed the assistant when a call carries no
	// per-call override.
	DefaultInstructions string
}

const (
	defaultModel       = "gpt-4o-realtime-preview-2024-10-01"
	defaultVoice       = "alloy"
	defaultAudioFormat = "g711_ulaw"

	defaultInstructions = "You are a helpful phone assistant. Keep responses short and conversational."
)

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}
	c.App.PublicURL = strings.TrimRight(strings.TrimSpace(os.Getenv("APP_PUBLIC_URL")), "/")
	c.App.Debug = boolEnv("APP_DEBUG", false)

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

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	c.OpenAI.Organization = strings.TrimSpace(os.Getenv("OPENAI_ORGANIZATION"))
	c.OpenAI.Project = strings.TrimSpace(os.Getenv("OPENAI_PROJECT"))
	c.OpenAI.Model = stringEnv("OPENAI_REALTIME_MODEL", defaultModel)
	c.OpenAI.Voice = stringEnv("OPENAI_VOICE", defaultVoice)
	c.OpenAI.AudioFormat = stringEnv("OPENAI_AUDIO_FORMAT", defaultAudioFormat)

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.PhoneNumber = strings.TrimSpace(os.Getenv("TWILIO_PHONE_NUMBER"))
	c.Twilio.WebhookSecret = os.Getenv("TWILIO_WEBHOOK_SECRET")

	c.Limits.MaxConcurrentCalls = intEnv("MAX_CONCURRENT_CALLS", 10)
	c.Limits.MaxCallDuration = durationEnv("MAX_CALL_DURATION", 30*time.Minute)

	c.Features.EnableOutboundCalls = boolEnv("ENABLE_OUTBOUND_CALLS", true)
	c.Features.EnableFunctionCalling = boolEnv("ENABLE_FUNCTION_CALLING", true)
	c.Features.EnableHumanTransfer = boolEnv("ENABLE_HUMAN_TRANSFER", true)
	c.Features.EnableCallRecording = boolEnv("ENABLE_CALL_RECORDING", false)

	c.Business.DefaultInstructions = stringEnv("DEFAULT_INSTRUCTIONS", defaultInstructions)

	if c.DB.SSLMode == "" && !c.IsProduction() {
		// Local-friendly default; production must be explicit.
		c.DB.SSLMode = "disable"
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.PublicURL == "" {
		errs = append(errs, errors.New("APP_PUBLIC_URL is required"))
	} else if !strings.HasPrefix(c.App.PublicURL, "http://") && !strings.HasPrefix(c.App.PublicURL, "https://") {
		errs = append(errs, fmt.Errorf("APP_PUBLIC_URL must start with http:// or https://, got %q", c.App.PublicURL))
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
	if c.DB.SSLMode == "" {
		errs = append(errs, errors.New("DB_SSLMODE is required in production"))
	} else if !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.OpenAI.APIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required"))
	}
	if c.OpenAI.Model == "" {
		errs = append(errs, errors.New("OPENAI_REALTIME_MODEL must not be empty"))
	}
	if !isValidVoice(c.OpenAI.Voice) {
		errs = append(errs, fmt.Errorf("OPENAI_VOICE must be one of alloy, echo, shimmer, got %q", c.OpenAI.Voice))
	}

	if c.Twilio.AccountSID == "" {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID is required"))
	}
	if c.Twilio.AuthToken == "" {
		errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required"))
	}
	if c.Features.EnableOutboundCalls && c.Twilio.PhoneNumber == "" {
		errs = append(errs, errors.New("TWILIO_PHONE_NUMBER is required when outbound calls are enabled"))
	}
	if c.IsProduction() && c.Twilio.WebhookSecret == "" {
		errs = append(errs, errors.New("TWILIO_WEBHOOK_SECRET is required in production"))
	}

	if c.Limits.MaxConcurrentCalls <= 0 {
		errs = append(errs, fmt.Errorf("MAX_CONCURRENT_CALLS must be positive, got %d", c.Limits.MaxConcurrentCalls))
	}
	if c.Limits.MaxCallDuration <= 0 {
		errs = append(errs, fmt.Errorf("MAX_CALL_DURATION must be positive, got %v", c.Limits.MaxCallDuration))
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

// StreamURL is the websocket endpoint providers bridge call audio to.
// The /media-stream path is served by the media gateway deployed behind
// the same public host; this process only hands the URL to the provider.
func (c Config) StreamURL() string {
	u := c.App.PublicURL
	if strings.HasPrefix(u, "https://") {
		u = "wss://" + strings.TrimPrefix(u, "https://")
	} else if strings.HasPrefix(u, "http://") {
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/media-stream"
}

// StatusCallbackURL receives provider call lifecycle webhooks.
func (c Config) StatusCallbackURL() string {
	return c.App.PublicURL + "/webhook/status"
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

func stringEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func intEnv(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func boolEnv(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
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

func isValidVoice(v string) bool {
	switch v {
	case "alloy", "echo", "shimmer":
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
