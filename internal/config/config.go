package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the voice server process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App    AppConfig
	Twilio TwilioConfig
	OpenAI OpenAIConfig
	Gate   GateConfig
	Brain  BrainConfig
	Calls  CallsConfig
	Redis  RedisConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicURL is the externally reachable base URL (tunnel or load balancer).
	// When empty, TwiML callback URLs are derived from the request Host header.
	PublicURL string

	// VoiceAPIKey is the shared secret required on call-placement and
	// result-polling endpoints (X-Voice-Key header).
	VoiceAPIKey string
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string

	// Number is the caller ID used for outbound calls (E.164).
	Number string
}

type OpenAIConfig struct {
	APIKey string
	Model  string
	Voice  string

	Temperature float64

	// Server-side voice activity detection thresholds.
	VADThreshold         float64
	VADPrefixPaddingMs   int
	VADSilenceDurationMs int
}

// GateMode selects the inbound authentication policy. The two modes are
// alternative deployment policies, never layered.
type GateMode string

const (
	GateModeAllowlist  GateMode = "allowlist"
	GateModePassphrase GateMode = "passphrase"
)

type GateConfig struct {
	Mode GateMode

	// AllowedCallers are raw phone strings; normalization happens in authgate.
	AllowedCallers []string

	// Passphrase is the spoken shared secret for passphrase mode.
	Passphrase string
}

type BrainConfig struct {
	// URL is the base URL of the backend "brain" HTTP API.
	URL   string
	Token string

	Timeout time.Duration
}

type CallsConfig struct {
	DefaultTimezone string
	PromptsDir      string

	// Contacts maps contact id to an E.164 number for call-by-id placement.
	Contacts map[string]string

	// Retention controls how long terminal registry entries are kept before
	// eviction. Zero disables eviction.
	Retention time.Duration
}

type RedisConfig struct {
	// Host empty disables the redis-backed concurrent-call cap.
	Host string
	Port int

	MaxConcurrentCalls int
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
	c.App.PublicURL = strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_URL")), "/")
	c.App.VoiceAPIKey = os.Getenv("VOICE_API_KEY")

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.Number = strings.TrimSpace(os.Getenv("TWILIO_NUMBER"))

	c.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	c.OpenAI.Model = defaultString("OPENAI_REALTIME_MODEL", "gpt-realtime")
	c.OpenAI.Voice = defaultString("OPENAI_VOICE", "alloy")
	c.OpenAI.Temperature = defaultFloat("OPENAI_TEMPERATURE", 0.8)
	c.OpenAI.VADThreshold = defaultFloat("VAD_THRESHOLD", 0.5)
	c.OpenAI.VADPrefixPaddingMs = defaultInt("VAD_PREFIX_PADDING_MS", 300)
	c.OpenAI.VADSilenceDurationMs = defaultInt("VAD_SILENCE_DURATION_MS", 500)

	c.Gate.AllowedCallers = splitList(os.Getenv("ALLOWED_CALLER_NUMBERS"))
	c.Gate.Passphrase = strings.TrimSpace(os.Getenv("SECURITY_CHALLENGE"))
	if c.Gate.Passphrase != "" {
		c.Gate.Mode = GateModePassphrase
	} else {
		c.Gate.Mode = GateModeAllowlist
	}

	c.Brain.URL = strings.TrimRight(strings.TrimSpace(os.Getenv("BRAIN_URL")), "/")
	c.Brain.Token = os.Getenv("BRAIN_TOKEN")
	c.Brain.Timeout = defaultDuration("BRAIN_TIMEOUT", 45*time.Second)

	c.Calls.DefaultTimezone = defaultString("DEFAULT_TIMEZONE", "America/Los_Angeles")
	c.Calls.PromptsDir = defaultString("PROMPTS_DIR", "prompts")
	c.Calls.Contacts = parseContacts(os.Getenv("CONTACTS"))
	c.Calls.Retention = defaultDuration("CALL_RETENTION", 24*time.Hour)

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port = defaultInt("REDIS_PORT", 6379)
	c.Redis.MaxConcurrentCalls = defaultInt("MAX_CONCURRENT_CALLS", 4)

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
	if c.App.VoiceAPIKey == "" {
		errs = append(errs, errors.New("VOICE_API_KEY is required"))
	}

	if c.Twilio.AccountSID == "" {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID is required"))
	}
	if c.Twilio.AuthToken == "" {
		errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required"))
	}
	if c.Twilio.Number == "" {
		errs = append(errs, errors.New("TWILIO_NUMBER is required"))
	}

	if c.OpenAI.APIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required"))
	}
	if c.OpenAI.VADThreshold <= 0 || c.OpenAI.VADThreshold > 1 {
		errs = append(errs, fmt.Errorf("VAD_THRESHOLD must be in (0, 1], got %v", c.OpenAI.VADThreshold))
	}

	// Fail closed: an allowlist deployment with nothing allowlisted must refuse
	// to start rather than silently reject (or accept) every caller.
	switch c.Gate.Mode {
	case GateModeAllowlist:
		if len(c.Gate.AllowedCallers) == 0 {
			errs = append(errs, errors.New("ALLOWED_CALLER_NUMBERS must include at least one phone number (or set SECURITY_CHALLENGE for passphrase mode)"))
		}
	case GateModePassphrase:
		if len(c.Gate.AllowedCallers) > 0 {
			errs = append(errs, errors.New("ALLOWED_CALLER_NUMBERS and SECURITY_CHALLENGE are mutually exclusive"))
		}
	}

	if c.Brain.URL == "" {
		errs = append(errs, errors.New("BRAIN_URL is required"))
	}
	if c.Brain.Timeout <= 0 {
		errs = append(errs, errors.New("BRAIN_TIMEOUT must be positive"))
	}

	if c.Redis.Host != "" {
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
		if c.Redis.MaxConcurrentCalls <= 0 {
			errs = append(errs, errors.New("MAX_CONCURRENT_CALLS must be positive when REDIS_HOST is set"))
		}
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
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

func defaultString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func defaultInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func defaultFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func defaultDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseContacts parses "id:+14805551234,other:+15551234567" into a map.
// Malformed entries are skipped; empty input yields an empty map.
func parseContacts(raw string) map[string]string {
	contacts := map[string]string{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, number, ok := strings.Cut(part, ":")
		id = strings.TrimSpace(id)
		number = strings.TrimSpace(number)
		if !ok || id == "" || number == "" {
			continue
		}
		contacts[id] = number
	}
	return contacts
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
