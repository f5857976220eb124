package config // package config loads application configuration from environment variables

import (
	"log"     // log is used to report configuration errors and halt execution
	"os"      // os provides access to environment variables
	"strconv" // strconv converts strings to other types
	"strings" // strings splits list-valued variables
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  The types reflect how the values are used in
// the application: strings for identifiers and secrets, ints for durations
// and costs.  Provider fields configure the UddoktaPay gateway; SMTP fields
// configure the confirmation mailer.
type Config struct {
	Env            string // application environment (e.g. "dev", "production")
	Port           string // HTTP port to listen on
	DBUser         string // database username
	DBPass         string // database password (optional)
	DBHost         string // database host address
	DBPort         string // database port number
	DBName         string // database name
	JWTSecret      string // secret used to sign admin JWTs
	AdminTTLMin    int    // admin token time-to-live in minutes
	BcryptCost     int    // bcrypt cost for hashing verification codes
	AdminEmails    []string // emails allowed to request admin access
	ProviderBase   string // payment provider base URL
	ProviderAPIKey string // payment provider API key (required for checkout)
	WebhookSecret  string // optional HMAC secret for webhook signatures
	ClientBaseURL  string // public base URL of the frontend
	ServerBaseURL  string // public base URL of this server (webhook callbacks)
	SMTPHost       string // SMTP relay host (empty disables mail)
	SMTPPort       string // SMTP relay port
	SMTPUser       string // SMTP username
	SMTPPass       string // SMTP password
	SMTPFrom       string // From address on outgoing mail
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.  The provider API key
// is deliberately optional here: its absence is reported per request as a
// configuration error rather than preventing startup, so the rest of the
// API stays usable.
func Load() Config {
	return Config{
		Env:            getenv("APP_ENV", "dev"),
		Port:           getenv("APP_PORT", "3000"),
		DBUser:         must("DB_USER"),
		DBPass:         os.Getenv("DB_PASS"), // empty allowed
		DBHost:         must("DB_HOST"),
		DBPort:         must("DB_PORT"),
		DBName:         must("DB_NAME"),
		JWTSecret:      must("JWT_SECRET"),
		AdminTTLMin:    atoiDefault("ADMIN_TOKEN_TTL_MIN", 720),
		BcryptCost:     atoiDefault("BCRYPT_COST", 10),
		AdminEmails:    splitList(os.Getenv("ADMIN_EMAILS")),
		ProviderBase:   getenv("UDDOKTA_BASE", "https://sandbox.uddoktapay.com"),
		ProviderAPIKey: os.Getenv("UDDOKTA_API_KEY"),
		WebhookSecret:  os.Getenv("UDDOKTA_WEBHOOK_SECRET"),
		ClientBaseURL:  getenv("CLIENT_BASE_URL", "http://localhost:5173"),
		ServerBaseURL:  getenv("SERVER_BASE_URL", "http://localhost:3000"),
		SMTPHost:       os.Getenv("SMTP_HOST"),
		SMTPPort:       getenv("SMTP_PORT", "587"),
		SMTPUser:       os.Getenv("SMTP_USER"),
		SMTPPass:       os.Getenv("SMTP_PASS"),
		SMTPFrom:       getenv("SMTP_FROM", "no-reply@localhost"),
	}
}

// IsProduction reports whether the app runs with production semantics.
// Webhook authentication is strict only in production (dev mode accepts
// unvalidated callbacks with a logged warning).
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production") || strings.EqualFold(c.Env, "prod")
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// atoiDefault is like getenv but converts the value into an integer,
// falling back to the default on parse failure.
func atoiDefault(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// splitList splits a comma-separated env value into trimmed, non-empty,
// lower-cased entries.
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
