package config // package config loads application configuration from environment variables

import (
	"log"     // log is used to report configuration errors and halt execution
	"os"      // os provides access to environment variables
	"strconv" // strconv converts strings to other types
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration values. Each field corresponds to
// an environment variable. The types reflect how the values are used in the
// application: strings for identifiers and secrets, ints and durations for
// limits and timeouts.
type Config struct {
	Env            string // application environment (e.g. "dev", "prod")
	Port           string // HTTP port to listen on
	DBUser         string // database username
	DBPass         string // database password (optional)
	DBHost         string // database host address
	DBPort         string // database port number
	DBName         string // database name
	JWTSecret      string // secret used to sign JWTs
	AccessTTLMin   int    // access token time-to-live in minutes
	RefreshTTLDays int    // refresh token time-to-live in days
	BcryptCost     int    // bcrypt cost for password hashing

	GLM GLMConfig // upstream model endpoints
	S3  S3Config  // object storage for rehosted images
}

// GLMConfig describes the upstream optimization and image generation
// endpoints. Both endpoints share one API key and one retry policy.
type GLMConfig struct {
	APIKey         string        // bearer token for both endpoints
	ChatURL        string        // chat completions endpoint (prompt optimization)
	ImageURL       string        // image generations endpoint
	ChatModel      string        // model tag for the optimizer
	ImageModel     string        // model tag for the generator
	MaxRetries     int           // retries after the first attempt
	BackoffBase    time.Duration // first retry delay; doubles per attempt
	RequestTimeout time.Duration // deadline for a single upstream call
	DailyLimit     int           // generations allowed per user per UTC day
}

// S3Config holds credentials and addressing for S3-compatible object
// storage. Endpoint is optional and enables MinIO or other compatible
// services; when empty the standard AWS URL scheme is used.
type S3Config struct {
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	Endpoint  string
}

// Load reads configuration values from environment variables and returns a
// Config. Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
	// A .env file is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	return Config{
		Env:            must("APP_ENV"),
		Port:           must("APP_PORT"),
		DBUser:         must("DB_USER"),
		DBPass:         os.Getenv("DB_PASS"),
		DBHost:         must("DB_HOST"),
		DBPort:         must("DB_PORT"),
		DBName:         must("DB_NAME"),
		JWTSecret:      must("JWT_SECRET"),
		AccessTTLMin:   mustInt("ACCESS_TOKEN_TTL_MIN"),
		RefreshTTLDays: mustInt("REFRESH_TOKEN_TTL_DAYS"),
		BcryptCost:     mustInt("BCRYPT_COST"),
		GLM: GLMConfig{
			APIKey:         must("GLM_API_KEY"),
			ChatURL:        getenv("GLM_CHAT_URL", "https://api.z.ai/api/paas/v4/chat/completions"),
			ImageURL:       getenv("GLM_IMAGE_URL", "https://api.z.ai/api/paas/v4/images/generations"),
			ChatModel:      getenv("GLM_CHAT_MODEL", "glm-4.7"),
			ImageModel:     getenv("GLM_IMAGE_MODEL", "glm-image"),
			MaxRetries:     envInt("GLM_MAX_RETRIES", 2),
			BackoffBase:    envDur("GLM_BACKOFF_BASE", time.Second),
			RequestTimeout: envDur("GLM_REQUEST_TIMEOUT", 60*time.Second),
			DailyLimit:     envInt("GENERATION_DAILY_LIMIT", 20),
		},
		S3: S3Config{
			Region:    getenv("S3_REGION", "us-east-1"),
			Bucket:    must("S3_BUCKET"),
			AccessKey: os.Getenv("S3_ACCESS_KEY"),
			SecretKey: os.Getenv("S3_SECRET_KEY"),
			Endpoint:  os.Getenv("S3_ENDPOINT"),
		},
	}
}

// must retrieves the value of a required environment variable. If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// mustInt is like must() but converts the retrieved string into an integer.
// If conversion fails, the application logs a fatal error and exits.
func mustInt(key string) int {
	s := must(key)
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, s)
	}
	return n
}
