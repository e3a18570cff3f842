package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort string
	AppEnv  string

	LogLevel string
	LogDev   bool

	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoTables   DynamoTables
	S3BucketName   string
	SNSTopicARN    string // empty disables ops alerts

	// Messaging gateway (Telegram-style Bot API).
	BotToken      string
	BotAPIBase    string
	BotUsername   string // used to build t.me deep links for verification
	WebhookSecret string

	// Privileged owner identity; compared against incoming admin identities.
	OwnerUserID string
	OwnerEmail  string // empty disables owner email notifications

	// Chain data provider.
	ChainID          string
	ChainAPIBase     string
	ChainAPIKey      string
	ChainRPS         int // client-side request rate cap
	ChainMaxRetries  int
	ChainCallTimeout time.Duration

	// Verification engine tuning.
	SessionIdleTimeout    time.Duration
	TransferMaxAttempts   int
	TransferRetryCooldown time.Duration
	InviteTTL             time.Duration
	SweepInterval         time.Duration

	JWTPrivateKeyPath string
	JWTPublicKeyPath  string
	JWTExpiry         time.Duration

	SMTPHost     string
	SMTPPort     string
	SMTPFrom     string
	SMTPUsername string
	SMTPPassword string

	AllowedOrigins []string // CORS allowed origins for the ops API
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Groups          string
	Links           string
	UserRecords     string
	Whitelist       string
	PendingRequests string
	RejectedGroups  string
	Invites         string
}

// Load reads all configuration from environment variables.
func Load() *Config {
	return &Config{
		AppPort: getEnv("APP_PORT", "3000"),
		AppEnv:  getEnv("APP_ENV", "development"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogDev:   getEnv("LOG_DEV", "") == "1",

		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			Groups:          getEnv("DYNAMO_TABLE_GROUPS", "groups"),
			Links:           getEnv("DYNAMO_TABLE_LINKS", "verification_links"),
			UserRecords:     getEnv("DYNAMO_TABLE_USER_RECORDS", "user_records"),
			Whitelist:       getEnv("DYNAMO_TABLE_WHITELIST", "whitelist"),
			PendingRequests: getEnv("DYNAMO_TABLE_PENDING_REQUESTS", "pending_requests"),
			RejectedGroups:  getEnv("DYNAMO_TABLE_REJECTED_GROUPS", "rejected_groups"),
			Invites:         getEnv("DYNAMO_TABLE_INVITES", "invites"),
		},
		S3BucketName: getEnv("S3_BUCKET_NAME", "tokengate-exports"),
		SNSTopicARN:  getEnv("SNS_TOPIC_ARN", ""),

		BotToken:      getEnv("BOT_TOKEN", ""),
		BotAPIBase:    getEnv("BOT_API_BASE", "https://api.telegram.org"),
		BotUsername:   getEnv("BOT_USERNAME", ""),
		WebhookSecret: getEnv("WEBHOOK_SECRET", ""),

		OwnerUserID: getEnv("OWNER_USER_ID", ""),
		OwnerEmail:  getEnv("OWNER_EMAIL", ""),

		ChainID:          getEnv("CHAIN_ID", "eth"),
		ChainAPIBase:     getEnv("CHAIN_API_BASE", "https://deep-index.moralis.io/api/v2.2"),
		ChainAPIKey:      getEnv("CHAIN_API_KEY", ""),
		ChainRPS:         getEnvInt("CHAIN_RPS", 20),
		ChainMaxRetries:  getEnvInt("CHAIN_MAX_RETRIES", 3),
		ChainCallTimeout: getEnvDur("CHAIN_CALL_TIMEOUT_SECONDS", 10*time.Second),

		SessionIdleTimeout:    getEnvDur("SESSION_IDLE_TIMEOUT_SECONDS", 30*time.Minute),
		TransferMaxAttempts:   getEnvInt("TRANSFER_MAX_ATTEMPTS", 3),
		TransferRetryCooldown: getEnvDur("TRANSFER_RETRY_COOLDOWN_SECONDS", 60*time.Second),
		InviteTTL:             getEnvDur("INVITE_TTL_SECONDS", 10*time.Minute),
		SweepInterval:         getEnvDur("SWEEP_INTERVAL_SECONDS", 6*time.Hour),

		JWTPrivateKeyPath: getEnv("JWT_PRIVATE_KEY_PATH", ""),
		JWTPublicKeyPath:  getEnv("JWT_PUBLIC_KEY_PATH", "./public_key.pem"),
		JWTExpiry:         getEnvDur("JWT_EXPIRY_SECONDS", 24*time.Hour),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnv("SMTP_PORT", "587"),
		SMTPFrom:     getEnv("SMTP_FROM", "tokengate@example.com"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),

		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// getEnvDur reads a whole-seconds env var as a time.Duration.
func getEnvDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}
