package config

import "time"

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment string
	Addr        string
	LogLevel    string

	DatabaseDriver string
	DatabaseURL    string

	JWTSecret      string
	AccessTokenTTL time.Duration

	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
	DeployRateLimit    int
	CORSAllowedOrigin  string

	WorkspaceRoot   string
	ArchiveMaxBytes int64

	DockerHost     string
	RegistryUser   string
	RegistryToken  string
	RegistryServer string

	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSSessionToken    string
	AWSDefaultRegion   string
	AWSEndpointURL     string
	HealthWaitTimeout  time.Duration

	GitHubDispatchToken string
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:         GetString("APP_ENV", "development"),
		Addr:                GetString("API_ADDR", ":4000"),
		LogLevel:            GetString("LOG_LEVEL", "info"),
		DatabaseDriver:      GetString("DB_DRIVER", "postgres"),
		DatabaseURL:         GetString("DATABASE_URL", "postgres://oneops:oneops@db:5432/oneops?sslmode=disable"),
		JWTSecret:           GetString("JWT_SECRET", "supersecuresecret"),
		AccessTokenTTL:      GetDuration("ACCESS_TOKEN_TTL", 24*time.Hour),
		RateLimitRedisAddr:  GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass:  GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:    GetInt("RATE_LIMIT_REDIS_DB", 0),
		DeployRateLimit:     GetInt("DEPLOY_RATE_LIMIT_PER_MIN", 6),
		CORSAllowedOrigin:   GetString("CORS_ALLOWED_ORIGIN", "*"),
		WorkspaceRoot:       GetString("WORKSPACE_ROOT", "/tmp/oneops-workspaces"),
		ArchiveMaxBytes:     GetInt64("ARCHIVE_MAX_BYTES", 512<<20),
		DockerHost:          GetString("DOCKER_HOST", ""),
		RegistryUser:        GetString("DOCKERHUB_USER", ""),
		RegistryToken:       GetString("DOCKERHUB_PAT", ""),
		RegistryServer:      GetString("REGISTRY_SERVER", "https://index.docker.io/v1/"),
		AWSAccessKeyID:      GetString("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  GetString("AWS_SECRET_ACCESS_KEY", ""),
		AWSSessionToken:     GetString("AWS_SESSION_TOKEN", ""),
		AWSDefaultRegion:    GetString("AWS_REGION", "us-east-1"),
		AWSEndpointURL:      GetString("AWS_ENDPOINT_URL", ""),
		HealthWaitTimeout:   GetDuration("HEALTH_WAIT_TIMEOUT", 0),
		GitHubDispatchToken: GetString("GIT_KEY", ""),
	}
}
