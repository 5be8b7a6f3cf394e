package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment is the deployment environment.
type Environment string

const (
	EnvLocal   Environment = "local"
	EnvDev     Environment = "dev"
	EnvStaging Environment = "staging"
	EnvProd    Environment = "prod"
)

// Config holds all configuration for the pavi API server.
type Config struct {
	Env      Environment
	Server   ServerConfig
	Store    StoreConfig
	Database DatabaseConfig
	DynamoDB DynamoDBConfig
	Redis    RedisConfig
	Pipeline PipelineConfig
	AWS      AWSConfig
	Loki     LokiConfig
}

type ServerConfig struct {
	Port              int
	APITokenHash      string
	RateLimitPerMin   int
	StartTimeout      time.Duration
	ResultReadTimeout time.Duration
}

type StoreConfig struct {
	Driver    string
	Retention time.Duration
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

type DynamoDBConfig struct {
	Table    string
	Endpoint string
}

type RedisConfig struct {
	URL string
}

type PipelineConfig struct {
	Backend              string
	StateMachineARN      string
	StepFunctionsURL     string
	JobQueueARN          string
	ResultsBucket        string
	WorkBucket           string
	LocalResultsDir      string
	RolloutEnabled       bool
	RolloutPercentage    int
	DescribePerSecond    float64
	ExecutionTimeout     time.Duration
	RetrievalConcurrency int
}

type AWSConfig struct {
	Region      string
	Profile     string
	S3Endpoint  string
	S3PathStyle bool

	// Static keys for emulators such as LocalStack or MinIO. When unset the
	// SDK default credential chain is used.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

type LokiConfig struct {
	BaseURL  string
	Username string
	Password string
	OrgID    string
	Timeout  time.Duration
}

var validStores = map[string]bool{
	"memory":   true,
	"postgres": true,
	"dynamodb": true,
	"redis":    true,
}

var validBackends = map[string]bool{
	"local":         true,
	"stepfunctions": true,
}

// envDefaults holds the per-environment resource names.
type envDefaults struct {
	store         string
	backend       string
	jobsTable     string
	resultsBucket string
	workBucket    string
}

var defaultsByEnv = map[Environment]envDefaults{
	EnvLocal: {
		store:         "memory",
		backend:       "local",
		jobsTable:     "pavi-jobs-local",
		resultsBucket: "agr-pavi-pipeline-local",
		workBucket:    "agr-pavi-pipeline-local",
	},
	EnvDev: {
		store:         "dynamodb",
		backend:       "stepfunctions",
		jobsTable:     "pavi-jobs-dev",
		resultsBucket: "agr-pavi-pipeline-stepfunctions-dev",
		workBucket:    "agr-pavi-pipeline-stepfunctions-dev",
	},
	EnvStaging: {
		store:         "dynamodb",
		backend:       "stepfunctions",
		jobsTable:     "pavi-jobs-staging",
		resultsBucket: "agr-pavi-pipeline-stepfunctions-staging",
		workBucket:    "agr-pavi-pipeline-stepfunctions-staging",
	},
	EnvProd: {
		store:         "dynamodb",
		backend:       "stepfunctions",
		jobsTable:     "pavi-jobs-prod",
		resultsBucket: "agr-pavi-pipeline-stepfunctions-prod",
		workBucket:    "agr-pavi-pipeline-stepfunctions-prod",
	},
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	env := Environment(strings.ToLower(envString("PAVI_ENVIRONMENT", string(EnvLocal))))
	defaults, ok := defaultsByEnv[env]
	if !ok {
		return nil, fmt.Errorf("PAVI_ENVIRONMENT must be one of local, dev, staging, prod; got %q", env)
	}

	cfg := &Config{
		Env: env,
		Server: ServerConfig{
			Port:              envInt("PAVI_PORT", 8080),
			APITokenHash:      os.Getenv("PAVI_API_TOKEN_HASH"),
			RateLimitPerMin:   envInt("PAVI_RATE_LIMIT_PER_MIN", 60),
			StartTimeout:      envDuration("PAVI_START_TIMEOUT", 30*time.Second),
			ResultReadTimeout: envDuration("PAVI_RESULT_READ_TIMEOUT", 60*time.Second),
		},
		Store: StoreConfig{
			Driver:    envString("JOB_STORE", defaults.store),
			Retention: envDuration("JOB_RETENTION", 30*24*time.Hour),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir:   envString("DATABASE_MIGRATIONS_DIR", "migrations"),
		},
		DynamoDB: DynamoDBConfig{
			Table:    envString("DYNAMODB_JOBS_TABLE", defaults.jobsTable),
			Endpoint: os.Getenv("DYNAMODB_ENDPOINT"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Pipeline: PipelineConfig{
			Backend:              envString("EXECUTION_BACKEND", defaults.backend),
			StateMachineARN:      os.Getenv("STEP_FUNCTIONS_STATE_MACHINE_ARN"),
			StepFunctionsURL:     os.Getenv("STEP_FUNCTIONS_ENDPOINT"),
			JobQueueARN:          os.Getenv("BATCH_JOB_QUEUE_ARN"),
			ResultsBucket:        envString("PAVI_RESULTS_BUCKET", defaults.resultsBucket),
			WorkBucket:           envString("PAVI_WORK_BUCKET", defaults.workBucket),
			LocalResultsDir:      envString("API_RESULTS_PATH_PREFIX", "./results/"),
			RolloutEnabled:       envBool("ENABLE_STEP_FUNCTIONS_ROLLOUT", false),
			RolloutPercentage:    envInt("STEP_FUNCTIONS_ROLLOUT_PERCENTAGE", 0),
			DescribePerSecond:    envFloat("STEP_FUNCTIONS_DESCRIBE_RPS", 20),
			ExecutionTimeout:     envDuration("PIPELINE_EXECUTION_TIMEOUT", 30*time.Minute),
			RetrievalConcurrency: envInt("PIPELINE_RETRIEVAL_CONCURRENCY", 40),
		},
		AWS: AWSConfig{
			Region:      os.Getenv("AWS_REGION"),
			Profile:     os.Getenv("AWS_PROFILE"),
			S3Endpoint:  os.Getenv("S3_ENDPOINT"),
			S3PathStyle: envBool("S3_FORCE_PATH_STYLE", false),

			AccessKeyID:     os.Getenv("PAVI_AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("PAVI_AWS_SECRET_ACCESS_KEY"),
			SessionToken:    os.Getenv("PAVI_AWS_SESSION_TOKEN"),
		},
		Loki: LokiConfig{
			BaseURL:  os.Getenv("LOKI_BASE_URL"),
			Username: os.Getenv("LOKI_USERNAME"),
			Password: os.Getenv("LOKI_PASSWORD"),
			OrgID:    envString("LOKI_ORG_ID", "default"),
			Timeout:  envDuration("LOKI_TIMEOUT", 30*time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// UsesStepFunctions reports whether any job may be routed to Step Functions.
func (c *Config) UsesStepFunctions() bool {
	return c.Pipeline.Backend == "stepfunctions"
}

// UsesAWS reports whether an AWS SDK configuration must be loaded at startup.
func (c *Config) UsesAWS() bool {
	return c.UsesStepFunctions() || c.Store.Driver == "dynamodb"
}

func (c *Config) validate() error {
	if !validStores[c.Store.Driver] {
		return fmt.Errorf("JOB_STORE must be one of memory, postgres, dynamodb, redis; got %q", c.Store.Driver)
	}
	if c.Store.Retention <= 0 {
		return fmt.Errorf("JOB_RETENTION must be positive, got %s", c.Store.Retention)
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when JOB_STORE is postgres")
		}
	case "dynamodb":
		if c.DynamoDB.Table == "" {
			return fmt.Errorf("DYNAMODB_JOBS_TABLE is required when JOB_STORE is dynamodb")
		}
	case "redis":
		if c.Redis.URL == "" {
			return fmt.Errorf("REDIS_URL is required when JOB_STORE is redis")
		}
	}

	if !validBackends[c.Pipeline.Backend] {
		return fmt.Errorf("EXECUTION_BACKEND must be one of local, stepfunctions; got %q", c.Pipeline.Backend)
	}
	if c.Pipeline.Backend == "stepfunctions" {
		if c.Pipeline.StateMachineARN == "" {
			return fmt.Errorf("STEP_FUNCTIONS_STATE_MACHINE_ARN is required when EXECUTION_BACKEND is stepfunctions")
		}
		if c.Pipeline.JobQueueARN == "" {
			return fmt.Errorf("BATCH_JOB_QUEUE_ARN is required when EXECUTION_BACKEND is stepfunctions")
		}
	}
	if c.Pipeline.RolloutPercentage < 0 || c.Pipeline.RolloutPercentage > 100 {
		return fmt.Errorf("STEP_FUNCTIONS_ROLLOUT_PERCENTAGE must be between 0 and 100, got %d", c.Pipeline.RolloutPercentage)
	}
	if c.Pipeline.RetrievalConcurrency <= 0 {
		return fmt.Errorf("PIPELINE_RETRIEVAL_CONCURRENCY must be positive, got %d", c.Pipeline.RetrievalConcurrency)
	}

	if c.Loki.BaseURL != "" &&
		!strings.HasPrefix(c.Loki.BaseURL, "http://") && !strings.HasPrefix(c.Loki.BaseURL, "https://") {
		return fmt.Errorf("LOKI_BASE_URL must start with http:// or https://, got %q", c.Loki.BaseURL)
	}

	if (c.AWS.AccessKeyID == "") != (c.AWS.SecretAccessKey == "") {
		return fmt.Errorf("PAVI_AWS_ACCESS_KEY_ID and PAVI_AWS_SECRET_ACCESS_KEY must be set together")
	}

	if c.Server.APITokenHash != "" && !strings.HasPrefix(c.Server.APITokenHash, "$2") {
		return fmt.Errorf("PAVI_API_TOKEN_HASH must be a bcrypt hash")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
