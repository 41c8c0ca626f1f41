package config

import "time"

// Config is the root application configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Legacy       LegacyConfig       `yaml:"legacy"`
	Redis        RedisConfig        `yaml:"redis"`
	LLM          LLMConfig          `yaml:"llm"`
	Continuation ContinuationConfig `yaml:"continuation"`
	DeepL        DeepLConfig        `yaml:"deepl"`
	Pipeline     PipelineConfig     `yaml:"pipeline"`
	Auth         AuthConfig         `yaml:"auth"`
	CORS         CORSConfig         `yaml:"cors"`
	Log          LogConfig          `yaml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"             env:"SERVER_HOST"             env-default:"0.0.0.0"`
	Port            int           `yaml:"port"             env:"PORT"                    env-default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout"     env:"SERVER_READ_TIMEOUT"     env-default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout"    env:"SERVER_WRITE_TIMEOUT"    env-default:"10m"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"15s"`
}

// DatabaseConfig holds the primary PostgreSQL store settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"            env:"DATABASE_URL"            env-required:"true"`
	MaxOpenConns int    `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS" env-default:"25"`
	MaxIdleConns int    `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS" env-default:"5"`
}

// LegacyConfig points at the MongoDB collection the external product reads.
type LegacyConfig struct {
	URI            string        `yaml:"uri"             env:"LEGACY_MONGO_URI"`
	Database       string        `yaml:"database"        env:"LEGACY_MONGO_DB"         env-default:"quiz"`
	Collection     string        `yaml:"collection"      env:"LEGACY_MONGO_COLLECTION" env-default:"questions"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"LEGACY_CONNECT_TIMEOUT"  env-default:"10s"`
	MaxPoolSize    uint64        `yaml:"max_pool_size"   env:"LEGACY_MAX_POOL_SIZE"    env-default:"20"`
}

// RedisConfig holds the ephemeral store settings. An empty Addr selects the
// in-process store.
type RedisConfig struct {
	Addr     string `yaml:"addr"     env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db"       env:"REDIS_DB" env-default:"0"`
}

// LLMConfig selects and configures the completion backend.
type LLMConfig struct {
	Provider        string        `yaml:"provider"         env:"LLM_PROVIDER"          env-default:"anthropic"`
	AnthropicAPIKey string        `yaml:"anthropic_api_key" env:"ANTHROPIC_API_KEY"`
	AnthropicURL    string        `yaml:"anthropic_url"    env:"ANTHROPIC_BASE_URL"`
	OpenAIAPIKey    string        `yaml:"openai_api_key"   env:"OPENAI_API_KEY"`
	OpenAIURL       string        `yaml:"openai_url"       env:"OPENAI_BASE_URL"       env-default:"https://api.openai.com"`
	CLIPath         string        `yaml:"cli_path"         env:"LLM_CLI_PATH"          env-default:"claude"`
	Model           string        `yaml:"model"            env:"LLM_MODEL"             env-default:"claude-sonnet-4-5-20250929"`
	Timeout         time.Duration `yaml:"timeout"          env:"LLM_TIMEOUT"           env-default:"3m"`
	MaxTokens       int64         `yaml:"max_tokens"       env:"LLM_MAX_TOKENS"        env-default:"8192"`
	MaxRetries      int           `yaml:"max_retries"      env:"LLM_MAX_RETRIES"       env-default:"3"`
	WebSearchUses   int64         `yaml:"web_search_uses"  env:"LLM_WEB_SEARCH_USES"   env-default:"5"`
}

// ContinuationConfig bounds the per-category conversation reuse.
type ContinuationConfig struct {
	TTL          time.Duration `yaml:"ttl"           env:"CONTINUATION_TTL"           env-default:"168h"`
	TokenCeiling int           `yaml:"token_ceiling" env:"CONTINUATION_TOKEN_CEILING" env-default:"128000"`
}

// DeepLConfig configures the machine-translation backend.
type DeepLConfig struct {
	AuthKey string        `yaml:"auth_key" env:"DEEPL_AUTH_KEY"`
	BaseURL string        `yaml:"base_url" env:"DEEPL_BASE_URL" env-default:"https://api-free.deepl.com"`
	Timeout time.Duration `yaml:"timeout"  env:"DEEPL_TIMEOUT"  env-default:"30s"`
}

// PipelineConfig holds the domain knobs of the question pipeline.
type PipelineConfig struct {
	RequiredLocales       []string          `yaml:"required_locales"        env:"PIPELINE_REQUIRED_LOCALES"        env-default:"ru,uk,en-US,es,fr,de,it,pl,tr"`
	LegacyLocaleRenames   map[string]string `yaml:"legacy_locale_renames"   env:"PIPELINE_LEGACY_LOCALE_RENAMES"   env-default:"uk:ua"`
	LegacyDroppedLocales  []string          `yaml:"legacy_dropped_locales"  env:"PIPELINE_LEGACY_DROPPED_LOCALES"  env-default:"en-US"`
	CanonicalLanguage     string            `yaml:"canonical_language"      env:"PIPELINE_CANONICAL_LANGUAGE"      env-default:"en"`
	DefaultDifficulty     int               `yaml:"default_difficulty"      env:"PIPELINE_DEFAULT_DIFFICULTY"      env-default:"3"`
	ValidationConcurrency int               `yaml:"validation_concurrency"  env:"PIPELINE_VALIDATION_CONCURRENCY"  env-default:"8"`
	MaxGenerateCount      int               `yaml:"max_generate_count"      env:"PIPELINE_MAX_GENERATE_COUNT"      env-default:"50"`
}

// AuthConfig holds bearer-token verification settings.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET" env-required:"true"`
	JWTIssuer string `yaml:"jwt_issuer" env:"JWT_ISSUER"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS" env-default:"http://localhost:3000,http://localhost:5173"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Mode  string `yaml:"mode"  env:"LOG_MODE"  env-default:"development"`
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}
