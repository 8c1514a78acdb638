package config

import (
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config stores the application configuration.
type Config struct {
	ServerAddr    string
	PublicBaseURL string // Base URL used when building public media links
	ConfigFile    string // Optional yaml file, watched for log level changes

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis配置
	RedisEnabled  bool
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	MinioRegion    string

	// Text-to-music (Vertex AI Lyria)
	LyriaEndpoint         string // Full predict URL; built from project/location/model when empty
	LyriaProject          string
	LyriaLocation         string
	LyriaModel            string
	LyriaAPIToken         string // Static bearer token, takes precedence over the credentials file
	GoogleCredentialsFile string
	GenerationTimeout     time.Duration

	// Video understanding (Gemini)
	GeminiAPIKey      string
	GeminiModel       string
	GeminiMaxAttempts int

	JWTSecret string
	JWTExpiry time.Duration

	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int

	PollInterval time.Duration

	FFmpegPath    string
	CaptureFormat string // ffmpeg input format for video devices, e.g. v4l2
	CaptureAudio  string // ALSA input used alongside the video device
	RecordingDir  string
}

// defaults mirrors the environment keys understood by Load.
var defaults = map[string]interface{}{
	"SERVER_ADDR":             ":8080",
	"PUBLIC_BASE_URL":         "http://localhost:8080",
	"CONFIG_FILE":             "vibetune.yaml",
	"DB_HOST":                 "127.0.0.1",
	"DB_PORT":                 "3306",
	"DB_USER":                 "root",
	"DB_PASSWORD":             "",
	"DB_NAME":                 "vibetune",
	"REDIS_ENABLED":           true,
	"REDIS_HOST":              "127.0.0.1",
	"REDIS_PORT":              "6379",
	"REDIS_PASSWORD":          "",
	"REDIS_DB":                0,
	"CACHE_TTL":               "30s",
	"MINIO_ENDPOINT":          "127.0.0.1:9000",
	"MINIO_ACCESS_KEY":        "",
	"MINIO_SECRET_KEY":        "",
	"MINIO_BUCKET":            "vibetune",
	"MINIO_USE_SSL":           false,
	"MINIO_REGION":            "us-east-1",
	"LYRIA_ENDPOINT":          "",
	"LYRIA_PROJECT":           "",
	"LYRIA_LOCATION":          "us-central1",
	"LYRIA_MODEL":             "lyria-002",
	"LYRIA_API_TOKEN":         "",
	"GOOGLE_CREDENTIALS_FILE": "keys/service-account.json",
	"GENERATION_TIMEOUT":      "5m",
	"GEMINI_API_KEY":          "",
	"GEMINI_MODEL":            "gemini-2.0-flash",
	"GEMINI_MAX_ATTEMPTS":     3,
	"JWT_SECRET":              "vibetune-dev-secret",
	"JWT_EXPIRY":              "72h",
	"LOG_LEVEL":               "info",
	"LOG_FILE":                "logs/vibetune.log",
	"LOG_MAX_SIZE_MB":         100,
	"LOG_MAX_BACKUPS":         5,
	"LOG_MAX_AGE_DAYS":        30,
	"POLL_INTERVAL":           "5s",
	"FFMPEG_PATH":             "ffmpeg",
	"CAPTURE_FORMAT":          "v4l2",
	"CAPTURE_AUDIO":           "default",
	"RECORDING_DIR":           "recordings",
}

// Load loads configuration from the .env file, an optional yaml file and the
// environment. Environment variables win over the file, the file over defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}
	return fromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	file := v.GetString("CONFIG_FILE")
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			log.Printf("Config file %s not loaded: %v", file, err)
		}
	}
	return v
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		ServerAddr:    v.GetString("SERVER_ADDR"),
		PublicBaseURL: strings.TrimRight(v.GetString("PUBLIC_BASE_URL"), "/"),
		ConfigFile:    v.GetString("CONFIG_FILE"),

		DBHost:     v.GetString("DB_HOST"),
		DBPort:     v.GetString("DB_PORT"),
		DBUser:     v.GetString("DB_USER"),
		DBPassword: v.GetString("DB_PASSWORD"),
		DBName:     v.GetString("DB_NAME"),

		RedisEnabled:  v.GetBool("REDIS_ENABLED"),
		RedisHost:     v.GetString("REDIS_HOST"),
		RedisPort:     v.GetString("REDIS_PORT"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),
		CacheTTL:      v.GetDuration("CACHE_TTL"),

		MinioEndpoint:  v.GetString("MINIO_ENDPOINT"),
		MinioAccessKey: v.GetString("MINIO_ACCESS_KEY"),
		MinioSecretKey: v.GetString("MINIO_SECRET_KEY"),
		MinioBucket:    v.GetString("MINIO_BUCKET"),
		MinioUseSSL:    v.GetBool("MINIO_USE_SSL"),
		MinioRegion:    v.GetString("MINIO_REGION"),

		LyriaEndpoint:         v.GetString("LYRIA_ENDPOINT"),
		LyriaProject:          v.GetString("LYRIA_PROJECT"),
		LyriaLocation:         v.GetString("LYRIA_LOCATION"),
		LyriaModel:            v.GetString("LYRIA_MODEL"),
		LyriaAPIToken:         v.GetString("LYRIA_API_TOKEN"),
		GoogleCredentialsFile: v.GetString("GOOGLE_CREDENTIALS_FILE"),
		GenerationTimeout:     v.GetDuration("GENERATION_TIMEOUT"),

		GeminiAPIKey:      v.GetString("GEMINI_API_KEY"),
		GeminiModel:       v.GetString("GEMINI_MODEL"),
		GeminiMaxAttempts: v.GetInt("GEMINI_MAX_ATTEMPTS"),

		JWTSecret: v.GetString("JWT_SECRET"),
		JWTExpiry: v.GetDuration("JWT_EXPIRY"),

		LogLevel:      v.GetString("LOG_LEVEL"),
		LogFile:       v.GetString("LOG_FILE"),
		LogMaxSizeMB:  v.GetInt("LOG_MAX_SIZE_MB"),
		LogMaxBackups: v.GetInt("LOG_MAX_BACKUPS"),
		LogMaxAgeDays: v.GetInt("LOG_MAX_AGE_DAYS"),

		PollInterval: v.GetDuration("POLL_INTERVAL"),

		FFmpegPath:    v.GetString("FFMPEG_PATH"),
		CaptureFormat: v.GetString("CAPTURE_FORMAT"),
		CaptureAudio:  v.GetString("CAPTURE_AUDIO"),
		RecordingDir:  v.GetString("RECORDING_DIR"),
	}
}

// LyriaPredictURL returns the Vertex AI predict endpoint for the configured model.
func (c *Config) LyriaPredictURL() string {
	if c.LyriaEndpoint != "" {
		return c.LyriaEndpoint
	}
	return "https://" + c.LyriaLocation + "-aiplatform.googleapis.com/v1/projects/" + c.LyriaProject +
		"/locations/" + c.LyriaLocation + "/publishers/google/models/" + c.LyriaModel + ":predict"
}
