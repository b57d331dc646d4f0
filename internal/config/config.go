package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Upload     UploadConfig
	Storage    StorageConfig
	Jobs       JobsConfig
	Transcoder TranscoderConfig
	Redis      RedisConfig
	RateLimit  RateLimitConfig
}

type ServerConfig struct {
	Host        string
	Port        string `validate:"required,numeric"`
	LogLevel    string `validate:"oneof=debug info warn error"`
	LogFormat   string `validate:"oneof=auto json console"`
	CORSOrigins string
}

type UploadConfig struct {
	MaxSize           int64    `validate:"gt=0"`
	AllowedExtensions []string `validate:"min=1,dive,required"`
	AllowedMIMETypes  []string
}

type StorageConfig struct {
	DataDir string `validate:"required"`
}

type JobsConfig struct {
	Retention     time.Duration `validate:"gt=0"`
	SweepInterval time.Duration `validate:"gt=0"`
}

type TranscoderConfig struct {
	FFmpegPath  string `validate:"required"`
	FFprobePath string `validate:"required"`
	StderrLimit int    `validate:"gt=0"`
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int `validate:"min=0"`
}

type RateLimitConfig struct {
	UploadPerHour int `validate:"min=0"`
}

// Addr is the listen address passed to fiber.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

var envBindings = map[string]string{
	"server.host":               "SERVER_HOST",
	"server.port":               "SERVER_PORT",
	"server.log_level":          "LOG_LEVEL",
	"server.log_format":         "LOG_FORMAT",
	"server.cors_origins":       "CORS_ORIGINS",
	"upload.max_size":           "UPLOAD_MAX_SIZE",
	"upload.allowed_extensions": "UPLOAD_ALLOWED_EXTENSIONS",
	"upload.allowed_mime_types": "UPLOAD_ALLOWED_MIME_TYPES",
	"storage.data_dir":          "DATA_DIR",
	"jobs.retention":            "JOB_RETENTION",
	"jobs.sweep_interval":       "JOB_SWEEP_INTERVAL",
	"transcoder.ffmpeg_path":    "FFMPEG_PATH",
	"transcoder.ffprobe_path":   "FFPROBE_PATH",
	"transcoder.stderr_limit":   "TRANSCODER_STDERR_LIMIT",
	"redis.addr":                "REDIS_ADDR",
	"redis.password":            "REDIS_PASSWORD",
	"redis.db":                  "REDIS_DB",
	"ratelimit.upload_per_hour": "RATELIMIT_UPLOAD_PER_HOUR",
}

// SetDefaults registers every key's default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", "3000")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "auto")
	v.SetDefault("server.cors_origins", "*")
	v.SetDefault("upload.max_size", int64(500<<20))
	v.SetDefault("upload.allowed_extensions", []string{".mp4", ".mov", ".avi", ".mkv", ".webm"})
	v.SetDefault("upload.allowed_mime_types", []string{
		"video/mp4", "video/quicktime", "video/x-msvideo", "video/x-matroska", "video/webm",
		"application/octet-stream",
	})
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("jobs.retention", time.Hour)
	v.SetDefault("jobs.sweep_interval", 10*time.Minute)
	v.SetDefault("transcoder.ffmpeg_path", "ffmpeg")
	v.SetDefault("transcoder.ffprobe_path", "ffprobe")
	v.SetDefault("transcoder.stderr_limit", 500)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("ratelimit.upload_per_hour", 50)
}

// Load reads an optional config file, the environment and any flags already
// bound on v, then validates the result.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:        v.GetString("server.host"),
			Port:        v.GetString("server.port"),
			LogLevel:    strings.ToLower(v.GetString("server.log_level")),
			LogFormat:   strings.ToLower(v.GetString("server.log_format")),
			CORSOrigins: v.GetString("server.cors_origins"),
		},
		Upload: UploadConfig{
			MaxSize:           v.GetInt64("upload.max_size"),
			AllowedExtensions: normalizeExtensions(stringList(v, "upload.allowed_extensions")),
			AllowedMIMETypes:  lowerAll(stringList(v, "upload.allowed_mime_types")),
		},
		Storage: StorageConfig{
			DataDir: v.GetString("storage.data_dir"),
		},
		Jobs: JobsConfig{
			Retention:     v.GetDuration("jobs.retention"),
			SweepInterval: v.GetDuration("jobs.sweep_interval"),
		},
		Transcoder: TranscoderConfig{
			FFmpegPath:  v.GetString("transcoder.ffmpeg_path"),
			FFprobePath: v.GetString("transcoder.ffprobe_path"),
			StderrLimit: v.GetInt("transcoder.stderr_limit"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		RateLimit: RateLimitConfig{
			UploadPerHour: v.GetInt("ratelimit.upload_per_hour"),
		},
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// stringList accepts both YAML lists and comma separated env values.
func stringList(v *viper.Viper, key string) []string {
	var out []string
	for _, item := range v.GetStringSlice(key) {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out = append(out, ext)
	}
	return out
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		out = append(out, strings.ToLower(value))
	}
	return out
}
