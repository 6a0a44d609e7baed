package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "STOPCAST_"

// LoadEnv reads .env files into the process environment. A missing .env is
// not an error; with no paths ".env" is used.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// ApplyEnv overrides fields from STOPCAST_* environment variables.
func (c *Config) ApplyEnv() {
	c.Server.Addr = GetEnv(envPrefix+"ADDR", c.Server.Addr)
	c.Log.Level = GetEnv(envPrefix+"LOG_LEVEL", c.Log.Level)
	c.Log.Format = GetEnv(envPrefix+"LOG_FORMAT", c.Log.Format)

	c.Paths.Videos = GetEnv(envPrefix+"VIDEOS_DIR", c.Paths.Videos)
	c.Paths.Temp = GetEnv(envPrefix+"TEMP_DIR", c.Paths.Temp)
	c.Paths.Media = GetEnv(envPrefix+"MEDIA_DIR", c.Paths.Media)
	c.Paths.StaleAfter = GetEnvDuration(envPrefix+"STALE_AFTER", c.Paths.StaleAfter)

	c.Render.Width = GetEnvInt(envPrefix+"WIDTH", c.Render.Width)
	c.Render.Height = GetEnvInt(envPrefix+"HEIGHT", c.Render.Height)
	c.Render.FPS = GetEnvFloat(envPrefix+"FPS", c.Render.FPS)
	c.Render.VideoEncoder = GetEnv(envPrefix+"VIDEO_ENCODER", c.Render.VideoEncoder)
	c.Render.Quality = GetEnvInt(envPrefix+"QUALITY", c.Render.Quality)
	c.Render.ShowStats = GetEnvBool(envPrefix+"SHOW_STATS", c.Render.ShowStats)

	c.Narration.LeadSeconds = GetEnvFloat(envPrefix+"LEAD_SECONDS", c.Narration.LeadSeconds)
	c.Narration.SuppressWelcomeOnEmergency = GetEnvBool(envPrefix+"SUPPRESS_WELCOME", c.Narration.SuppressWelcomeOnEmergency)

	c.TTS.Driver = GetEnv(envPrefix+"TTS_DRIVER", c.TTS.Driver)
	c.TTS.URL = GetEnv(envPrefix+"TTS_URL", c.TTS.URL)
	c.TTS.Lang = GetEnv(envPrefix+"TTS_LANG", c.TTS.Lang)
	c.TTS.Command = GetEnv(envPrefix+"TTS_COMMAND", c.TTS.Command)

	c.Store.Driver = GetEnv(envPrefix+"STORE", c.Store.Driver)
	c.Store.RedisAddr = GetEnv(envPrefix+"REDIS_ADDR", c.Store.RedisAddr)
	c.Store.RedisPassword = GetEnv(envPrefix+"REDIS_PASSWORD", c.Store.RedisPassword)
	c.Store.RedisDB = GetEnvInt(envPrefix+"REDIS_DB", c.Store.RedisDB)
	c.Store.MongoURI = GetEnv(envPrefix+"MONGO_URI", c.Store.MongoURI)
	c.Store.MongoDatabase = GetEnv(envPrefix+"MONGO_DB", c.Store.MongoDatabase)

	c.Publish.Enabled = GetEnvBool(envPrefix+"PUBLISH", c.Publish.Enabled)
	c.Publish.Endpoint = GetEnv(envPrefix+"MINIO_ENDPOINT", c.Publish.Endpoint)
	c.Publish.AccessKey = GetEnv(envPrefix+"MINIO_ACCESS_KEY", c.Publish.AccessKey)
	c.Publish.SecretKey = GetEnv(envPrefix+"MINIO_SECRET_KEY", c.Publish.SecretKey)
	c.Publish.Bucket = GetEnv(envPrefix+"MINIO_BUCKET", c.Publish.Bucket)
	c.Publish.UseSSL = GetEnvBool(envPrefix+"MINIO_SSL", c.Publish.UseSSL)
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of key, or fallback if unset or invalid.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

func GetEnvFloat(key string, fallback float64) float64 {
	if s := os.Getenv(key); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return fallback
}

func GetEnvBool(key string, fallback bool) bool {
	if s := os.Getenv(key); s != "" {
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	}
	return fallback
}

func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	if s := os.Getenv(key); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
	}
	return fallback
}
