package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    Server    `yaml:"server"`
	Log       Log       `yaml:"log"`
	Paths     Paths     `yaml:"paths"`
	Render    Render    `yaml:"render"`
	Audio     Audio     `yaml:"audio"`
	Narration Narration `yaml:"narration"`
	TTS       TTS       `yaml:"tts"`
	Store     Store     `yaml:"store"`
	Publish   Publish   `yaml:"publish"`

	BuildVersion string `yaml:"-"`
}

type Server struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Paths struct {
	Videos    string `yaml:"videos"`
	Temp      string `yaml:"temp"`
	Media     string `yaml:"media"`
	Scenarios string `yaml:"scenarios"`
	// Временные каталоги старше StaleAfter удаляются при старте
	StaleAfter time.Duration `yaml:"staleAfter"`
}

type Render struct {
	Width      int     `yaml:"width"`
	Height     int     `yaml:"height"`
	FPS        float64 `yaml:"fps"`
	YieldEvery int     `yaml:"yieldEvery"`
	FFmpeg     string  `yaml:"ffmpeg"`
	FFprobe    string  `yaml:"ffprobe"`
	// "auto" выбирает аппаратный энкодер, если он есть
	VideoEncoder string `yaml:"videoEncoder"`
	Quality      int    `yaml:"quality"`
	Preset       string `yaml:"preset"`
	Tune         string `yaml:"tune"`
	ShowStats    bool   `yaml:"showStats"`
}

type Audio struct {
	SampleRate     int     `yaml:"sampleRate"`
	NarrationGain  float64 `yaml:"narrationGain"`
	EmergencyGain  float64 `yaml:"emergencyGain"`
	EffectGain     float64 `yaml:"effectGain"`
	AudioCodec     string  `yaml:"audioCodec"`
	// Тип экстренного сообщения -> файл зацикленного эффекта (относительно Paths.Media)
	Effects map[string]string `yaml:"effects"`
}

type Narration struct {
	LeadSeconds                float64           `yaml:"leadSeconds"`
	SuppressWelcomeOnEmergency bool              `yaml:"suppressWelcomeOnEmergency"`
	Welcome                    string            `yaml:"welcome"`
	NextStop                   string            `yaml:"nextStop"`
	FinalStop                  string            `yaml:"finalStop"`
	Emergency                  map[string]string `yaml:"emergency"`
}

type TTS struct {
	// "http" или "command"
	Driver    string        `yaml:"driver"`
	URL       string        `yaml:"url"`
	Lang      string        `yaml:"lang"`
	ChunkSize int           `yaml:"chunkSize"`
	Timeout   time.Duration `yaml:"timeout"`
	Command   string        `yaml:"command"`
	Args      []string      `yaml:"args"`
}

type Store struct {
	// "memory", "redis" или "mongo"
	Driver        string `yaml:"driver"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`
	MongoURI      string `yaml:"mongoURI"`
	MongoDatabase string `yaml:"mongoDatabase"`
}

type Publish struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"useSSL"`
}

// Default returns the production defaults.
func Default() *Config {
	return &Config{
		Server: Server{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Log:    Log{Level: "info", Format: "json"},
		Paths: Paths{
			Videos:     "videos",
			Temp:       os.TempDir(),
			Media:      "media",
			Scenarios:  "scenarios",
			StaleAfter: 6 * time.Hour,
		},
		Render: Render{
			Width:        1920,
			Height:       1080,
			FPS:          0.5,
			YieldEvery:   10,
			FFmpeg:       "ffmpeg",
			FFprobe:      "ffprobe",
			VideoEncoder: "libx264",
			Quality:      28,
			Preset:       "ultrafast",
			Tune:         "stillimage",
		},
		Audio: Audio{
			SampleRate:    44100,
			NarrationGain: 5.0,
			EmergencyGain: 7.0,
			EffectGain:    0.5,
			AudioCodec:    "aac",
			Effects:       map[string]string{"danger": "siren-alert.mp3"},
		},
		Narration: Narration{
			LeadSeconds:                20,
			SuppressWelcomeOnEmergency: true,
		},
		TTS: TTS{
			Driver:    "http",
			URL:       "https://translate.google.com/translate_tts",
			Lang:      "en",
			ChunkSize: 200,
			Timeout:   15 * time.Second,
		},
		Store: Store{
			Driver:        "memory",
			RedisAddr:     "localhost:6379",
			MongoURI:      "mongodb://localhost:27017",
			MongoDatabase: "stopcast",
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects values the pipeline cannot work with.
func (c *Config) Validate() error {
	if c.Render.Width <= 0 || c.Render.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", c.Render.Width, c.Render.Height)
	}
	if c.Render.Width%2 != 0 || c.Render.Height%2 != 0 {
		return fmt.Errorf("frame size %dx%d must be even for yuv420p", c.Render.Width, c.Render.Height)
	}
	if c.Render.FPS <= 0 {
		return fmt.Errorf("invalid fps %v", c.Render.FPS)
	}
	if c.Narration.LeadSeconds < 0 {
		return fmt.Errorf("invalid lead time %v", c.Narration.LeadSeconds)
	}
	switch c.Store.Driver {
	case "memory", "redis", "mongo":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	return nil
}
