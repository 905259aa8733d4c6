package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds every runtime setting. Values come from the environment,
// optionally seeded from a .env file.
type Config struct {
	HTTPAddr        string        `validate:"required"`
	FaceAPIURL      string        `validate:"required,url"`
	FaceAPITimeout  time.Duration `validate:"gt=0"`
	PreviewMaxWidth float64       `validate:"gt=0"`
	MaxImagePixels  int           `validate:"gt=0"`
	FadeInterval    time.Duration `validate:"gt=0"`
	FadeStep        float64       `validate:"gt=0,lte=1"`
	NoticeTTL       time.Duration `validate:"gt=0"`
	AccessoryPath   string        `validate:"omitempty,file"`
	JWTSecret       string        `validate:"required"`
	JWTAudience     string
}

// Load reads the configuration. A missing .env file is not an error.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", file, err)
		}
	}

	cfg := &Config{
		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),
		FaceAPIURL:    getEnv("FACE_API_URL", "http://localhost:5000"),
		AccessoryPath: os.Getenv("ACCESSORY_PATH"),
		JWTSecret:     getEnv("JWT_SECRET", "dev-secret"),
		JWTAudience:   os.Getenv("JWT_AUDIENCE"),
	}

	var err error
	if cfg.FaceAPITimeout, err = getDuration("FACE_API_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.PreviewMaxWidth, err = getFloat("PREVIEW_MAX_WIDTH", 800); err != nil {
		return nil, err
	}
	if cfg.MaxImagePixels, err = getInt("MAX_IMAGE_PIXELS", 40_000_000); err != nil {
		return nil, err
	}
	if cfg.FadeInterval, err = getDuration("FADE_INTERVAL", 50*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.FadeStep, err = getFloat("FADE_STEP", 0.05); err != nil {
		return nil, err
	}
	if cfg.NoticeTTL, err = getDuration("NOTICE_TTL", 5*time.Second); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func getInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
