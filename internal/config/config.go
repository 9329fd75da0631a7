// Package config loads server configuration from flags and the environment.
// A .env file in the working directory is honoured for local development.
package config

import (
	"flag"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"lepm/internal/model"
)

type Config struct {
	Port        string
	Env         string
	DatabaseURL string

	DefaultConductor     model.ConductorSpec
	EarthRadiusM         float64
	AllowJointSuspension bool

	Export ExportConfig
}

// ExportConfig is the S3-compatible store CIM exports are published to.
type ExportConfig struct {
	Enabled   bool
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	port := flag.String("port", ":8081", "server port")
	flag.Parse()

	if envPort := os.Getenv("PORT"); envPort != "" {
		if strings.HasPrefix(envPort, ":") {
			*port = envPort
		} else {
			*port = ":" + envPort
		}
	}

	env := strings.TrimSpace(os.Getenv("APP_ENV"))
	if env == "" {
		env = "local"
	}

	cfg := &Config{
		Port:                 *port,
		Env:                  env,
		DatabaseURL:          strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DefaultConductor:     parseConductor(os.Getenv("LEPM_DEFAULT_CONDUCTOR")),
		EarthRadiusM:         parseFloat(os.Getenv("LEPM_EARTH_RADIUS_M"), 6_371_000),
		AllowJointSuspension: parseBool(os.Getenv("LEPM_ALLOW_JOINT_SUSPENSION"), true),
		Export:               loadExportConfig(env),
	}
	return cfg, nil
}

// parseConductor reads a "type/material/section" triple, e.g.
// "AC-70/aluminium/70". Anything malformed falls back to that default.
func parseConductor(raw string) model.ConductorSpec {
	def := model.ConductorSpec{Type: "AC-70", Material: "aluminium", Section: 70}
	parts := strings.Split(strings.TrimSpace(raw), "/")
	if len(parts) != 3 {
		return def
	}
	section, err := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err != nil || section <= 0 {
		return def
	}
	typ := strings.TrimSpace(parts[0])
	material := strings.TrimSpace(parts[1])
	if typ == "" || material == "" {
		return def
	}
	return model.ConductorSpec{Type: typ, Material: material, Section: section}
}

func loadExportConfig(env string) ExportConfig {
	endpoint := resolveExportEndpoint(env)
	return ExportConfig{
		Enabled:   strings.EqualFold(env, "local") || endpoint != "",
		Endpoint:  endpoint,
		Region:    firstNonEmpty(strings.TrimSpace(os.Getenv("EXPORT_S3_REGION")), "us-east-1"),
		AccessKey: firstNonEmpty(strings.TrimSpace(os.Getenv("EXPORT_S3_ACCESS_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_USER"))),
		SecretKey: firstNonEmpty(strings.TrimSpace(os.Getenv("EXPORT_S3_SECRET_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_PASSWORD"))),
		Bucket:    firstNonEmpty(strings.TrimSpace(os.Getenv("EXPORT_S3_BUCKET")), "lepm-exports"),
		UseSSL:    resolveExportUseSSL(env),
	}
}

func resolveExportEndpoint(env string) string {
	if strings.EqualFold(env, "local") {
		return firstNonEmpty(strings.TrimSpace(os.Getenv("EXPORT_MINIO_ENDPOINT")), "minio:9000")
	}
	return strings.TrimSpace(os.Getenv("EXPORT_S3_ENDPOINT"))
}

func resolveExportUseSSL(env string) bool {
	if strings.EqualFold(env, "local") {
		return false
	}
	return parseBool(os.Getenv("EXPORT_S3_USE_SSL"), true)
}

func parseBool(raw string, def bool) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func parseFloat(raw string, def float64) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
