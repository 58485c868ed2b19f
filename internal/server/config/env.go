package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type lookupFunc func(key string) (string, bool)

// loadDotEnv copies variables from path into the process environment.
// Variables that are already set win; a missing file is not an error.
func loadDotEnv(path string) {
	_ = godotenv.Load(path)
}

// parseEnv overlays values taken from environment variables.
func parseEnv(c *Config, lookup lookupFunc) {
	str := func(dst *string, key string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str(&c.Environment, "APP_ENV")
	str(&c.EndpointAddrHTTP, "HTTP_ADDR")
	str(&c.EndpointAddrGRPC, "GRPC_ADDR")
	str(&c.DatabaseDSN, "DATABASE_URL")
	str(&c.SecretKey, "SESSION_SECRET")
	str(&c.BaseURL, "BASE_URL")
	str(&c.PrivyAppID, "PRIVY_APP_ID")
	str(&c.PrivyAppSecret, "PRIVY_APP_SECRET")
	str(&c.PrivyAPIURL, "PRIVY_API_URL")
	str(&c.PrivyVerificationKey, "PRIVY_VERIFICATION_KEY")
	str(&c.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	str(&c.S3RootUser, "S3_ROOT_USER")
	str(&c.S3RootPassword, "S3_ROOT_PASSWORD")
	str(&c.S3Bucket, "S3_BUCKET")
	str(&c.S3Region, "S3_REGION")
	str(&c.S3BaseEndpoint, "S3_BASE_ENDPOINT")

	if v, ok := lookup("TRUSTED_PROXIES"); ok && v != "" {
		c.TrustedProxies = splitList(v)
	}

	if v, ok := lookup("SESSION_MAX_AGE"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			c.SessionMaxAge = d
		}
	}
	if v, ok := lookup("PROVIDER_TIMEOUT"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			c.ProviderTimeout = d
		}
	}
	if v, ok := lookup("SIGNIN_RATE_PER_MINUTE"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.SignInRatePerMinute = n
		}
	}
}

// splitList splits a comma separated value, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
