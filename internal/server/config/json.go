package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/artistdir/internal/flagx"
	"github.com/dmitrijs2005/artistdir/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Durations use
// timex.Duration so both "5s" and integer nanoseconds are accepted.
type JsonConfig struct {
	Environment          string         `json:"environment"`
	EndpointAddrHTTP     string         `json:"endpoint_addr_http"`
	EndpointAddrGRPC     string         `json:"endpoint_addr_grpc"`
	DatabaseDSN          string         `json:"database_dsn"`
	SecretKey            string         `json:"secret_key"`
	BaseURL              string         `json:"base_url"`
	SessionMaxAge        timex.Duration `json:"session_max_age"`
	PrivyAppID           string         `json:"privy_app_id"`
	PrivyAppSecret       string         `json:"privy_app_secret"`
	PrivyAPIURL          string         `json:"privy_api_url"`
	PrivyVerificationKey string         `json:"privy_verification_key"`
	ProviderTimeout      timex.Duration `json:"provider_timeout"`
	SignInRatePerMinute  int            `json:"signin_rate_per_minute"`
	SignInBurst          int            `json:"signin_burst"`
	TrustedProxies       []string       `json:"trusted_proxies"`
	OTLPEndpoint         string         `json:"otlp_endpoint"`
	S3RootUser           string         `json:"s3_root_user"`
	S3RootPassword       string         `json:"s3_root_password"`
	S3Bucket             string         `json:"s3_bucket"`
	S3Region             string         `json:"s3_region"`
	S3BaseEndpoint       string         `json:"s3_base_endpoint"`
}

// parseJson loads the file named by -c/-config (if any) and overlays every
// non-empty value onto config. An unreadable or malformed file panics, the
// same way a bad flag does.
func parseJson(config *Config, args []string) {
	jsonConfigFile := flagx.JsonConfigFlags(args)
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	overlay := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}

	overlay(&config.Environment, c.Environment)
	overlay(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	overlay(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	overlay(&config.DatabaseDSN, c.DatabaseDSN)
	overlay(&config.SecretKey, c.SecretKey)
	overlay(&config.BaseURL, c.BaseURL)
	overlay(&config.PrivyAppID, c.PrivyAppID)
	overlay(&config.PrivyAppSecret, c.PrivyAppSecret)
	overlay(&config.PrivyAPIURL, c.PrivyAPIURL)
	overlay(&config.PrivyVerificationKey, c.PrivyVerificationKey)
	overlay(&config.OTLPEndpoint, c.OTLPEndpoint)
	overlay(&config.S3RootUser, c.S3RootUser)
	overlay(&config.S3RootPassword, c.S3RootPassword)
	overlay(&config.S3Bucket, c.S3Bucket)
	overlay(&config.S3Region, c.S3Region)
	overlay(&config.S3BaseEndpoint, c.S3BaseEndpoint)

	if len(c.TrustedProxies) > 0 {
		config.TrustedProxies = c.TrustedProxies
	}

	if c.SessionMaxAge.Duration > 0 {
		config.SessionMaxAge = c.SessionMaxAge.Duration
	}
	if c.ProviderTimeout.Duration > 0 {
		config.ProviderTimeout = c.ProviderTimeout.Duration
	}
	if c.SignInRatePerMinute > 0 {
		config.SignInRatePerMinute = c.SignInRatePerMinute
	}
	if c.SignInBurst > 0 {
		config.SignInBurst = c.SignInBurst
	}
}
