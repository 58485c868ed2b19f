package config

import (
	"flag"
	"time"

	"github.com/dmitrijs2005/artistdir/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-a string   HTTP bind address (e.g. ":8080")
//	-g string   gRPC health bind address (e.g. ":50051")
//	-d string   PostgreSQL DSN
//	-s string   session signing secret
//	-e string   environment (development, test, production)
//	-u string   application base URL
//	-t int      session max age, hours
//	-o string   OTLP collector endpoint
//	-b string   S3 bucket for merge audit records
//
// Provider secrets are not accepted as flags; use the
// environment or the JSON file.
func parseFlags(config *Config, args []string) {
	args = flagx.FilterArgs(args, []string{"-a", "-g", "-d", "-s", "-e", "-u", "-t", "-o", "-b"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "HTTP address and port")
	fs.StringVar(&config.EndpointAddrGRPC, "g", config.EndpointAddrGRPC, "gRPC health address and port")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "session signing secret")
	fs.StringVar(&config.Environment, "e", config.Environment, "environment")
	fs.StringVar(&config.BaseURL, "u", config.BaseURL, "application base URL")
	sessionMaxAge := fs.Int("t", int(config.SessionMaxAge.Hours()), "session max age (in hours)")
	fs.StringVar(&config.OTLPEndpoint, "o", config.OTLPEndpoint, "OTLP collector endpoint")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket for merge audit records")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.SessionMaxAge = time.Duration(*sessionMaxAge) * time.Hour
}
