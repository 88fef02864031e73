package keygen

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"qrattend/internal/auth"
)

// Config holds configuration for key generation.
type Config struct {
	Bytes int
	// Admin, when set, mints an admin access token for this subject
	// instead of generating secrets.
	Admin      string
	SigningKey string
	Issuer     string
	TTL        time.Duration
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{Bytes: 32, Issuer: "qrattend", TTL: 12 * time.Hour, SigningKey: os.Getenv("JWT_SIGNING_KEY")}
	fs.IntVar(&cfg.Bytes, "bytes", cfg.Bytes, "number of random bytes per secret")
	fs.StringVar(&cfg.Admin, "admin", "", "mint an admin access token for this subject")
	fs.StringVar(&cfg.SigningKey, "signing-key", cfg.SigningKey, "JWT signing key (default: $JWT_SIGNING_KEY)")
	fs.StringVar(&cfg.Issuer, "issuer", cfg.Issuer, "JWT issuer")
	fs.DurationVar(&cfg.TTL, "ttl", cfg.TTL, "admin token lifetime")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run writes either fresh env secrets or an admin token to out.
func Run(cfg Config, out io.Writer, reader io.Reader) error {
	if out == nil {
		return errors.New("output is required")
	}
	if cfg.Admin != "" {
		tok, err := auth.Issue(cfg.Admin, auth.RoleAdmin, cfg.Issuer, cfg.SigningKey, cfg.TTL)
		if err != nil {
			return fmt.Errorf("issue admin token: %w", err)
		}
		_, err = fmt.Fprintln(out, tok.Token)
		return err
	}

	if cfg.Bytes <= 0 {
		return errors.New("bytes must be greater than zero")
	}
	if reader == nil {
		reader = rand.Reader
	}
	for _, name := range []string{"TOKEN_ROOT_SECRET", "JWT_SIGNING_KEY", "DEVICE_ENROLL_KEY"} {
		buf := make([]byte, cfg.Bytes)
		if _, err := io.ReadFull(reader, buf); err != nil {
			return fmt.Errorf("generate random bytes: %w", err)
		}
		if _, err := fmt.Fprintf(out, "%s=%s\n", name, hex.EncodeToString(buf)); err != nil {
			return err
		}
	}
	return nil
}
