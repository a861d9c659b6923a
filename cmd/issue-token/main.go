// Command issue-token signs an access token for local testing. Real tokens
// come from the identity service; this one uses the same secret and claims.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/logitest/attempt-service/internal/config"
	"github.com/logitest/attempt-service/internal/model"
	"github.com/logitest/attempt-service/internal/service"
	"golang.org/x/term"
)

func main() {
	var (
		subject string
		role    string
		ttl     time.Duration
		prompt  bool
	)
	flag.StringVar(&subject, "sub", "", "Candidate or staff user id (required)")
	flag.StringVar(&role, "role", string(model.RoleCandidate), "candidate, admin, recruiter or psychologist")
	flag.DurationVar(&ttl, "ttl", 0, "Token lifetime (default JWT_EXPIRY_HOURS)")
	flag.BoolVar(&prompt, "prompt-secret", false, "Read the signing secret from the terminal instead of JWT_SECRET")
	flag.Parse()

	if subject == "" {
		fmt.Fprintln(os.Stderr, "Error: -sub is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()
	secret := cfg.JWTSecret
	if prompt {
		fmt.Fprint(os.Stderr, "Signing secret: ")
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error reading secret:", err)
			os.Exit(1)
		}
		secret = strings.TrimSpace(string(raw))
	}
	if secret == "" {
		fmt.Fprintln(os.Stderr, "Error: empty signing secret")
		os.Exit(1)
	}

	expiry := cfg.JWTExpiry
	if ttl > 0 {
		expiry = ttl
	}

	token, err := service.NewAuthService(secret, expiry).IssueToken(subject, model.Role(strings.ToLower(role)))
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
