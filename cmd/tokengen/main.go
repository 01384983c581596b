// Package main provides a CLI tool for minting dev access tokens for the
// crew API. Tokens use the dev signing key and will NOT work in production.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Dev signing key, matches config.go when JWT_SIGNING_KEY is not set.
const devSigningKey = "dev-secret-key-change-in-production"

const defaultTTL = 24 * time.Hour

type tokenOutput struct {
	Token     string         `json:"token"`
	ExpiresIn string         `json:"expires_in"`
	Claims    map[string]any `json:"claims"`
}

func main() {
	userID := flag.String("user-id", "", "User ID (UUID). Generated if empty.")
	email := flag.String("email", "dev@example.com", "Subject email")
	ttl := flag.Duration("ttl", defaultTTL, "Token time-to-live")
	key := flag.String("key", "", "Signing key (defaults to the dev key)")
	asJSON := flag.Bool("json", false, "Output as JSON")
	flag.Parse()

	sub := *userID
	if sub == "" {
		sub = uuid.New().String()
	} else if _, err := uuid.Parse(sub); err != nil {
		fmt.Fprintf(os.Stderr, "invalid -user-id: %v\n", err)
		os.Exit(1)
	}

	signingKey := *key
	if signingKey == "" {
		signingKey = devSigningKey
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   sub,
		"email": *email,
		"iat":   now.Unix(),
		"exp":   now.Add(*ttl).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(signingKey))
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign token: %v\n", err)
		os.Exit(1)
	}

	if *asJSON {
		out := tokenOutput{
			Token:     token,
			ExpiresIn: ttl.String(),
			Claims:    map[string]any{"sub": sub, "email": *email},
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			os.Exit(1)
		}
		return
	}

	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "user_id=%s email=%s expires_in=%s\n", sub, *email, ttl.String())
}
