// Package main is a development utility that mints a JWT signing secret and a bearer
// token for the audit API. Without an existing AUDIT_JWT_SECRET it generates a new
// secret and prints the export line for it; with one it signs the token using that
// secret. Do not hand long-lived admin tokens to producers. Give them audit:write only.
//
// Usage:
//
//	go run scripts/generate-key.go [subject] [scope,scope...] [ttl]
package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/audit-trail/audit-trail/internal/auth"
)

func main() {
	subject := "dev-admin"
	scopes := []string{string(auth.ScopeAuditAdmin)}
	ttl := 24 * time.Hour

	if len(os.Args) > 1 {
		subject = os.Args[1]
	}
	if len(os.Args) > 2 {
		scopes = strings.Split(os.Args[2], ",")
	}
	if len(os.Args) > 3 {
		d, err := time.ParseDuration(os.Args[3])
		if err != nil {
			log.Fatalf("invalid ttl: %v", err)
		}
		ttl = d
	}
	if err := auth.ValidateScopes(scopes); err != nil {
		log.Fatal(err)
	}

	fmt.Println("==========================================================")
	secret := os.Getenv(auth.SecretEnvVar)
	if secret == "" {
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			log.Fatal(err)
		}
		secret = hex.EncodeToString(raw)
		if err := os.Setenv(auth.SecretEnvVar, secret); err != nil {
			log.Fatal(err)
		}
		fmt.Println("New signing secret")
		fmt.Println("==========================================================")
		fmt.Printf("\nexport %s=%s\n\n", auth.SecretEnvVar, secret)
	} else {
		fmt.Printf("Using %s from the environment\n", auth.SecretEnvVar)
	}

	token, err := auth.GenerateJWT(subject, subject, nil, scopes, ttl)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("==========================================================")
	fmt.Printf("Subject: %s\nScopes:  %s\nExpires: %s\n",
		subject, strings.Join(scopes, " "), time.Now().Add(ttl).UTC().Format(time.RFC3339))
	fmt.Println("==========================================================")
	fmt.Printf("Authorization: Bearer %s\n", token)
	fmt.Println("==========================================================")
}
