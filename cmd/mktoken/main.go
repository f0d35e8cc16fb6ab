package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ncecere/usage_dashboard/internal/auth"
	"github.com/ncecere/usage_dashboard/internal/rbac"
)

// mktoken signs a development bearer token against the configured secret.
func main() {
	userID := flag.String("user", "", "subject user id")
	roleName := flag.String("role", "user", "role claim (user or admin)")
	issuer := flag.String("issuer", "usage-dashboard", "issuer claim")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	if *userID == "" {
		log.Fatal("-user is required")
	}
	role, ok := rbac.ParseRole(*roleName)
	if !ok {
		log.Fatalf("unknown role %q", *roleName)
	}
	secret := os.Getenv("DASH_AUTH_JWT_SECRET")
	if secret == "" {
		log.Fatal("DASH_AUTH_JWT_SECRET is not set")
	}

	tm, err := auth.NewTokenManager(secret, *issuer, *ttl)
	if err != nil {
		log.Fatalf("token manager: %v", err)
	}
	token, expires, err := tm.Generate(*userID, role)
	if err != nil {
		log.Fatalf("sign token: %v", err)
	}

	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", expires.UTC().Format(time.RFC3339))
}
