package main

import (
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"

	"Agora/internal/api/middleware"
	"Agora/internal/config"
)

// gentoken creates a JWT_SECRET or signs development bearer tokens with it
//
// Usage:
//
//	go run cmd/gentoken/main.go -new-secret
//	go run cmd/gentoken/main.go -user alice -role moderator -ttl 24h
func main() {
	_ = godotenv.Load()

	newSecret := flag.Bool("new-secret", false, "print a fresh random JWT_SECRET and exit")
	user := flag.String("user", "", "user id placed in the sub claim")
	role := flag.String("role", "", "optional role claim, e.g. moderator")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *newSecret {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			log.Fatalf("Failed to generate secret: %v", err)
		}
		fmt.Println("\n📝 Add this to your .env file:")
		fmt.Println("\nJWT_SECRET=" + base64.RawURLEncoding.EncodeToString(buf))
		fmt.Println("\n⚠️  Keep it SECRET and generate a separate one for production")
		return
	}

	secret := config.String("JWT_SECRET", "")
	if secret == "" {
		log.Fatal("JWT_SECRET is not set; run with -new-secret first")
	}
	if *user == "" {
		log.Fatal("-user is required")
	}

	auth := middleware.NewJWTAuthMiddleware([]byte(secret), config.String("JWT_ISSUER", ""), false)
	token, err := auth.SignToken(*user, *role, *ttl)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}
	fmt.Println(token)
}
