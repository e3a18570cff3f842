package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/joho/godotenv"

	"github.com/tokengate/internal/config"
	jwtinfra "github.com/tokengate/internal/infrastructure/jwt"
)

// minttoken signs an ops-API bearer token offline. The bot has no login
// flow; operators mint tokens with the private key and pass them as
// Authorization headers.
func main() {
	subject := flag.String("subject", "ops-cli", "token subject")
	role := flag.String("role", "ops", "token role (ops or admin)")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}
	cfg := config.Load()

	provider, err := jwtinfra.NewProvider(cfg)
	if err != nil {
		log.Fatalf("jwt provider: %v", err)
	}

	token, err := provider.Sign(*subject, *role)
	if err != nil {
		log.Fatalf("sign: %v", err)
	}
	fmt.Println(token)
}
