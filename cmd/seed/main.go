// seed inserts demo users into the local dev database.
// Run: go run ./cmd/seed
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/ErlanBelekov/email-login/internal/domain"
	"github.com/ErlanBelekov/email-login/internal/infrastructure/postgres"
)

var users = []domain.User{
	{Guard: "web", Email: "seed@test.local", Name: "Seed User", Active: true},
	{Guard: "web", Email: "second@test.local", Name: "Second User", Active: true},
	// Inactive: a link request is accepted but nothing is sent.
	{Guard: "web", Email: "disabled@test.local", Name: "Disabled User", Active: false},
	// Only reachable with GUARDS=web:email,staff:username
	{Guard: "staff", Email: "ops@test.local", Username: "ops", Name: "Ops", Active: true},
}

func main() {
	ctx := context.Background()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set, run: direnv allow")
	}

	if err := postgres.Migrate(dbURL, "up"); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	pool, err := postgres.NewPool(ctx, dbURL, 2)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	repo := postgres.NewUserRepository(pool)

	fmt.Println("Seed complete")
	fmt.Println()
	for _, u := range users {
		saved, err := repo.Upsert(ctx, &u)
		if err != nil {
			pool.Close()
			log.Fatalf("upsert %s: %v", u.Email, err)
		}
		fmt.Printf("  %-6s %-22s %s  active=%t\n", saved.Guard, saved.Email, saved.ID, saved.Active)
	}

	fmt.Println()
	fmt.Println("How to test:")
	fmt.Println()
	fmt.Println("  Step 1 - request a link (MAILER=log prints it to the server log):")
	fmt.Println()
	fmt.Printf("    curl -s -X POST http://localhost:8080/auth/email/send \\\n")
	fmt.Printf("      -H 'Content-Type: application/json' \\\n")
	fmt.Printf("      -d '{\"email\":\"%s\",\"remember\":true}'\n", users[0].Email)
	fmt.Println()
	fmt.Println("  Step 2 - preview it (does not consume the token):")
	fmt.Println()
	fmt.Println("    curl -s 'LINK_FROM_LOG'")
	fmt.Println()
	fmt.Println("  Step 3 - log in and keep the session cookie:")
	fmt.Println()
	fmt.Println("    curl -s -X POST -c jar.txt 'LINK_FROM_LOG'")
	fmt.Println("    curl -s -b jar.txt http://localhost:8080/auth/me")
	fmt.Println()
	fmt.Println("  Posting the same link again answers 422: links work once.")
}
