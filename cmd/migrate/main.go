// migrate applies or rolls back the embedded schema migrations.
// Run: go run ./cmd/migrate [up|down]
package main

import (
	"log"
	"os"

	"github.com/ErlanBelekov/email-login/internal/infrastructure/postgres"
)

func main() {
	direction := "up"
	if len(os.Args) > 1 {
		direction = os.Args[1]
	}

	if err := postgres.Migrate(os.Getenv("DATABASE_URL"), direction); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	log.Printf("migrate %s: done", direction)
}
