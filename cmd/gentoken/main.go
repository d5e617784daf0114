// cmd/gentoken/main.go: Emite un bearer token de desarrollo.
// Uso: go run ./cmd/gentoken -rol supervisor -ttl 8h
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"turnopos/internal/middleware"

	"github.com/google/uuid"
)

func main() {
	userID := flag.String("user", uuid.NewString(), "user_id (uuid)")
	username := flag.String("username", "demo", "username")
	rol := flag.String("rol", middleware.RolCajero, "cajero | supervisor | administrador")
	ttl := flag.Duration("ttl", 8*time.Hour, "token lifetime")
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET no definido")
	}
	if _, err := uuid.Parse(*userID); err != nil {
		log.Fatalf("user inválido: %v", err)
	}
	switch *rol {
	case middleware.RolCajero, middleware.RolSupervisor, middleware.RolAdministrador:
	default:
		log.Fatalf("rol desconocido: %s", *rol)
	}

	tok, err := middleware.IssueToken(secret, middleware.JWTClaims{UserID: *userID, Username: *username, Rol: *rol}, *ttl)
	if err != nil {
		log.Fatalf("sign error: %v", err)
	}
	fmt.Println(tok)
}
