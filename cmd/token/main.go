package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/eldtechnologies/greenhub/internal/auth"
	"github.com/eldtechnologies/greenhub/internal/models"
	"github.com/eldtechnologies/greenhub/internal/store"
)

func main() {
	_ = godotenv.Load()

	userID := flag.Int64("user", 0, "User ID (token subject)")
	name := flag.String("name", "", "Display name stored for the user")
	role := flag.String("role", models.RoleUser, "Role claim (user or admin)")
	ttl := flag.Duration("ttl", 24*time.Hour, "Token lifetime")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "HS256 secret (defaults to $JWT_SECRET)")
	issuer := flag.String("issuer", os.Getenv("JWT_ISSUER"), "Issuer claim (defaults to $JWT_ISSUER)")
	dbPath := flag.String("db", "", "SQLite file to upsert the user's display name into")
	flag.Parse()

	if *userID <= 0 || *secret == "" {
		fmt.Fprintln(os.Stderr, "Usage: token -user <id> [-name <display name>] [-role user|admin] [-ttl 24h] [-secret <s>] [-db <sqlite path>]")
		fmt.Fprintln(os.Stderr, "  Prints a bearer token for the greenhub API")
		os.Exit(1)
	}
	if *role != models.RoleUser && *role != models.RoleAdmin {
		fmt.Fprintf(os.Stderr, "Invalid role %q\n", *role)
		os.Exit(1)
	}

	token, err := auth.NewJWTVerifier(*secret, *issuer).Issue(*userID, *role, *name, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to sign token: %v\n", err)
		os.Exit(1)
	}

	// Seed the display name so chat listings show it
	if *dbPath != "" && *name != "" {
		ctx := context.Background()
		db, err := store.NewSQLiteStore(ctx, *dbPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
			os.Exit(1)
		}
		err = db.UpsertUser(ctx, *userID, *name)
		db.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to store user: %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Println(token)
}
