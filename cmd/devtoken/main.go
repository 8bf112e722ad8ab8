// Command devtoken mints an access token for local runs, signed with
// JWT_SECRET in the shape the identity service issues.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/iliyamo/seat-arbiter/internal/model"
	"github.com/iliyamo/seat-arbiter/internal/utils"
)

func main() {
	_ = godotenv.Load()

	user := flag.String("user", "", "subject (user id)")
	role := flag.String("role", model.RoleUser, "role claim: user or admin")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" || *user == "" {
		fmt.Fprintln(os.Stderr, "usage: JWT_SECRET=... devtoken -user <id> [-role admin] [-ttl 1h]")
		os.Exit(2)
	}
	tok, err := utils.NewAccessToken(secret, *user, *role, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(tok.Token)
}
