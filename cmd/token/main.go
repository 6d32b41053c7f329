// Command token mints an HS256 access token for local testing.  Identity
// is owned by an external service in production.
//
//	go run ./cmd/token -user 42 -role CUSTOMER
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/iliyamo/ticket-booking/internal/middleware"
	"github.com/iliyamo/ticket-booking/internal/utils"
)

func main() {
	_ = godotenv.Load()

	user := flag.Uint64("user", 1, "user id (sub claim)")
	role := flag.String("role", middleware.RoleCustomer, "role claim: CUSTOMER, VENUE_MANAGER or ADMIN")
	ttl := flag.Int("ttl", 60, "lifetime in minutes")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "signing secret (defaults to JWT_SECRET)")
	flag.Parse()

	if *secret == "" {
		fmt.Fprintln(os.Stderr, "token: no secret: set JWT_SECRET or pass -secret")
		os.Exit(2)
	}
	tok, err := utils.NewAccessToken(*secret, *user, *role, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "token:", err)
		os.Exit(1)
	}
	fmt.Println(tok.Token)
}
