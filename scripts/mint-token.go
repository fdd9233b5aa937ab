package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/gramorx/studybuddy-server/internal/middleware"
	"github.com/gramorx/studybuddy-server/internal/model"
)

func main() {
	_ = godotenv.Load()

	userID := flag.String("user", "", "user id (uuid); random when empty")
	plan := flag.String("plan", string(model.PlanFree), "plan tier: free, starter, booster or master")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		fmt.Fprintf(os.Stderr, "Usage: JWT_SECRET=... go run scripts/mint-token.go [-user <uuid>] [-plan <tier>] [-ttl 24h]\n")
		os.Exit(1)
	}

	if *userID == "" {
		*userID = uuid.NewString()
	} else if _, err := uuid.Parse(*userID); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid user id: %v\n", err)
		os.Exit(1)
	}

	token, err := middleware.NewAuthMiddleware(secret).IssueToken(*userID, model.ParsePlanID(*plan), *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
