//cmd/seeder/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	"github.com/kanisahub/comms-backend/internal/balance"
	"github.com/kanisahub/comms-backend/internal/db"
)

func main() {
	conn, err := db.Connect(os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	seedFiles := []string{
		"db/schema.sql",
		"seed/departments.sql",
		"seed/members.sql",
	}

	for _, file := range seedFiles {
		content, err := os.ReadFile(file)
		if err != nil {
			log.Fatalf("failed to read %s: %v", file, err)
		}

		_, err = conn.Exec(string(content))
		if err != nil {
			log.Fatalf("failed to execute %s: %v", file, err)
		}
		fmt.Printf("Seeded: %s\n", file)
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		credits := int64(1000)
		if v := os.Getenv("SEED_BALANCE"); v != "" {
			credits, err = strconv.ParseInt(v, 10, 64)
			if err != nil {
				log.Fatalf("invalid SEED_BALANCE: %v", err)
			}
		}

		rdb := redis.NewClient(&redis.Options{Addr: addr})
		defer rdb.Close()

		ledger := balance.NewRedisLedger(rdb)
		if err := ledger.TopUp(context.Background(), credits); err != nil {
			log.Fatalf("failed to top up balance: %v", err)
		}
		fmt.Printf("Credited messaging balance: %d\n", credits)
	}

	fmt.Println("Database seeding completed successfully!")
}
