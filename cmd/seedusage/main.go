package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"time"

	"github.com/ncecere/usage_dashboard/internal/config"
	"github.com/ncecere/usage_dashboard/internal/database"
	"github.com/ncecere/usage_dashboard/internal/store"
)

// seedusage loads demo usage data for local dashboard development.
func main() {
	days := flag.Int("days", 30, "number of trailing days to cover")
	perDay := flag.Int("per-day", 24, "records per user per day")
	seed := flag.Int64("seed", 1, "rng seed for reproducible data")
	flag.Parse()

	cfg, err := config.Load(config.Options{})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	pg := store.NewPostgres(pool, cfg.Query.FetchTimeout)

	users := []string{"alice", "bob", "carol"}
	activities := []string{"chat", "search", "embed", "summarize"}
	rng := rand.New(rand.NewSource(*seed))

	for _, user := range users {
		if err := pg.EnsureUser(ctx, user); err != nil {
			log.Fatalf("ensure user %s: %v", user, err)
		}
	}

	end := time.Now().UTC().Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -*days)
	step := 24 * time.Hour / time.Duration(*perDay)

	var inserted int
	for day := start; day.Before(end); day = day.AddDate(0, 0, 1) {
		for _, user := range users {
			for i := 0; i < *perDay; i++ {
				rec := store.Record{
					UserID:    user,
					Timestamp: day.Add(time.Duration(i) * step),
					Tokens:    int64(rng.Intn(2000)),
					Activity:  activities[rng.Intn(len(activities))],
				}
				if err := pg.InsertUsage(ctx, rec); err != nil {
					log.Fatalf("insert usage for %s at %s: %v", user, rec.Timestamp, err)
				}
				inserted++
			}
		}
	}

	log.Printf("seeded %d records for %d users across %d days", inserted, len(users), *days)
}
