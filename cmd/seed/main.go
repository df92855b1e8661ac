// Command seed fills the database with a synthetic social graph and then
// reconciles so every counter matches the generated records.
package main

import (
	"context"
	"flag"
	"log"

	"momentum/internal/bootstrap"
	"momentum/internal/config"
	"momentum/internal/seed"
)

func main() {
	opts := seed.DefaultOptions()
	flag.IntVar(&opts.Users, "users", opts.Users, "Number of users to create")
	flag.IntVar(&opts.PostsPerUser, "posts", opts.PostsPerUser, "Posts per user")
	flag.IntVar(&opts.FollowsPerUser, "follows", opts.FollowsPerUser, "Average follows per user")
	flag.IntVar(&opts.Days, "days", opts.Days, "Spread timestamps over this many days")
	flag.Float64Var(&opts.LikeRatio, "like-ratio", opts.LikeRatio, "Chance a viewer likes a visible post")
	flag.BoolVar(&opts.Clean, "clean", opts.Clean, "Clean database before seeding")
	flag.Int64Var(&opts.Seed, "seed", 0, "Random seed (0 picks one)")
	flag.Parse()

	log.Println("🌱 Database Seeder")
	log.Println("==================")
	log.Printf("Target: %d users, %d posts each, clean=%v\n", opts.Users, opts.PostsPerUser, opts.Clean)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if _, err := bootstrap.InitObservability(cfg, "momentum-seed"); err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	rt, err := bootstrap.InitRuntime(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize runtime: %v", err)
	}
	defer rt.Close()

	ctx := context.Background()
	if _, err := seed.NewSeeder(rt.DB, opts).Run(ctx); err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}

	report, err := rt.NewReconciler().Rebuild(ctx)
	if err != nil {
		log.Fatalf("❌ Reconcile failed: %v", err)
	}
	log.Printf("✓ %d counters derived", report.CountersCorrected)
	log.Println("✨ All done! Your database is now populated with test data.")
}
