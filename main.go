package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	log.SetPrefix("lg/health-targets-api: ")
	log.SetFlags(0)

	recomputeFlag := flag.Bool("recompute", false,
		"run the weekly target recompute sweep once and exit (cron entry point)")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	pool := getDBPool()
	defer pool.Close()
	store := newPGStore(pool)

	if *recomputeFlag {
		// The report goes to stdout as JSON for the notification pipeline.
		report, err := runWeeklyRecompute(context.Background(), store, time.Now)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Recompute run failed: %v\n", err)
			os.Exit(1)
		}
		out, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(out))
		return
	}

	h := newHandler(pool, store, time.Now)

	router := gin.Default()
	router.SetTrustedProxies(nil)
	h.registerRoutes(router)

	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}
	fmt.Printf("Starting gin app on :%s...\n", port)
	router.Run(":" + port)
}
