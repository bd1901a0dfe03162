package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"edgecam/internal/repository/sqlite"
	"edgecam/internal/service"
	"edgecam/internal/service/storage"
)

func main() {
	uploadsDir := flag.String("uploads", "static/uploads", "Directory containing day folders of received images")
	dbPath := flag.String("db", "data/artifacts.db", "Ledger database path")
	reset := flag.Bool("reset", false, "Clear the ledger before scanning")
	flag.Parse()

	fmt.Printf("Recording artifacts from %s into ledger %s\n", *uploadsDir, *dbPath)

	if err := os.MkdirAll(filepath.Dir(*dbPath), 0755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	db, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	ledger := sqlite.NewArtifactRepository(db)
	if *reset {
		if err := ledger.DeleteAll(); err != nil {
			log.Fatalf("Failed to clear ledger: %v", err)
		}
		fmt.Println("🧹 Ledger cleared")
	}

	store, err := storage.NewStore(*uploadsDir)
	if err != nil {
		log.Fatalf("Failed to open uploads directory: %v", err)
	}

	result, err := service.Backfill(store, ledger)
	if err != nil {
		log.Fatalf("Failed to record artifacts: %v", err)
	}

	if result.Scanned == 0 {
		fmt.Println("No images found to record")
		return
	}

	fmt.Printf("✅ Recorded %d new artifacts (%d scanned)\n", result.Inserted, result.Scanned)
	for _, rel := range result.Skipped {
		log.Printf("⚠️  Skipped %s", rel)
	}

	stats, err := ledger.Stats()
	if err != nil {
		return
	}
	fmt.Printf("\n📊 Ledger Statistics:\n")
	fmt.Printf("   Total artifacts: %d\n", stats.TotalArtifacts)
	fmt.Printf("   Total size: %d bytes\n", stats.TotalBytes)
	if len(stats.PerDay) > 0 {
		days := make([]string, 0, len(stats.PerDay))
		for day := range stats.PerDay {
			days = append(days, day)
		}
		sort.Strings(days)
		fmt.Printf("   Per day:\n")
		for _, day := range days {
			fmt.Printf("      - %s: %d artifacts\n", day, stats.PerDay[day])
		}
	}
}
