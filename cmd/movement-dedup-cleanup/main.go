package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"bitbucket.org/mmdatafocus/distribution_backend/config"
	"bitbucket.org/mmdatafocus/distribution_backend/models"
)

// Deletes movement dedup keys older than the retention window. Keys only
// need to outlive the retry window of a crashed confirmation, and the unique
// index slows down as the table grows, so this runs as a scheduled job.
func main() {
	retentionDays := flag.Int("retention-days", 30, "Delete dedup keys older than this many days")
	dryRun := flag.Bool("dry-run", false, "Count matching rows without deleting")
	flag.Parse()

	if *retentionDays < 1 {
		fmt.Fprintln(os.Stderr, "retention-days must be at least 1")
		os.Exit(1)
	}

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}

	cutoff := time.Now().AddDate(0, 0, -*retentionDays)

	if *dryRun {
		var count int64
		err := db.WithContext(ctx).Model(&models.MovementDedup{}).
			Where("created_at < ?", cutoff).
			Count(&count).Error
		if err != nil {
			fmt.Fprintf(os.Stderr, "count failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("dry run: %d dedup rows older than %s\n", count, cutoff.Format("2006-01-02"))
		return
	}

	deleted, err := models.PurgeMovementDedupBefore(ctx, cutoff)
	if err != nil {
		fmt.Fprintf(os.Stderr, "purge failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("deleted %d dedup rows older than %s\n", deleted, cutoff.Format("2006-01-02"))
}
