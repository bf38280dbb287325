package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/oromail/listd/db"
)

func handleShowQueue() {
	fs := flag.NewFlagSet("show-queue", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	queueName := fs.String("queue", "", "Queue name: maildrop, hold, deferred, corrupt, out, error (summary of all queues if omitted)")
	limit := fs.Int("limit", 50, "Maximum number of entries to show")

	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}

	ctx := context.Background()
	database := openDatabase(ctx, *configPath, isFlagSet(fs, "config"))
	defer database.Close()

	if *queueName == "" {
		counts, err := database.CountQueueEntries(ctx)
		if err != nil {
			log.Fatalf("Failed to count queues: %v", err)
		}
		for _, q := range []db.Queue{db.QueueMaildrop, db.QueueHold, db.QueueDeferred, db.QueueCorrupt, db.QueueOut, db.QueueError} {
			fmt.Printf("%-10s %d\n", q, counts[q])
		}
		return
	}

	queue, err := db.ParseQueue(*queueName)
	if err != nil {
		log.Fatalf("%v", err)
	}

	entries, err := database.GetQueueEntries(ctx, queue, *limit)
	if err != nil {
		log.Fatalf("Failed to load queue: %v", err)
	}
	if len(entries) == 0 {
		fmt.Printf("Queue %s is empty.\n", queue)
		return
	}

	for _, entry := range entries {
		comment := ""
		if entry.Comment != nil {
			comment = *entry.Comment
		}
		fmt.Printf("%-6d %-28s from=%s subject=%q attempts=%d %s\n",
			entry.ID, entry.MessageID, entry.FromAddress, entry.Subject, entry.Attempts, comment)
	}
}

func handleRelease() {
	fs := flag.NewFlagSet("release", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	id := fs.Int64("id", 0, "Queue entry id to release (required)")

	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}
	if *id == 0 {
		fmt.Printf("Error: --id is required\n\n")
		fs.Usage()
		os.Exit(1)
	}

	ctx := context.Background()
	database := openDatabase(ctx, *configPath, isFlagSet(fs, "config"))
	defer database.Close()

	entry, err := database.GetQueueEntry(ctx, *id)
	if err != nil {
		log.Fatalf("Queue entry not found: %v", err)
	}
	if entry.Queue != db.QueueDeferred && entry.Queue != db.QueueHold {
		log.Fatalf("Entry %d is in queue %s, only deferred and hold entries can be released", entry.ID, entry.Queue)
	}

	tx, err := database.BeginTx(ctx)
	if err != nil {
		log.Fatalf("Failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	if err := database.ReleaseQueueEntry(ctx, tx, entry, "released by moderator"); err != nil {
		log.Fatalf("Failed to release entry: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		log.Fatalf("Failed to commit: %v", err)
	}

	fmt.Printf("Released entry %d (%s) for delivery\n", entry.ID, entry.MessageID)
}
