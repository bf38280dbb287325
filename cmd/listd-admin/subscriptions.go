package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/oromail/listd/db"
)

func handleSubscribe() {
	fs := flag.NewFlagSet("subscribe", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	listRef := fs.String("list", "", "List id or address (required)")
	address := fs.String("address", "", "Subscriber address (required)")
	name := fs.String("name", "", "Subscriber display name")
	digest := fs.Bool("digest", false, "Deliver posts as periodic digests")
	receiveOwnPosts := fs.Bool("receive-own-posts", false, "Deliver the subscriber's own posts back to them")

	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}
	if *listRef == "" || *address == "" {
		fmt.Printf("Error: --list and --address are required\n\n")
		fs.Usage()
		os.Exit(1)
	}

	ctx := context.Background()
	database := openDatabase(ctx, *configPath, isFlagSet(fs, "config"))
	defer database.Close()

	list := requireList(ctx, database, *listRef)

	var subName *string
	if *name != "" {
		subName = name
	}

	tx, err := database.BeginTx(ctx)
	if err != nil {
		log.Fatalf("Failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	sub := &db.ListSubscription{
		ListID:              list.ID,
		Address:             *address,
		Name:                subName,
		Digest:              *digest,
		ReceiveOwnPosts:     *receiveOwnPosts,
		ReceiveDuplicates:   true,
		ReceiveConfirmation: true,
		Enabled:             true,
		Verified:            true,
	}
	created, err := database.CreateSubscription(ctx, tx, sub)
	verb := "Subscribed"
	switch {
	case err == nil:
		sub = created
	case errors.Is(err, db.ErrDuplicateSubscription):
		if err := database.UpdateSubscription(ctx, tx, sub); err != nil {
			log.Fatalf("Failed to update subscription: %v", err)
		}
		verb = "Updated subscription of"
	default:
		log.Fatalf("Failed to subscribe: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		log.Fatalf("Failed to commit: %v", err)
	}

	mode := "immediate"
	if sub.Digest {
		mode = "digest"
	}
	fmt.Printf("%s %s to %s (%s)\n", verb, sub.Address, list.ListID, mode)
}

func handleUnsubscribe() {
	fs := flag.NewFlagSet("unsubscribe", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	listRef := fs.String("list", "", "List id or address (required)")
	address := fs.String("address", "", "Subscriber address (required)")

	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}
	if *listRef == "" || *address == "" {
		fmt.Printf("Error: --list and --address are required\n\n")
		fs.Usage()
		os.Exit(1)
	}

	ctx := context.Background()
	database := openDatabase(ctx, *configPath, isFlagSet(fs, "config"))
	defer database.Close()

	list := requireList(ctx, database, *listRef)

	tx, err := database.BeginTx(ctx)
	if err != nil {
		log.Fatalf("Failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	if err := database.DeleteSubscription(ctx, tx, list.ID, *address); err != nil {
		log.Fatalf("Failed to unsubscribe: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		log.Fatalf("Failed to commit: %v", err)
	}

	fmt.Printf("Unsubscribed %s from %s\n", *address, list.ListID)
}
