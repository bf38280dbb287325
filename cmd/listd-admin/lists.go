package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/oromail/listd/consts"
	"github.com/oromail/listd/db"
)

func newPolicy(listID int64, name string) *db.PostPolicy {
	policy := &db.PostPolicy{ListID: listID}
	switch name {
	case "open":
		policy.Open = true
	case "announce_only":
		policy.AnnounceOnly = true
	case "subscriber_only":
		policy.SubscriberOnly = true
	case "approval_needed":
		policy.ApprovalNeeded = true
	case "custom":
		policy.Custom = true
	default:
		return nil
	}
	return policy
}

func handleCreateList() {
	fs := flag.NewFlagSet("create-list", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	name := fs.String("name", "", "Display name of the list (required)")
	listID := fs.String("list-id", "", "Short identifier used in headers and subject tags (required)")
	address := fs.String("address", "", "Posting address of the list (required)")
	description := fs.String("description", "", "Description of the list")
	archiveURL := fs.String("archive-url", "", "URL of the public archive")
	topics := fs.String("topics", "", "Comma separated topic tags")

	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}
	if *name == "" || *listID == "" || *address == "" {
		fmt.Printf("Error: --name, --list-id and --address are required\n\n")
		fs.Usage()
		os.Exit(1)
	}

	ctx := context.Background()
	database := openDatabase(ctx, *configPath, isFlagSet(fs, "config"))
	defer database.Close()

	var desc, archive *string
	if *description != "" {
		desc = description
	}
	if *archiveURL != "" {
		archive = archiveURL
	}
	var tags []string
	for _, t := range strings.Split(*topics, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}

	tx, err := database.BeginTx(ctx)
	if err != nil {
		log.Fatalf("Failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	list, err := database.CreateList(ctx, tx, *name, *listID, *address, desc, archive, tags)
	if err != nil {
		log.Fatalf("Failed to create list: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		log.Fatalf("Failed to commit: %v", err)
	}

	fmt.Printf("Created list %s <%s> (id %d)\n", list.ListID, list.Address, list.ID)
}

func handleListLists() {
	fs := flag.NewFlagSet("list-lists", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")

	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}

	ctx := context.Background()
	database := openDatabase(ctx, *configPath, isFlagSet(fs, "config"))
	defer database.Close()

	lists, err := database.GetLists(ctx)
	if err != nil {
		log.Fatalf("Failed to load lists: %v", err)
	}
	if len(lists) == 0 {
		fmt.Println("No lists.")
		return
	}

	for _, list := range lists {
		policy, err := database.GetPostPolicy(ctx, list.ID)
		if err != nil {
			log.Fatalf("Failed to load policy for %s: %v", list.ListID, err)
		}
		policyName := "open"
		if policy != nil {
			switch {
			case policy.AnnounceOnly:
				policyName = "announce_only"
			case policy.SubscriberOnly:
				policyName = "subscriber_only"
			case policy.ApprovalNeeded:
				policyName = "approval_needed"
			case policy.Custom:
				policyName = "custom"
			}
		}
		fmt.Printf("%-20s %-40s policy=%s\n", list.ListID, list.Address, policyName)
	}

	total, err := database.CountSubscriptions(ctx)
	if err != nil {
		log.Fatalf("Failed to count subscriptions: %v", err)
	}
	fmt.Printf("%d lists, %d subscriptions\n", len(lists), total)
}

func handleUpdateList() {
	fs := flag.NewFlagSet("update-list", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	listRef := fs.String("list", "", "List id or address (required)")
	name := fs.String("name", "", "New display name")
	description := fs.String("description", "", "New description")
	archiveURL := fs.String("archive-url", "", "New archive URL")
	topics := fs.String("topics", "", "Comma separated topic tags (replaces existing)")

	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}
	if *listRef == "" {
		fmt.Printf("Error: --list is required\n\n")
		fs.Usage()
		os.Exit(1)
	}

	ctx := context.Background()
	database := openDatabase(ctx, *configPath, isFlagSet(fs, "config"))
	defer database.Close()

	list := requireList(ctx, database, *listRef)

	if isFlagSet(fs, "name") {
		list.Name = *name
	}
	if isFlagSet(fs, "description") {
		if *description == "" {
			list.Description = nil
		} else {
			list.Description = description
		}
	}
	if isFlagSet(fs, "archive-url") {
		if *archiveURL == "" {
			list.ArchiveURL = nil
		} else {
			list.ArchiveURL = archiveURL
		}
	}
	if isFlagSet(fs, "topics") {
		var tags []string
		for _, t := range strings.Split(*topics, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
		list.Topics = tags
	}

	tx, err := database.BeginTx(ctx)
	if err != nil {
		log.Fatalf("Failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	if err := database.UpdateList(ctx, tx, list); err != nil {
		log.Fatalf("Failed to update list: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		log.Fatalf("Failed to commit: %v", err)
	}

	fmt.Printf("Updated list %s\n", list.ListID)
}

func handleDeleteList() {
	fs := flag.NewFlagSet("delete-list", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	listRef := fs.String("list", "", "List id or address (required)")
	confirm := fs.Bool("yes", false, "Skip the confirmation prompt")

	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}
	if *listRef == "" {
		fmt.Printf("Error: --list is required\n\n")
		fs.Usage()
		os.Exit(1)
	}

	ctx := context.Background()
	database := openDatabase(ctx, *configPath, isFlagSet(fs, "config"))
	defer database.Close()

	list := requireList(ctx, database, *listRef)

	if !*confirm {
		fmt.Printf("Delete list %s <%s> and all its subscriptions, posts and queue entries? (y/N): ", list.ListID, list.Address)
		var answer string
		fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" {
			fmt.Println("Cancelled.")
			return
		}
	}

	tx, err := database.BeginTx(ctx)
	if err != nil {
		log.Fatalf("Failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	if err := database.DeleteList(ctx, tx, list.ID); err != nil {
		log.Fatalf("Failed to delete list: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		log.Fatalf("Failed to commit: %v", err)
	}

	fmt.Printf("Deleted list %s\n", list.ListID)
}

func handleAddOwner() {
	fs := flag.NewFlagSet("add-owner", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	listRef := fs.String("list", "", "List id or address (required)")
	address := fs.String("address", "", "Owner address (required)")
	name := fs.String("name", "", "Owner display name")

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

	var ownerName *string
	if *name != "" {
		ownerName = name
	}

	tx, err := database.BeginTx(ctx)
	if err != nil {
		log.Fatalf("Failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	if _, err := database.AddListOwner(ctx, tx, list.ID, *address, ownerName); err != nil {
		log.Fatalf("Failed to add owner: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		log.Fatalf("Failed to commit: %v", err)
	}

	fmt.Printf("Added owner %s to %s\n", *address, list.ListID)
}

func handleRemoveOwner() {
	fs := flag.NewFlagSet("remove-owner", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	listRef := fs.String("list", "", "List id or address (required)")
	address := fs.String("address", "", "Owner address (required)")

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

	if err := database.RemoveListOwner(ctx, tx, list.ID, *address); err != nil {
		log.Fatalf("Failed to remove owner: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		log.Fatalf("Failed to commit: %v", err)
	}

	fmt.Printf("Removed owner %s from %s\n", *address, list.ListID)
}

func handleSetPolicy() {
	fs := flag.NewFlagSet("set-policy", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	listRef := fs.String("list", "", "List id or address (required)")
	policyName := fs.String("policy", "", "Policy: open, announce_only, subscriber_only, approval_needed, custom, none (required)")

	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}
	if *listRef == "" || *policyName == "" {
		fmt.Printf("Error: --list and --policy are required\n\n")
		fs.Usage()
		os.Exit(1)
	}

	ctx := context.Background()
	database := openDatabase(ctx, *configPath, isFlagSet(fs, "config"))
	defer database.Close()

	list := requireList(ctx, database, *listRef)

	var policy *db.PostPolicy
	if *policyName != "none" {
		policy = newPolicy(list.ID, *policyName)
		if policy == nil {
			log.Fatalf("Unknown policy: %s", *policyName)
		}
	}

	tx, err := database.BeginTx(ctx)
	if err != nil {
		log.Fatalf("Failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	if policy == nil {
		err = database.RemovePostPolicy(ctx, tx, list.ID)
		if errors.Is(err, consts.ErrDBNotFound) {
			err = nil
		}
	} else {
		_, err = database.SetPostPolicy(ctx, tx, policy)
	}
	if err != nil {
		log.Fatalf("Failed to set policy: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		log.Fatalf("Failed to commit: %v", err)
	}

	fmt.Printf("Set policy %s on %s\n", *policyName, list.ListID)
}
