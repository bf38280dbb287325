package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/oromail/listd/db"
)

func handleSetSetting() {
	fs := flag.NewFlagSet("set-setting", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	listRef := fs.String("list", "", "List id or address (required)")
	name := fs.String("name", "", "Setting name, e.g. MimeRejectSettings (required)")
	value := fs.String("value", "", "Setting value as JSON (required)")

	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}
	if *listRef == "" || *name == "" || *value == "" {
		fmt.Printf("Error: --list, --name and --value are required\n\n")
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

	if err := database.SetListSetting(ctx, tx, list.ID, *name, json.RawMessage(*value)); err != nil {
		log.Fatalf("Failed to set setting: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		log.Fatalf("Failed to commit: %v", err)
	}

	fmt.Printf("Set %s on %s\n", *name, list.ListID)
}

func handleUnsetSetting() {
	fs := flag.NewFlagSet("unset-setting", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	listRef := fs.String("list", "", "List id or address (required)")
	name := fs.String("name", "", "Setting name, e.g. MimeRejectSettings (required)")

	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}
	if *listRef == "" || *name == "" {
		fmt.Printf("Error: --list and --name are required\n\n")
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

	if err := database.RemoveListSetting(ctx, tx, list.ID, *name); err != nil {
		log.Fatalf("Failed to remove setting: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		log.Fatalf("Failed to commit: %v", err)
	}

	fmt.Printf("Removed %s from %s\n", *name, list.ListID)
}

func handleSetTemplate() {
	fs := flag.NewFlagSet("set-template", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	listRef := fs.String("list", "", "List id or address; omit for a global template")
	name := fs.String("name", "", "Template name, e.g. generic-help (required)")
	subject := fs.String("subject", "", "Subject template")
	bodyFile := fs.String("body-file", "", "File containing the body template (required)")

	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}
	if *name == "" || *bodyFile == "" {
		fmt.Printf("Error: --name and --body-file are required\n\n")
		fs.Usage()
		os.Exit(1)
	}

	body, err := os.ReadFile(*bodyFile)
	if err != nil {
		log.Fatalf("Failed to read body file: %v", err)
	}

	ctx := context.Background()
	database := openDatabase(ctx, *configPath, isFlagSet(fs, "config"))
	defer database.Close()

	tmpl := &db.Template{Name: *name, Body: string(body)}
	if *subject != "" {
		tmpl.Subject = subject
	}
	if *listRef != "" {
		list := requireList(ctx, database, *listRef)
		tmpl.ListID = &list.ID
	}

	tx, err := database.BeginTx(ctx)
	if err != nil {
		log.Fatalf("Failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	if _, err := database.SetTemplate(ctx, tx, tmpl); err != nil {
		log.Fatalf("Failed to set template: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		log.Fatalf("Failed to commit: %v", err)
	}

	scope := "globally"
	if tmpl.ListID != nil {
		scope = "for " + *listRef
	}
	fmt.Printf("Set template %s %s\n", *name, scope)
}
