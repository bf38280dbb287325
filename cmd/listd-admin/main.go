package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/oromail/listd/config"
	"github.com/oromail/listd/db"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "create-list":
		handleCreateList()
	case "update-list":
		handleUpdateList()
	case "delete-list":
		handleDeleteList()
	case "list-lists":
		handleListLists()
	case "add-owner":
		handleAddOwner()
	case "remove-owner":
		handleRemoveOwner()
	case "set-policy":
		handleSetPolicy()
	case "subscribe":
		handleSubscribe()
	case "unsubscribe":
		handleUnsubscribe()
	case "set-setting":
		handleSetSetting()
	case "unset-setting":
		handleUnsetSetting()
	case "set-template":
		handleSetTemplate()
	case "show-posts":
		handleShowPosts()
	case "show-queue":
		handleShowQueue()
	case "release":
		handleRelease()
	case "check-password":
		handleCheckPassword()
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`LISTD Admin Tool

Usage:
  listd-admin <command> [options]

Commands:
  create-list     Create a new mailing list
  update-list     Update name, description, archive URL or topics of a list
  delete-list     Delete a mailing list
  list-lists      Show all mailing lists
  add-owner       Add an owner to a list
  remove-owner    Remove an owner from a list
  set-policy      Set or remove the post policy of a list
  subscribe       Subscribe an address to a list, or update the subscription
  unsubscribe     Remove a subscription from a list
  set-setting     Set a message filter setting on a list
  unset-setting   Remove a message filter setting from a list
  set-template    Set a reply template
  show-posts      Show stored posts of a list
  show-queue      Show queue entries, or counts of all queues
  release         Release a deferred post for delivery
  check-password  Verify an account password
  help            Show this help message

Examples:
  listd-admin create-list --name "General" --list-id general --address general@lists.example.com
  listd-admin set-policy --list general --policy subscriber_only
  listd-admin subscribe --list general --address user@example.com
  listd-admin show-queue --queue deferred
  listd-admin release --id 42

Use 'listd-admin <command> --help' for more information about a command.
`)
}

// openDatabase loads the configuration and connects to the database. Every
// subcommand goes through here.
func openDatabase(ctx context.Context, configPath string, explicit bool) *db.Database {
	cfg := config.NewDefaultConfig()
	if _, err := os.Stat(configPath); err == nil {
		if err := config.LoadConfigFromFile(configPath, &cfg); err != nil {
			log.Fatalf("Error parsing configuration file '%s': %v", configPath, err)
		}
	} else if explicit {
		log.Fatalf("Specified configuration file '%s' not found", configPath)
	}

	database, err := db.NewDatabaseFromConfig(ctx, &cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	return database
}

func isFlagSet(fs *flag.FlagSet, name string) bool {
	isSet := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			isSet = true
		}
	})
	return isSet
}

// requireList resolves the --list flag value, accepting either a list id or
// a list address.
func requireList(ctx context.Context, database *db.Database, ref string) *db.MailingList {
	list, err := database.GetListByListID(ctx, ref)
	if err == nil {
		return list
	}
	list, err = database.GetListByAddress(ctx, ref)
	if err != nil {
		log.Fatalf("List not found: %s", ref)
	}
	return list
}
