package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/oromail/listd/consts"
	"github.com/oromail/listd/db"
)

func handleShowPosts() {
	fs := flag.NewFlagSet("show-posts", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	listRef := fs.String("list", "", "List id or address (required)")
	messageID := fs.String("message-id", "", "Show a single post by Message-ID")
	month := fs.String("month", "", "Show the archive for one month (YYYY-MM)")
	limit := fs.Int("limit", 50, "Maximum number of posts to show")

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

	if *messageID != "" {
		post, err := database.GetPostByMessageID(ctx, list.ID, *messageID)
		if err != nil {
			log.Fatalf("Post not found: %v", err)
		}
		fmt.Printf("From: %s\nMessage-ID: %s\nReceived: %s\nContent hash: %s\n\n",
			post.Address, post.MessageID, post.CreatedAt.Format("2006-01-02 15:04:05"), post.ContentHash)
		os.Stdout.Write(post.Message)
		return
	}

	var posts []*db.Post
	var err error
	if *month != "" {
		posts, err = database.GetListPostsByMonth(ctx, list.ID, *month)
	} else {
		posts, err = database.GetListPosts(ctx, list.ID, *limit)
	}
	if err != nil {
		log.Fatalf("Failed to load posts: %v", err)
	}
	if len(posts) == 0 {
		fmt.Printf("No posts on %s.\n", list.ListID)
		return
	}
	for _, post := range posts {
		fmt.Printf("%-6d %-20s %-30s %s\n",
			post.ID, post.CreatedAt.Format("2006-01-02 15:04"), post.Address, post.MessageID)
	}
}

func handleCheckPassword() {
	fs := flag.NewFlagSet("check-password", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	address := fs.String("address", "", "Account address (required)")
	password := fs.String("password", "", "Password to verify (required)")

	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}
	if *address == "" || *password == "" {
		fmt.Printf("Error: --address and --password are required\n\n")
		fs.Usage()
		os.Exit(1)
	}

	ctx := context.Background()
	database := openDatabase(ctx, *configPath, isFlagSet(fs, "config"))
	defer database.Close()

	account, err := database.GetAccountByAddress(ctx, *address)
	if errors.Is(err, consts.ErrDBNotFound) {
		log.Fatalf("No account for %s", *address)
	} else if err != nil {
		log.Fatalf("Failed to load account: %v", err)
	}
	if account.Password == nil {
		log.Fatalf("Account %s has no password set", account.Address)
	}

	if err := database.VerifyAccountPassword(ctx, *address, *password); err != nil {
		fmt.Println("Password mismatch.")
		os.Exit(1)
	}
	fmt.Println("Password OK.")
}
