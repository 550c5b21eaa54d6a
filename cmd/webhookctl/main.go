// Command webhookctl manages the push subscription registered with the
// upstream provider. Intended for operators, not end users.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"example.com/stravasync/internal/config"
	"example.com/stravasync/internal/secrets"
	"example.com/stravasync/internal/strava"
)

func main() {
	var (
		callbackURL = flag.String("callback-url", "", "public callback URL for create")
		subID       = flag.Int64("id", 0, "subscription id for delete")
	)
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}

	cfg := config.Load()
	client := strava.NewClient(nil, secrets.NewCached(secrets.EnvStore{}), cfg.StravaSecretName, strava.Config{
		BaseURL: cfg.StravaBaseURL,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch flag.Arg(0) {
	case "create":
		if *callbackURL == "" {
			log.Fatal("create requires -callback-url")
		}
		sub, err := client.CreateSubscription(ctx, *callbackURL, cfg.WebhookVerifyToken)
		if err != nil {
			log.Fatalf("create subscription: %v", err)
		}
		fmt.Printf("created subscription %d -> %s\n", sub.ID, sub.CallbackURL)
	case "list":
		subs, err := client.ListSubscriptions(ctx)
		if err != nil {
			log.Fatalf("list subscriptions: %v", err)
		}
		if len(subs) == 0 {
			fmt.Println("no subscriptions registered")
			return
		}
		for _, sub := range subs {
			fmt.Printf("%d\t%s\t%s\n", sub.ID, sub.CallbackURL, sub.CreatedAt)
		}
	case "delete":
		if *subID == 0 {
			log.Fatal("delete requires -id")
		}
		if err := client.DeleteSubscription(ctx, *subID); err != nil {
			log.Fatalf("delete subscription: %v", err)
		}
		fmt.Printf("deleted subscription %d\n", *subID)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: webhookctl [flags] <command>

commands:
  create   register the webhook callback (-callback-url required)
  list     show registered subscriptions
  delete   remove a subscription (-id required)

flags:
`)
	flag.PrintDefaults()
}
