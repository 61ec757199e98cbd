// Command vapidkeys prints a fresh VAPID key pair in the formats the service
// reads from VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	webpushgo "github.com/SherClockHolmes/webpush-go"

	"github.com/tinywideclouds/go-push-delivery/internal/vapid"
)

func main() {
	envFormat := flag.Bool("env", false, "print as shell export lines")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	privateKey, publicKey, err := webpushgo.GenerateVAPIDKeys()
	if err != nil {
		logger.Error("Key generation failed", "err", err)
		os.Exit(1)
	}

	// Round-trip through the service's own loader so a pair that prints is a
	// pair that loads.
	if _, err := vapid.NewKeyMaterial(publicKey, privateKey); err != nil {
		logger.Error("Generated pair did not validate", "err", err)
		os.Exit(1)
	}

	if *envFormat {
		fmt.Printf("export VAPID_PUBLIC_KEY=%s\n", publicKey)
		fmt.Printf("export VAPID_PRIVATE_KEY=%s\n", privateKey)
		return
	}
	fmt.Printf("public_key:  %s\n", publicKey)
	fmt.Printf("private_key: %s\n", privateKey)
}
