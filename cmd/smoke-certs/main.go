package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"certledger.org/internal/ledger/remote"
)

func main() {
	addr := os.Getenv("CERTLEDGER_GRPC_ADDR")
	if addr == "" {
		addr = "localhost:9091"
	}

	client, err := remote.Dial(addr)
	if err != nil {
		log.Fatalf("dial certd at %s: %v", addr, err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ready, err := client.Ready(ctx)
	if err != nil {
		log.Fatalf("health: %v", err)
	}
	if !ready {
		log.Fatalf("certd at %s is not serving", addr)
	}

	max, err := client.MaxWithdrawal(ctx)
	if err != nil {
		log.Fatalf("max withdrawal: %v", err)
	}
	if max < 0 {
		log.Fatalf("negative max withdrawal: %d", max)
	}

	// With a token id the smoke run also checks that both query paths agree.
	if tokenID := os.Getenv("CERTLEDGER_SMOKE_TOKEN"); tokenID != "" {
		valid, err := client.IsValid(ctx, tokenID)
		if err != nil {
			log.Fatalf("is valid %s: %v", tokenID, err)
		}
		c, err := client.Certificate(ctx, tokenID)
		if err != nil {
			log.Fatalf("certificate %s: %v", tokenID, err)
		}
		if c.Certification.Valid != valid {
			log.Fatalf("validity mismatch for %s: is_valid=%t token=%t", tokenID, valid, c.Certification.Valid)
		}
		fmt.Printf("token %s owner=%s valid=%t\n", tokenID, c.OwnerID, valid)
	}

	fmt.Printf("✅ certd smoke test passed: addr=%s max_withdrawal=%d\n", addr, max)
}
