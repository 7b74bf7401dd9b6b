// Package main recomputes the chain hash of a single audit event. It reads the event
// as JSON on stdin (the shape returned by GET /api/v1/audit/events/:id), prints the
// canonical string and the recomputed hash, and exits non-zero when the event carries
// an event_hash that does not match. Auditors use it to check an exported event by
// hand without database access.
//
// Usage:
//
//	hash [algorithm] < event.json
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/audit-trail/audit-trail/internal/audit"
	"github.com/audit-trail/audit-trail/internal/db/models"
)

func main() {
	algorithm := "sha256"
	if len(os.Args) > 1 {
		algorithm = os.Args[1]
	}

	var ev models.AuditEvent
	if err := json.NewDecoder(os.Stdin).Decode(&ev); err != nil {
		log.Fatalf("failed to decode event: %v", err)
	}

	sum, err := audit.ComputeHash(algorithm, &ev, ev.PreviousHash)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("canonical: %s\n", audit.CanonicalString(&ev, ev.PreviousHash))
	fmt.Printf("%s: %s\n", algorithm, sum)

	if ev.EventHash == "" {
		return
	}
	if ev.EventHash != sum {
		fmt.Printf("MISMATCH: stored event_hash is %s\n", ev.EventHash)
		os.Exit(1)
	}
	fmt.Println("event_hash matches")
}
