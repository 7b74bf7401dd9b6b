// Package main is a stand-alone integrity check for the audit trail database. It
// connects with a plain DSN, walks every persisted event in sequence order and prints
// each broken link or hash mismatch. The binary exits non-zero when the chain is broken
// or unreachable, so it can gate deployments or run from an auditor's workstation
// without the server configuration.
//
// Usage:
//
//	check-chain [dsn]
//
// The DSN falls back to DATABASE_URL. AUDIT_CHAIN_ALGORITHM selects the hash
// (sha256 when unset).
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/audit-trail/audit-trail/internal/audit"
	"github.com/audit-trail/audit-trail/internal/db/repositories"
)

func main() {
	dsn := os.Getenv("DATABASE_URL")
	if len(os.Args) > 1 {
		dsn = os.Args[1]
	}
	if dsn == "" {
		log.Fatalf("usage: %s <dsn> (or set DATABASE_URL)", os.Args[0])
	}
	algorithm := os.Getenv("AUDIT_CHAIN_ALGORITHM")
	if algorithm == "" {
		algorithm = "sha256"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer db.Close()

	report, err := audit.VerifyChain(ctx, repositories.NewAuditEventRepository(db), algorithm, 0)
	if err != nil {
		log.Fatalf("Verification failed: %v", err)
	}

	fmt.Printf("Algorithm: %s\n", report.Algorithm)
	fmt.Printf("Events checked: %d\n", report.Checked)
	if report.Pruned > 0 {
		fmt.Printf("Pruned links bridged: %d\n", report.Pruned)
	}
	if report.HeadHash != "" {
		fmt.Printf("Head hash: %s\n", report.HeadHash)
	}
	if report.Valid {
		fmt.Println("Chain OK")
		return
	}

	fmt.Printf("\n=== %d VIOLATIONS ===\n", len(report.Violations))
	for _, v := range report.Violations {
		fmt.Printf("seq %d  event %s  %s\n  expected %s\n  actual   %s\n",
			v.Sequence, v.EventID, v.Reason, v.Expected, v.Actual)
	}
	os.Exit(1)
}
