// Command reconcile inspects the mirror database for the damage the
// write path tolerates: orphaned messages, duplicate wallets, malformed
// or colliding message identifiers, and journaled chain/mirror drift.
// With -repair it rewrites bad message identifiers in place. Run it
// only while the API is stopped; a repair racing an in-flight approval
// breaks that approval.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"paygram/internal/config"
	"paygram/internal/driftlog"
	"paygram/internal/reconcile"
	"paygram/internal/store"
)

func main() {
	repair := flag.Bool("repair", false, "rewrite malformed and duplicate message ids")
	asJSON := flag.Bool("json", false, "emit the report as JSON")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if cfg.Database.DSN == "" {
		log.Fatal("no database DSN configured; set DATABASE_URL or database.dsn")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx := context.Background()
	mirror, err := store.NewPostgresStore(ctx, cfg.Database.DSN)
	if err != nil {
		log.Fatalf("mirror store error: %v", err)
	}
	defer mirror.Close()

	journal := driftlog.New(cfg.Service.DriftLogPath)
	rec := reconcile.New(mirror, journal, logger)

	report, err := rec.Report(ctx)
	if err != nil {
		log.Fatalf("report error: %v", err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			log.Fatalf("encode report: %v", err)
		}
	} else {
		printReport(report)
	}

	if *repair {
		repaired, err := rec.RepairMessageIDs(ctx)
		if err != nil {
			log.Fatalf("repair error (repaired %d before failing): %v", repaired, err)
		}
		fmt.Printf("repaired %d message id(s)\n", repaired)
	}

	if !report.Clean() && !*repair {
		os.Exit(1)
	}
}

func printReport(r *reconcile.Report) {
	fmt.Printf("profiles: %d\nmessages: %d\n", r.Profiles, r.Messages)

	if r.Clean() {
		fmt.Println("mirror is consistent")
		return
	}

	for _, o := range r.OrphanedMessages {
		fmt.Printf("orphaned message %s (%s): missing profiles %v\n", o.MessageID, o.RowID, o.MissingProfiles)
	}
	for _, d := range r.DuplicateWallets {
		fmt.Printf("wallet %s has %d profiles: %v\n", d.WalletAddress, len(d.ProfileIDs), d.ProfileIDs)
	}
	for _, m := range r.MalformedIDs {
		fmt.Printf("malformed message id %q (row %s)\n", m.MessageID, m.RowID)
	}
	for _, d := range r.DuplicateIDs {
		fmt.Printf("duplicate message id %s on rows %v\n", d.MessageID, d.RowIDs)
	}
	for _, e := range r.DriftEntries {
		fmt.Printf("drift: %s of %s confirmed on chain (tx %s) but mirror write failed: %s\n",
			e.Operation, e.MessageID, e.TxSignature, e.Error)
	}
}
