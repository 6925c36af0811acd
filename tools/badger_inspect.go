package main

import (
	"context"
	"dm-lab/repositories"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/olekukonko/tablewriter"
)

func main() {
	dbPath := flag.String("db", "./data/badger", "Path to badger DB")
	// Messages by default; "conv:", "user:", "pair:" or "" for everything.
	prefix := flag.String("prefix", "msg:", "Prefix to scan")
	limit := flag.Int("limit", 500, "Maximum number of rows, 0 for no limit")
	flag.Parse()

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	rows, err := repositories.Inspect(context.Background(), db, *prefix, *limit)
	if err != nil {
		log.Fatal(err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Type", "Timestamp", "Entity ID", "Detail"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	for _, row := range rows {
		table.Append([]string{row.Key, row.Type, row.Timestamp, row.EntityID, row.Detail})
	}
	table.Render()
	fmt.Printf("%d row(s)\n", len(rows))
}

// openDB opens the store read-only, next to a running server if needed.
func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true)

	db, err := badger.Open(opts)
	if err == nil {
		return db, nil
	}
	if !strings.Contains(err.Error(), "Log truncate required") {
		return nil, err
	}

	// A crashed server leaves a value log to truncate, which needs write mode.
	repairOpts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithBypassLockGuard(true)
	db, err = badger.Open(repairOpts)
	if err != nil {
		return nil, fmt.Errorf("repair failed: %w", err)
	}
	_ = db.Close()
	return badger.Open(opts)
}
