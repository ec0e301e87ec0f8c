package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/openfroyo/patchwork/pkg/engine"
	"github.com/openfroyo/patchwork/pkg/stores"
)

// ExampleOpen demonstrates creating, initializing and migrating a store.
func ExampleOpen() {
	store, err := stores.Open(context.Background(), stores.Config{
		Path:            ":memory:",
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_SavePackage demonstrates the record lifecycle of a
// two phase install.
func ExampleSQLiteStore_SavePackage() {
	ctx := context.Background()
	store, _ := stores.Open(ctx, stores.Config{Path: ":memory:"})
	defer store.Close()

	record := &engine.PackageRecord{
		ComponentID:      "Core",
		PackageType:      engine.PackageTypeInstall,
		ComponentVersion: engine.MustParseVersion("7.1"),
		ExecutionDate:    time.Now(),
		ExecutionResult:  engine.ExecutionResultUnfinished,
		Description:      "Core platform",
		ManifestText:     `<Package type="Install">...</Package>`,
	}

	id, err := store.SavePackage(ctx, record)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Saved record %d as %s\n", id, record.ExecutionResult)

	record.ExecutionResult = engine.ExecutionResultSuccessful
	record.ExecutionDate = time.Now()
	if err := store.UpdatePackage(ctx, record); err != nil {
		log.Fatal(err)
	}

	records, _ := store.LoadPackages(ctx)
	for _, r := range records {
		fmt.Printf("%d %s %s %s\n", r.ID, r.ComponentID, r.ComponentVersion, r.ExecutionResult)
	}

	// Output:
	// Saved record 1 as Unfinished
	// 1 Core 7.1 Successful
}

// ExampleMemoryStore_ListAuditEntries demonstrates reading the audit trail.
func ExampleMemoryStore_ListAuditEntries() {
	ctx := context.Background()
	store := stores.NewMemoryStore()

	record := &engine.PackageRecord{
		ComponentID:      "Forms",
		PackageType:      engine.PackageTypePatch,
		ComponentVersion: engine.MustParseVersion("1.2"),
		ExecutionResult:  engine.ExecutionResultUnfinished,
	}
	_, _ = store.SavePackage(ctx, record)

	record.ExecutionResult = engine.ExecutionResultFaulty
	record.ExecutionError = "step Script failed"
	_ = store.UpdatePackage(ctx, record)

	entries, _ := store.ListAuditEntries(ctx, nil, 10, 0)
	for _, e := range entries {
		fmt.Println(e.Action, e.ComponentID, e.ExecutionResult)
	}

	// Output:
	// package.updated Forms Faulty
	// package.saved Forms Unfinished
}
