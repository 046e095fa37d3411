// Package main provides a tool to seed the database with a small catalog and members.
//
// It creates one staff account, a handful of approved members, and catalog
// items with between one and three copies, then prints the IDs so requests
// can be made against a local server with the X-Member-ID header.
//
// Usage:
//
//	DB_PATH=~/Circulation/data/circulation.db go run ./cmd/seed
//	DB_PATH=~/Circulation/data/circulation.db go run ./cmd/seed --pending  # Also create a pending member
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/circulate/circulation-server/internal/domain"
	"github.com/circulate/circulation-server/internal/id"
	"github.com/circulate/circulation-server/internal/store/sqlite"
)

var withPending = flag.Bool("pending", false, "Also create a member whose membership is not yet approved")

// seedTitles are the catalog entries created on an empty database.
var seedTitles = []struct {
	title  string
	author string
}{
	{"The Left Hand of Darkness", "Ursula K. Le Guin"},
	{"Invisible Cities", "Italo Calvino"},
	{"Beloved", "Toni Morrison"},
	{"The Master and Margarita", "Mikhail Bulgakov"},
	{"Pedro Páramo", "Juan Rulfo"},
	{"Kindred", "Octavia E. Butler"},
}

// seedMemberNames are display names for generated members.
var seedMemberNames = []string{
	"Alex Rivera",
	"Jordan Chen",
	"Sam Taylor",
	"Casey Morgan",
}

func main() {
	flag.Parse()

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = os.ExpandEnv("$HOME/Circulation/data/circulation.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	fmt.Printf("Opening database at: %s\n", dbPath)

	s, err := sqlite.Open(dbPath, nil)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	now := time.Now().UTC()

	existing, err := s.ListItems(ctx)
	if err != nil {
		log.Fatalf("Failed to list items: %v", err)
	}
	if len(existing) > 0 {
		fmt.Printf("Catalog already has %d items, skipping catalog seed\n", len(existing))
	} else {
		seedCatalog(ctx, s, now)
	}

	fmt.Println("\n=== Creating Members ===")

	staff := createMember(ctx, s, "Front Desk", domain.RoleAdmin, domain.StandingApproved, now)
	if staff != "" {
		fmt.Printf("  Staff:   %s\n", staff)
	}

	for _, name := range seedMemberNames {
		if memberID := createMember(ctx, s, name, domain.RoleMember, domain.StandingApproved, now); memberID != "" {
			fmt.Printf("  Member:  %s (%s)\n", memberID, name)
		}
	}

	if *withPending {
		if memberID := createMember(ctx, s, "Pat Pending", domain.RoleMember, domain.StandingPending, now); memberID != "" {
			fmt.Printf("  Pending: %s\n", memberID)
		}
	}

	fmt.Println("\nSeeding complete!")
}

// seedCatalog creates the seed titles with a random number of copies each.
func seedCatalog(ctx context.Context, s *sqlite.Store, now time.Time) {
	fmt.Println("\n=== Creating Catalog ===")

	rng := rand.New(rand.NewSource(now.UnixNano()))

	for _, entry := range seedTitles {
		copies := 1 + rng.Intn(3)
		item := domain.NewCatalogItem(id.MustGenerate(id.PrefixItem), entry.title, entry.author, copies, now)

		if err := s.CreateItem(ctx, item); err != nil {
			log.Printf("  Failed to create item %q: %v", entry.title, err)
			continue
		}
		fmt.Printf("  %s  %-28s %d copies\n", item.ID, entry.title, copies)
	}
}

// createMember stores a member and returns its ID, or "" on failure.
func createMember(ctx context.Context, s *sqlite.Store, name string, role domain.Role, standing domain.Standing, now time.Time) string {
	memberID := id.MustGenerate(id.PrefixMember)

	member := &domain.Member{
		ID:        memberID,
		Name:      name,
		Email:     fmt.Sprintf("%s@example.org", memberID),
		Role:      role,
		Standing:  standing,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.CreateMember(ctx, member); err != nil {
		log.Printf("  Failed to create member %s: %v", name, err)
		return ""
	}
	return memberID
}
