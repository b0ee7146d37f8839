// ABOUTME: Seed command populating the local sqlite backend with demo marketplace data
// ABOUTME: Creates profiles, products, a history of messages, and prints a token per user

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/2389/resale-inbox/internal/auth"
	"github.com/2389/resale-inbox/internal/config"
	"github.com/2389/resale-inbox/internal/inbox"
	"github.com/2389/resale-inbox/internal/logging"
	"github.com/2389/resale-inbox/internal/store"
)

// demoSecret signs seed tokens when no jwt_secret is configured. Sessions
// without a configured secret are parsed unverified, so these still work.
const demoSecret = "resale-inbox-demo"

type seedMessage struct {
	from, to string
	product  string
	text     string
	ago      time.Duration
}

func runSeed(ctx context.Context) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Backend.Driver != config.BackendSQLite {
		return fmt.Errorf("seed only works with the %s backend (config: %s)", config.BackendSQLite, path)
	}
	slog.SetDefault(logging.New(cfg.Logging, os.Stderr))

	st, err := store.NewSQLiteStore(cfg.Backend.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	profiles := []store.Profile{
		{ID: "u-vera", Username: "vintage_vera"},
		{ID: "u-sam", Username: "sneaker_sam"},
		{ID: "u-kit", Username: "kit_collects"},
	}
	for _, p := range profiles {
		if err := st.UpsertProfile(ctx, p); err != nil {
			return err
		}
	}

	price := 45.0
	products := []store.Product{
		{ID: "p-jacket", SellerID: "u-vera", Title: "90s denim jacket", Price: &price,
			Images: []string{"https://images.example.com/jacket.jpg"}},
		{ID: "p-dunks", SellerID: "u-sam", Title: "Dunk Low, size 10"},
	}
	for _, p := range products {
		if err := st.UpsertProduct(ctx, p); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	history := []seedMessage{
		{"u-kit", "u-vera", "p-jacket", "Hi! Is the jacket still available?", 3 * time.Hour},
		{"u-vera", "u-kit", "p-jacket", "It is, fits like a medium.", 170 * time.Minute},
		{"u-kit", "u-vera", "p-jacket", "Would you take 35?", 160 * time.Minute},
		{"u-vera", "u-kit", "p-jacket", "I can do 40 with shipping.", 2 * time.Hour},
		{"u-sam", "u-kit", "", "Saw your wishlist, I have the Jordans too", 50 * time.Minute},
		{"u-kit", "u-sam", "p-dunks", "Are the dunks deadstock?", 20 * time.Minute},
	}
	for i, m := range history {
		receiver := m.to
		row := inbox.MessageRow{
			ID:         fmt.Sprintf("seed-%02d", i),
			SenderID:   m.from,
			ReceiverID: &receiver,
			Content:    m.text,
			CreatedAt:  now.Add(-m.ago),
		}
		if m.product != "" {
			product := m.product
			row.ProductID = &product
		}
		if err := st.InsertMessage(ctx, row); err != nil && !isDuplicate(err) {
			return err
		}
	}

	jacket := "p-jacket"
	if err := st.TagConversation(ctx, "u-kit", "u-vera", &jacket, nil, true); err != nil {
		return err
	}

	secret := []byte(cfg.Auth.JWTSecret)
	if len(secret) == 0 {
		secret = []byte(demoSecret)
	}

	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)
	green.Print("    ▶ ")
	fmt.Printf("Seeded %s\n\n", cfg.Backend.DatabasePath)
	for _, p := range profiles {
		token, err := auth.IssueToken(secret, p.ID, 30*24*time.Hour)
		if err != nil {
			return err
		}
		green.Print("    ▶ ")
		fmt.Printf("%-14s", p.Username)
		gray.Printf("INBOX_TOKEN=%s\n", token)
	}
	return nil
}

// isDuplicate reports a primary key clash from re-running the seed.
func isDuplicate(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
