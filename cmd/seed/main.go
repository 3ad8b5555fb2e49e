package main

import (
	"context"
	"flag"
	"log"
	"time"

	"clinref-chat/internal/config"
	pg "clinref-chat/internal/infra/db/postgres"
)

// seed applies the reference schema and optionally inserts test identities
// for local development.
func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	withIdentities := flag.Bool("identities", false, "insert development identities")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pg.NewPool(ctx, cfg.Database.URL, 2)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	if err := pg.ApplySchema(ctx, pool); err != nil {
		log.Fatalf("apply schema: %v", err)
	}
	log.Println("schema applied")

	if !*withIdentities {
		return
	}

	const q = `
INSERT INTO identities (id, email, role, sub_active, sub_renews_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
  email = EXCLUDED.email,
  role = EXCLUDED.role,
  sub_active = EXCLUDED.sub_active,
  sub_renews_at = EXCLUDED.sub_renews_at`

	seedRows := []struct {
		id, email, role string
		subActive       bool
	}{
		{"dev-guestless", "member@example.test", "member", false},
		{"dev-subscriber", "subscriber@example.test", "member", true},
		{"dev-physician", "doc@example.test", "physician-verified", false},
		{"dev-admin", "admin@example.test", "admin", false},
	}
	for _, row := range seedRows {
		var renews interface{}
		if row.subActive {
			renews = time.Now().AddDate(0, 1, 0)
		}
		if _, err := pool.Exec(ctx, q, row.id, row.email, row.role, row.subActive, renews); err != nil {
			log.Fatalf("seed identity %s: %v", row.id, err)
		}
		log.Printf("seeded identity %s (%s)", row.id, row.role)
	}
}
