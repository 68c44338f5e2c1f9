package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/roundclient/go/internal/dbconfig"
	"github.com/mcdev12/roundclient/go/internal/models"
)

func main() {
	path := flag.String("file", "go/internal/assets/pairs.json", "pair catalog snapshot")
	update := flag.Bool("update", false, "overwrite symbol, name and category of existing pairs")
	flag.Parse()

	data, err := os.ReadFile(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read JSON: %v\n", err)
		os.Exit(1)
	}
	var pairs []models.Pair
	if err := json.Unmarshal(data, &pairs); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal JSON: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	query := `
        INSERT INTO trading_pairs (id, symbol, name, category)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (id) DO NOTHING
    `
	if *update {
		query = `
        INSERT INTO trading_pairs (id, symbol, name, category)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (id) DO UPDATE
          SET symbol = EXCLUDED.symbol, name = EXCLUDED.name, category = EXCLUDED.category
    `
	}

	var (
		total   = len(pairs)
		written int
		skipped int
		errs    int
	)
	for _, p := range pairs {
		if p.ID <= 0 || p.Symbol == "" {
			fmt.Fprintf(os.Stderr, "skipping invalid pair %+v\n", p)
			errs++
			continue
		}
		tag, err := pool.Exec(ctx, query, int64(p.ID), p.Symbol, p.Name, p.Category)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error inserting pair %s: %v\n", p.Symbol, err)
			errs++
			continue
		}
		if tag.RowsAffected() == 1 {
			written++
		} else {
			skipped++
		}
	}

	fmt.Printf(
		"Pairs seed complete: %d total, %d written, %d skipped, %d errors\n",
		total, written, skipped, errs,
	)
}
