package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/sarna320/scalp/internal/domain"
	"github.com/sarna320/scalp/internal/infrastructure/storage"
)

func main() {
	dbPath := flag.String("db", "data/positions.db", "path to the ledger database")
	flag.Parse()

	ledger, err := storage.NewSQLiteLedger(*dbPath)
	if err != nil {
		fmt.Printf("Failed to open ledger: %v\n", err)
		os.Exit(1)
	}
	defer ledger.Close()

	ctx := context.Background()
	positions, err := ledger.ListPositions(ctx)
	if err != nil {
		fmt.Printf("Failed to list positions: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Found %d positions:\n", len(positions))
	for _, p := range positions {
		fmt.Printf("- netuid %d: alpha=%s tao_spent=%s fee=%s realized_profit=%s avg_entry=%s txs=%d\n",
			p.NetUID,
			domain.RaoToTao(p.TotalAlphaRao),
			domain.RaoToTao(p.TotalTaoSpentRao),
			domain.RaoToTao(p.TotalFeePaidRao),
			domain.RaoToTao(p.RealizedProfitRao),
			p.AvgEntryPrice().StringFixed(9),
			p.NumTransactions)

		txs, err := ledger.ListTransactions(ctx, p.NetUID)
		if err != nil {
			fmt.Printf("  Failed to list transactions: %v\n", err)
			continue
		}
		for _, t := range txs {
			fmt.Printf("  %s block=%d tao=%s alpha=%s price=%s %s\n",
				t.Kind, t.BlockNumber,
				domain.RaoToTao(t.TaoAmountRao),
				domain.RaoToTao(t.AlphaAmountRao),
				t.Price.StringFixed(9),
				t.ExtrinsicHash)
		}
	}
}
