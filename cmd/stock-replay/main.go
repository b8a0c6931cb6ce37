// Stock ledger drift detector. Replays the movement ledger per product and
// compares the reconstructed quantity with the product row's current stock.
// Read-only unless --fix is set, in which case drifted product rows are
// rewritten to the replayed value.
//
// Usage:
//
//	stock-replay --org-id <org> [--product-id N] [--fix]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/fatoora-app/intake_backend/config"
	"github.com/fatoora-app/intake_backend/models"
	"github.com/fatoora-app/intake_backend/utils"
)

func main() {
	orgID := flag.String("org-id", "", "Required: org id")
	productID := flag.Int("product-id", 0, "Optional: limit to one product id")
	fix := flag.Bool("fix", false, "Rewrite drifted product rows to the replayed value")
	flag.Parse()

	if strings.TrimSpace(*orgID) == "" {
		fmt.Fprintln(os.Stderr, "--org-id is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	var products []*models.Product
	var err error
	if *productID > 0 {
		product, ferr := utils.FetchModel[models.Product](context.Background(), *orgID, *productID)
		if ferr != nil {
			fmt.Fprintf(os.Stderr, "loading product %d: %v\n", *productID, ferr)
			os.Exit(1)
		}
		products = []*models.Product{product}
	} else {
		products, err = utils.FetchAllModels[models.Product](context.Background(), *orgID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "loading products: %v\n", err)
			os.Exit(1)
		}
		sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	}

	drifted := 0
	for _, product := range products {
		if product.HasUnlimitedStock() {
			continue
		}
		replayed, err := models.ReplayProductStock(context.Background(), db, *orgID, product.ID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "product %d: replay failed: %v\n", product.ID, err)
			os.Exit(1)
		}
		if replayed.Equal(product.CurrentStock) {
			continue
		}
		drifted++
		fmt.Printf("product %d (%s): stored=%s replayed=%s\n",
			product.ID, product.Name, product.CurrentStock.String(), replayed.String())
		if *fix {
			err := db.Model(product).Update("CurrentStock", replayed).Error
			if err != nil {
				fmt.Fprintf(os.Stderr, "product %d: fix failed: %v\n", product.ID, err)
				os.Exit(1)
			}
			fmt.Printf("product %d: fixed\n", product.ID)
		}
	}

	if drifted == 0 {
		fmt.Printf("checked %d products: ledger and stock in sync\n", len(products))
		return
	}
	if !*fix {
		fmt.Printf("%d drifted products found (re-run with --fix to repair)\n", drifted)
		os.Exit(2)
	}
	fmt.Printf("%d drifted products repaired\n", drifted)
}
