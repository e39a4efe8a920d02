package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
)

// generateSampleCoupons creates a sample coupon file in the bulk ingestion
// format: a JSON object mapping denomination to a list of 20-digit coupon
// ids. Useful for local testing of the loader and the allocation flow.
func main() {
	dataDir := "data/coupons"

	// Create directory if it doesn't exist
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		log.Fatalf("Failed to create directory: %v", err)
	}

	rng := rand.New(rand.NewSource(42))

	counts := map[string]int{
		"5":   20,
		"10":  15,
		"15":  10,
		"20":  10,
		"50":  5,
		"0.5": 8,
		"2.5": 8,
	}

	coupons := make(map[string][]string, len(counts))
	seen := make(map[string]struct{})
	for denomination, n := range counts {
		ids := make([]string, 0, n)
		for len(ids) < n {
			id := randomCouponID(rng)
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		coupons[denomination] = ids
	}

	path := filepath.Join(dataDir, "sample_coupons.json")
	file, err := os.Create(path)
	if err != nil {
		log.Fatalf("Failed to create %s: %v", path, err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(coupons); err != nil {
		log.Fatalf("Failed to write %s: %v", path, err)
	}

	total := 0
	for _, ids := range coupons {
		total += len(ids)
	}
	fmt.Printf("Wrote %d coupons across %d denominations to %s\n", total, len(coupons), path)
}

// randomCouponID returns a random 20-digit numeric id.
func randomCouponID(rng *rand.Rand) string {
	id := make([]byte, 0, 20)
	for range 20 {
		id = strconv.AppendInt(id, rng.Int63n(10), 10)
	}
	return string(id)
}
