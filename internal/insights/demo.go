package insights

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
	"time"

	"github.com/dropDatabas3/pulsebroker/internal/domain/repository"
)

const demoItemCount = 6

// demoResult builds a deterministic, schema-valid result without touching
// the network. Magnitudes are pseudo-random but seeded from the account id,
// so repeated requests for the same account return identical numbers.
func demoResult(acc *repository.IntegrationAccount, now time.Time) *Result {
	rng := rand.New(rand.NewSource(seed(acc.ID)))
	t := tables[acc.Platform]

	// Map iteration order is random; draw values in sorted name order so
	// the same seed always yields the same numbers.
	accountNames := sortedCanonical(t.account)
	itemNames := sortedCanonical(t.item)

	metrics := make(map[string]float64, len(accountNames))
	for _, canonical := range accountNames {
		metrics[canonical] = float64(rng.Intn(90_000) + 1_000)
	}

	followers := float64(rng.Intn(450_000) + 5_000)
	itemTotal := float64(demoItemCount)

	items := make([]Item, 0, demoItemCount)
	for i := 0; i < demoItemCount; i++ {
		im := make(map[string]float64, len(itemNames))
		for _, canonical := range itemNames {
			im[canonical] = float64(rng.Intn(9_000) + 100)
		}
		items = append(items, Item{
			ID:        fmt.Sprintf("demo-%s-%d", acc.Platform, i+1),
			Title:     fmt.Sprintf("Sample post #%d", i+1),
			Timestamp: now.Add(-time.Duration(i+1) * 24 * time.Hour).Truncate(time.Hour).UTC(),
			Metrics:   im,
		})
	}

	return &Result{
		AccountID: acc.ID,
		Platform:  acc.Platform,
		Demo:      true,
		Profile: Profile{
			Identifier:  acc.IdentityKey,
			DisplayName: acc.DisplayName(),
			Followers:   &followers,
			ItemCount:   &itemTotal,
		},
		Metrics:         metrics,
		MetricsPresence: presence(acc.Platform, metrics),
		Items:           items,
		FetchedAt:       now.UTC(),
	}
}

func seed(id string) int64 {
	h := fnv.New64a()
	h.Write([]byte(id))
	return int64(h.Sum64())
}

func sortedCanonical(table map[string]string) []string {
	seen := make(map[string]bool, len(table))
	names := make([]string, 0, len(table))
	for _, canonical := range table {
		if !seen[canonical] {
			seen[canonical] = true
			names = append(names, canonical)
		}
	}
	sort.Strings(names)
	return names
}
