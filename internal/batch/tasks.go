package batch

import (
	"math/rand/v2"
	"slices"

	"jobx-market/internal/config"
	"jobx-market/internal/model"
)

// BuildTasks expands the configuration into one task per (center, role) pair that has
// a payband at the center or its market. With rng set, region, market, center and
// role orderings are each shuffled.
func BuildTasks(cfg *config.Config, roleIDs []string, rng *rand.Rand) []model.Task {
	roles := make([]config.Role, 0, len(roleIDs))
	for _, id := range roleIDs {
		if r, ok := cfg.Role(id); ok {
			roles = append(roles, r)
		}
	}

	regions := slices.Clone(cfg.Regions)
	shuffle(rng, regions)

	var tasks []model.Task
	for _, region := range regions {
		markets := slices.Clone(region.Markets)
		shuffle(rng, markets)
		for _, market := range markets {
			centers := slices.Clone(market.Centers)
			shuffle(rng, centers)
			for _, center := range centers {
				ordered := slices.Clone(roles)
				shuffle(rng, ordered)
				for _, role := range ordered {
					if !hasPayband(market, center, role.ID) {
						continue
					}
					tasks = append(tasks, model.Task{
						RoleID:       role.ID,
						RoleName:     role.Name,
						LocationCode: center.Code,
						LocationName: center.Name,
						ZipCode:      center.SearchLocation(),
						MarketName:   market.Name,
						RegionName:   region.Name,
						SearchTerms:  slices.Clone(role.SearchTerms),
					})
				}
			}
		}
	}
	return tasks
}

func hasPayband(m config.Market, c config.Center, roleID string) bool {
	if _, ok := c.Payband(roleID); ok {
		return true
	}
	_, ok := m.Payband(roleID)
	return ok
}

func shuffle[T any](rng *rand.Rand, s []T) {
	if rng == nil {
		return
	}
	rng.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
}

// partition splits tasks into consecutive batches of at most size tasks.
func partition(tasks []model.Task, size int) [][]model.Task {
	size = max(size, 1)
	var out [][]model.Task
	for chunk := range slices.Chunk(tasks, size) {
		out = append(out, chunk)
	}
	return out
}
