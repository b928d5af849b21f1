package database

import (
	"context"

	"github.com/nao1215/onionscout/internal/model"
)

// SeedSource is the discovery source of built-in seed links.
const SeedSource = "seed_data"

type seedSite struct {
	url         string
	title       string
	description string
}

// seedSites are the directories and search engines every catalog starts with.
var seedSites = map[string][]seedSite{
	model.CategoryDirectory: {
		{"http://s4k4ceiapwwgcm3mkb6e4diqecpo7kvdnfr5gg7sph7jjppqkvwwqtyd.onion", "Hidden Wiki", "Directory of onion sites organized by category"},
		{"http://jaz45aabn5vkemy4jkg4mi4syheisqn2wn2n4fsuitpccdackjwxplad.onion", "Onion Links", "Community-maintained directory of onion links"},
		{"http://tortaxi7axzl5jnj2an3wh3zqmfumpkxgkfz7kl7rwgtrfrygozsqd.onion", "Tor Taxi", "Directory of verified onion sites"},
		{"http://torlinkv7cft5zhegrokjrxj2st4hcrymbw2iqbwenptfft4cxfgyjyd.onion", "TorLinks", "Directory of active onion sites"},
	},
	model.CategorySearchEngine: {
		{"http://juhanurmihxlp77nkq76byazcldy2hlmovfu2epvl5ankdibsot4csyd.onion", "Ahmia", "Search engine for Tor hidden services"},
		{"http://torchdeedp3i2jigzjdmfpn5ttjhthh5wbmda2rr3jvqjg5p77c54dqd.onion", "Torch", "Long-running Tor search engine"},
		{"http://srcdemonm74icqjvejew6fprssuolyoc2usjdwflevbdpqoetw4x3ead.onion", "Demon", "Search engine for the Tor network"},
		{"http://haystak5njsmn2hqkewecpaxetahtwhsbsa64jom2k22z5afxhnpxfid.onion", "Haystak", "Onion search engine"},
	},
}

// Seed inserts the built-in directory and search engine links through
// AddLink and returns how many were new. Seeding twice adds nothing.
func (ldb *LinkDB) Seed(ctx context.Context) (int, error) {
	added := 0
	for _, category := range []string{model.CategoryDirectory, model.CategorySearchEngine} {
		for _, site := range seedSites[category] {
			ok, err := ldb.AddLink(ctx, model.NewLink{
				URL:             site.url,
				Title:           site.title,
				Description:     site.description,
				Category:        category,
				DiscoverySource: SeedSource,
				Tags:            []string{"seed", category},
				Metadata: map[string]any{
					"seed_version": "1.0",
					"verified":     true,
				},
			})
			if err != nil {
				return added, err
			}
			if ok {
				added++
			}
		}
	}
	ldb.logger.Info("seeded catalog", "added", added)
	return added, nil
}

// SeedCount returns the number of built-in seed links.
func SeedCount() int {
	n := 0
	for _, sites := range seedSites {
		n += len(sites)
	}
	return n
}
