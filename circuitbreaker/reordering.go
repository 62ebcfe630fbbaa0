package circuitbreaker

import (
	"sort"

	"github.com/sirupsen/logrus"
)

// endpointScore represents an endpoint with its performance metrics
type endpointScore struct {
	url         string
	successRate float64
	isHealthy   bool
}

// RankBySuccess returns the endpoints ordered for a failover attempt: healthy
// endpoints first, then by success rate, highest first. Ties keep the
// configured order. The input slice is not modified.
func (hm *HealthManager) RankBySuccess(endpoints []string) []string {
	scores := make([]endpointScore, len(endpoints))
	for i, endpoint := range endpoints {
		scores[i] = endpointScore{
			url:         endpoint,
			successRate: hm.CalculateSuccessRate(endpoint),
			isHealthy:   hm.IsHealthy(endpoint),
		}
	}

	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].isHealthy != scores[j].isHealthy {
			return scores[i].isHealthy
		}
		return scores[i].successRate > scores[j].successRate
	})

	ranked := make([]string, len(scores))
	changed := false
	for i, score := range scores {
		ranked[i] = score.url
		if endpoints[i] != score.url {
			changed = true
		}
	}

	if changed {
		logrus.WithField("component", component).Debugf("🔄 Reordered endpoints by success rate: %v", ranked)
	}
	return ranked
}
