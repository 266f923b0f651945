package common

const (
	ComponentFollower      = "follower"
	ComponentEntityStore   = "entity-store"
	ComponentKVStore       = "kv-store"
	ComponentChainProvider = "chain-provider"
	ComponentMaintenance   = "maintenance"
	ComponentAPI           = "api"
	ComponentMetrics       = "metrics"
)

var AllComponents = map[string]struct{}{
	ComponentFollower:      {},
	ComponentEntityStore:   {},
	ComponentKVStore:       {},
	ComponentChainProvider: {},
	ComponentMaintenance:   {},
	ComponentAPI:           {},
	ComponentMetrics:       {},
}
