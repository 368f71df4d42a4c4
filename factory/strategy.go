package factory

import (
	"fmt"
	"sort"
	"strings"

	"github.com/warp/bin-ledger/inventory"
)

// destinationStrategies maps configuration names to putaway strategies.
var destinationStrategies = map[string]inventory.DestinationStrategy{
	"any":         inventory.AnyOpenBin,
	"consolidate": inventory.ConsolidateBin,
	"hash":        inventory.HashBin,
}

// DestinationStrategy returns the putaway strategy registered under name.
// An empty name selects "consolidate".
func DestinationStrategy(name string) (inventory.DestinationStrategy, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = "consolidate"
	}
	s, ok := destinationStrategies[key]
	if !ok {
		return nil, fmt.Errorf("%w: unknown putaway strategy %q (known: %s)",
			inventory.ErrInvalidArgument, name, strings.Join(DestinationStrategyNames(), ", "))
	}
	return s, nil
}

// DestinationStrategyNames lists the registered putaway strategy names.
func DestinationStrategyNames() []string {
	names := make([]string, 0, len(destinationStrategies))
	for n := range destinationStrategies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// AllocationStrategy parses the allocation strategy name (fefo, fifo).
func AllocationStrategy(name string) (inventory.Strategy, error) {
	return inventory.ParseStrategy(name)
}
