package orchestrator

import (
	"strings"

	"github.com/chainwhisperer/chainwhisperer/internal/explorer"
	"github.com/chainwhisperer/chainwhisperer/pkg/types"
)

// Risk score weights. The score is a fixed linear heuristic over explorer
// metadata, not a code analysis.
const (
	riskUnverified     = 30
	riskProxy          = 20
	riskNoOptimization = 10
	riskDangerousFn    = 40

	riskHighThreshold   = 50
	riskMediumThreshold = 25
)

// dangerousFunctions are substrings matched case-insensitively against ABI
// function names.
var dangerousFunctions = []string{"selfdestruct", "delegatecall", "suicide"}

// AssessRisk scores a contract from its explorer metadata.
func AssessRisk(data *explorer.VerifiedContract) types.RiskLevel {
	score := 0

	if !data.ActuallyVerified() {
		score += riskUnverified
	}
	if data.Proxy {
		score += riskProxy
	}
	if !data.OptimizationUsed {
		score += riskNoOptimization
	}
	if hasDangerousFunction(data.ABI) {
		score += riskDangerousFn
	}

	switch {
	case score >= riskHighThreshold:
		return types.RiskHigh
	case score >= riskMediumThreshold:
		return types.RiskMedium
	default:
		return types.RiskLow
	}
}

func hasDangerousFunction(abi []types.ABIEntry) bool {
	for _, entry := range abi {
		if entry.Type != "function" {
			continue
		}
		name := strings.ToLower(entry.Name)
		for _, dangerous := range dangerousFunctions {
			if strings.Contains(name, dangerous) {
				return true
			}
		}
	}
	return false
}
