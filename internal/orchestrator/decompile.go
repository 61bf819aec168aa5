package orchestrator

import (
	"context"
	"log/slog"

	"github.com/chainwhisperer/chainwhisperer/pkg/types"
)

// DecompilerClient runs the async submit/poll/fetch decompilation cycle.
type DecompilerClient interface {
	Decompile(ctx context.Context, bytecode string) (string, error)
}

// OneShotDecompiler is the synchronous fallback decompiler.
type OneShotDecompiler interface {
	DecompileAddress(ctx context.Context, address, rpcURL string) (string, error)
}

// SetDecompilers attaches the decompilation backends. Either may be nil.
func (o *Orchestrator) SetDecompilers(primary DecompilerClient, fallback OneShotDecompiler) {
	o.decompiler = primary
	o.oneShotDecompiler = fallback
}

// DecompileContract fetches a detected contract's deployed bytecode and
// decompiles it. The async backend is tried first; the one-shot service
// (which pulls the code itself over RPC) covers for it on failure.
func (o *Orchestrator) DecompileContract(ctx context.Context, req types.DecompileRequest) *types.DecompileResponse {
	contract := o.lookupContract(req.Address)
	if contract == nil {
		return &types.DecompileResponse{Error: "No contract found"}
	}

	def := o.chains.Get(contract.Chain)
	if def == nil {
		return &types.DecompileResponse{Error: "unknown chain: " + string(contract.Chain)}
	}

	if o.decompiler != nil {
		if exp := o.explorerFor(contract.Chain); exp != nil {
			source, err := o.decompileViaBytecode(ctx, exp, contract.Address)
			if err == nil {
				if o.metrics != nil {
					o.metrics.RecordDecompileJob("completed")
				}
				return &types.DecompileResponse{Success: true, Source: source}
			}
			o.logger.Warn("async decompilation failed, trying one-shot service",
				slog.String("address", contract.Address),
				slog.String("error", err.Error()))
			if o.metrics != nil {
				o.metrics.RecordDecompileJob("failed")
			}
		}
	}

	if o.oneShotDecompiler == nil {
		return &types.DecompileResponse{Error: "no decompiler backend available"}
	}
	source, err := o.oneShotDecompiler.DecompileAddress(ctx, contract.Address, def.RPCURL)
	if err != nil {
		if o.metrics != nil {
			o.metrics.RecordDecompileJob("failed")
		}
		return &types.DecompileResponse{Error: err.Error()}
	}
	if o.metrics != nil {
		o.metrics.RecordDecompileJob("completed")
	}
	return &types.DecompileResponse{Success: true, Source: source}
}

func (o *Orchestrator) decompileViaBytecode(ctx context.Context, exp ExplorerClient, address string) (string, error) {
	bytecode, err := exp.GetBytecode(ctx, address)
	if err != nil {
		return "", err
	}
	return o.decompiler.Decompile(ctx, bytecode)
}
