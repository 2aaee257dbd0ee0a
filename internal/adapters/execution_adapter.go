package adapters

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/Marketen/validator-watcher/internal/application/ports"
)

// executionClient implements ports.ExecutionAdapter on an execution node JSON-RPC endpoint.
type executionClient struct {
	client *ethclient.Client
}

// NewExecutionAdapter dials the execution node.
func NewExecutionAdapter(ctx context.Context, endpoint string) (ports.ExecutionAdapter, error) {
	client, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("execution client for %s: %w", endpoint, err)
	}
	return &executionClient{client: client}, nil
}

func (e *executionClient) LastTransactionRecipient(ctx context.Context, blockHash string) (string, bool, error) {
	block, err := e.client.BlockByHash(ctx, common.HexToHash(blockHash))
	if err != nil {
		return "", false, fmt.Errorf("execution block %s: %w", blockHash, err)
	}
	txs := block.Transactions()
	if len(txs) == 0 {
		return "", false, nil
	}
	to := txs[len(txs)-1].To()
	if to == nil {
		return "", false, nil
	}
	return strings.ToLower(to.Hex()), true, nil
}
