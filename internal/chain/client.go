package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Signer signs transactions for the operator account.
type Signer interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// ClientConfig tunes transaction submission.
type ClientConfig struct {
	RPCURL string
	// GasLimit is used as-is when set; otherwise gas is estimated and
	// padded by GasPaddingPct.
	GasLimit       uint64
	GasPaddingPct  uint64
	ReceiptPoll    time.Duration
	ReceiptTimeout time.Duration
}

// Client is a Backend over a JSON-RPC endpoint. Sends are serialized so
// nonces are never reused.
type Client struct {
	eth     *ethclient.Client
	signer  Signer
	chainID *big.Int
	cfg     ClientConfig
	logger  *slog.Logger

	sendMu sync.Mutex
}

// Dial connects to cfg.RPCURL and reads the chain id.
func Dial(ctx context.Context, cfg ClientConfig, signer Signer, logger *slog.Logger) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, errors.New("chain: rpc url is required")
	}
	if signer == nil {
		return nil, errors.New("chain: signer is required")
	}
	if cfg.ReceiptPoll <= 0 {
		cfg.ReceiptPoll = 2 * time.Second
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 2 * time.Minute
	}

	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial: %w", err)
	}
	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("chain: chain id: %w", err)
	}

	return &Client{
		eth:     eth,
		signer:  signer,
		chainID: chainID,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "chain")),
	}, nil
}

// Close releases the RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// ChainID returns the connected chain id.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

func (c *Client) From() common.Address {
	return c.signer.Address()
}

func (c *Client) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{
		From: c.signer.Address(),
		To:   &to,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call %s: %w", to.Hex(), err)
	}
	return out, nil
}

func (c *Client) Send(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	signed, err := c.submit(ctx, to, data)
	if err != nil {
		return common.Hash{}, err
	}
	hash := signed.Hash()
	c.logger.InfoContext(ctx, "transaction sent",
		slog.String("to", to.Hex()),
		slog.String("tx", hash.Hex()),
		slog.Uint64("nonce", signed.Nonce()),
	)

	receipt, err := c.waitMined(ctx, hash)
	if err != nil {
		return hash, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return hash, fmt.Errorf("%w: %s", ErrReverted, hash.Hex())
	}
	return hash, nil
}

func (c *Client) submit(ctx context.Context, to common.Address, data []byte) (*types.Transaction, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	from := c.signer.Address()
	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("chain: pending nonce: %w", err)
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: gas price: %w", err)
	}
	gas := c.cfg.GasLimit
	if gas == 0 {
		est, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
		if err != nil {
			return nil, fmt.Errorf("chain: estimate gas: %w", err)
		}
		gas = est + est*c.cfg.GasPaddingPct/100
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Value:    big.NewInt(0),
		Data:     data,
	})
	signed, err := c.signer.SignTx(tx, c.chainID)
	if err != nil {
		return nil, err
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("chain: send tx: %w", err)
	}
	return signed, nil
}

func (c *Client) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.ReceiptPoll)
	defer ticker.Stop()
	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			c.logger.WarnContext(ctx, "receipt lookup failed",
				slog.String("tx", hash.Hex()),
				slog.String("error", err.Error()),
			)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("chain: waiting for %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}
