package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	"eventvax.app/relay/common/logger"
	"eventvax.app/relay/core/config"
)

const (
	defaultGasLimit       = 300000
	defaultConfirmTimeout = 2 * time.Minute
	defaultReceiptPoll    = 2 * time.Second
)

// Backend is the subset of an Ethereum RPC client the POAP client needs.
// *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// POAPClient talks to the proof-of-attendance contract with the custodial
// relayer key. The key never leaves this type.
type POAPClient struct {
	backend    Backend
	contract   *bind.BoundContract
	transactor *bind.TransactOpts
	address    common.Address

	gasLimit       uint64
	confirmTimeout time.Duration
	receiptPoll    time.Duration
	limiter        *rate.Limiter
	logger         *slog.Logger
}

// Dial connects to the configured RPC endpoint and builds a POAPClient.
// It returns ErrSignerNotConfigured when no key is set.
func Dial(ctx context.Context, cfg config.ChainConfig, logger *slog.Logger) (*POAPClient, error) {
	if !cfg.Enabled() {
		return nil, ErrSignerNotConfigured
	}

	rpc, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dialing rpc %s: %w", cfg.RPCURL, err)
	}

	client, err := NewPOAPClient(rpc, cfg, logger)
	if err != nil {
		rpc.Close()
		return nil, err
	}
	return client, nil
}

// NewPOAPClient builds a client over an existing backend.
func NewPOAPClient(backend Backend, cfg config.ChainConfig, logger *slog.Logger) (*POAPClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Enabled() {
		return nil, ErrSignerNotConfigured
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("%w: %q", ErrContractNotSet, cfg.ContractAddress)
	}

	key, err := parsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}

	transactor, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(cfg.ChainID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSigner, err)
	}

	parsed, err := abi.JSON(strings.NewReader(poapABI))
	if err != nil {
		return nil, fmt.Errorf("parsing contract abi: %w", err)
	}

	c := &POAPClient{
		backend:        backend,
		contract:       bind.NewBoundContract(common.HexToAddress(cfg.ContractAddress), parsed, backend, backend, backend),
		transactor:     transactor,
		address:        transactor.From,
		gasLimit:       cfg.GasLimit,
		confirmTimeout: cfg.ConfirmTimeout,
		receiptPoll:    cfg.ReceiptPoll,
		logger:         logger,
	}
	if c.gasLimit == 0 {
		c.gasLimit = defaultGasLimit
	}
	if c.confirmTimeout <= 0 {
		c.confirmTimeout = defaultConfirmTimeout
	}
	if c.receiptPoll <= 0 {
		c.receiptPoll = defaultReceiptPoll
	}
	if cfg.RPCRateLimit > 0 {
		burst := cfg.RPCBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RPCRateLimit), burst)
	}

	return c, nil
}

func parsePrivateKey(raw string) (*ecdsa.PrivateKey, error) {
	hexKey := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSigner, err)
	}
	return key, nil
}

func (c *POAPClient) Address() string {
	return c.address.Hex()
}

// wait blocks until the RPC limiter admits one call.
func (c *POAPClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *POAPClient) IsClaimed(ctx context.Context, eventID int64, wallet string) (bool, error) {
	if err := c.wait(ctx); err != nil {
		return false, wrap(OpClaimCheck, err)
	}

	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, methodClaimed, big.NewInt(eventID), common.HexToAddress(wallet))
	if err != nil {
		return false, wrap(OpClaimCheck, err)
	}
	claimed, err := unpackBool(out)
	if err != nil {
		return false, wrap(OpClaimCheck, err)
	}
	return claimed, nil
}

func (c *POAPClient) AwardToken(ctx context.Context, eventID int64, wallet string, metadata [32]byte) (TxHandle, error) {
	if err := c.wait(ctx); err != nil {
		return "", wrap(OpAward, err)
	}

	opts := *c.transactor
	opts.Context = ctx
	opts.GasLimit = c.gasLimit

	tx, err := c.contract.Transact(&opts, methodAwardPOAP, big.NewInt(eventID), common.HexToAddress(wallet), metadata)
	if err != nil {
		return "", wrap(OpAward, err)
	}

	c.logger.InfoContext(ctx, "award transaction submitted",
		"tx_hash", tx.Hash().Hex(),
		"nonce", tx.Nonce(),
		"gas_limit", tx.Gas())

	return TxHandle(tx.Hash().Hex()), nil
}

func (c *POAPClient) AwaitConfirmation(ctx context.Context, handle TxHandle) error {
	hash := common.HexToHash(string(handle))

	waitCtx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(c.receiptPoll)
	defer ticker.Stop()

	for {
		if err := c.wait(waitCtx); err != nil {
			if ctx.Err() != nil {
				return wrap(OpConfirm, ctx.Err())
			}
			return wrap(OpConfirm, fmt.Errorf("%w after %s", ErrConfirmationTimeout, c.confirmTimeout))
		}

		receipt, err := c.backend.TransactionReceipt(waitCtx, hash)
		switch {
		case err == nil:
			if receipt.Status == types.ReceiptStatusSuccessful {
				c.logger.InfoContext(ctx, "award transaction confirmed",
					"tx_hash", handle.String(),
					"block", receipt.BlockNumber)
				return nil
			}
			return wrap(OpConfirm, fmt.Errorf("%w in block %v", ErrTxReverted, receipt.BlockNumber))
		case errors.Is(err, ethereum.NotFound):
			// still pending
		default:
			if waitCtx.Err() == nil {
				c.logger.WarnContext(ctx, "receipt lookup failed, retrying",
					"tx_hash", handle.String(),
					"error", logger.Truncate(err.Error(), 200))
			}
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return wrap(OpConfirm, ctx.Err())
			}
			return wrap(OpConfirm, fmt.Errorf("%w after %s", ErrConfirmationTimeout, c.confirmTimeout))
		case <-ticker.C:
		}
	}
}

func (c *POAPClient) HasIssuerRole(ctx context.Context) (bool, error) {
	if err := c.wait(ctx); err != nil {
		return false, wrap(OpRoleCheck, err)
	}

	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, methodHasRole, [32]byte(VerifierRole), c.address)
	if err != nil {
		return false, wrap(OpRoleCheck, err)
	}
	ok, err := unpackBool(out)
	if err != nil {
		return false, wrap(OpRoleCheck, err)
	}
	return ok, nil
}

// Close releases the underlying RPC connection when the backend owns one.
func (c *POAPClient) Close() {
	if closer, ok := c.backend.(interface{ Close() }); ok {
		closer.Close()
	}
}

func unpackBool(out []interface{}) (bool, error) {
	if len(out) != 1 {
		return false, fmt.Errorf("unexpected output length %d", len(out))
	}
	v, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected output type %T", out[0])
	}
	return v, nil
}
