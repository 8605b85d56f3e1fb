package escrowchain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"paygram/internal/apperr"
	"paygram/internal/contracts"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// EthClient submits transactions to the MessageEscrow program.
type EthClient struct {
	client         *ethclient.Client
	contract       *bind.BoundContract
	abi            abi.ABI
	address        common.Address
	chainID        *big.Int
	transacts      *bind.TransactOpts
	confirmTimeout time.Duration
}

type EthClientConfig struct {
	RPCURL         string
	PrivateKeyHex  string
	ProgramAddress string
	ConfirmTimeout time.Duration
}

func NewEthClient(ctx context.Context, cfg EthClientConfig) (*EthClient, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if cfg.ProgramAddress == "" {
		return nil, fmt.Errorf("escrow program address is required")
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	// Eth client call to remote.
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	parsedABI, err := abi.JSON(strings.NewReader(contracts.MessageEscrowABI))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}

	address := common.HexToAddress(cfg.ProgramAddress)
	bound := bind.NewBoundContract(address, parsedABI, cli, cli, cli)

	if cfg.PrivateKeyHex == "" {
		return nil, fmt.Errorf("private key is required for submitting payments")
	}

	pk, err := parsePrivateKey(cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}

	chainID, err := cli.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	txOpts, err := bind.NewKeyedTransactorWithChainID(pk, chainID)
	if err != nil {
		return nil, fmt.Errorf("transactor: %w", err)
	}
	txOpts.Context = ctx
	txOpts.NoSend = false
	txOpts.GasLimit = 0 // let node estimate
	txOpts.GasPrice = nil
	txOpts.Nonce = nil

	return &EthClient{
		client:         cli,
		contract:       bound,
		abi:            parsedABI,
		address:        address,
		chainID:        chainID,
		transacts:      txOpts,
		confirmTimeout: cfg.ConfirmTimeout,
	}, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

func (c *EthClient) CreateMessagePayment(ctx context.Context, req CreatePaymentRequest) (SubmitResponse, error) {
	if err := validateCreateRequest(req); err != nil {
		return SubmitResponse{}, err
	}
	messageWord := toBytes32(req.MessageID)
	return c.submit(ctx, "createMessagePayment",
		common.HexToAddress(req.EscrowAccount),
		common.HexToAddress(req.SenderAddress),
		common.HexToAddress(req.RecipientAddress),
		req.AmountWei,
		messageWord,
	)
}

func (c *EthClient) ApproveMessagePayment(ctx context.Context, req SettleRequest) (SubmitResponse, error) {
	return c.settle(ctx, "approveMessagePayment", req)
}

func (c *EthClient) RejectMessagePayment(ctx context.Context, req SettleRequest) (SubmitResponse, error) {
	return c.settle(ctx, "rejectMessagePayment", req)
}

func (c *EthClient) settle(ctx context.Context, method string, req SettleRequest) (SubmitResponse, error) {
	if err := validateSettleRequest(req); err != nil {
		return SubmitResponse{}, err
	}
	messageWord := toBytes32(req.MessageID)
	return c.submit(ctx, method,
		common.HexToAddress(req.EscrowAccount),
		common.HexToAddress(req.SenderAddress),
		common.HexToAddress(req.RecipientAddress),
		messageWord,
	)
}

func (c *EthClient) submit(ctx context.Context, method string, args ...interface{}) (SubmitResponse, error) {
	if c.transacts == nil {
		return SubmitResponse{}, fmt.Errorf("client is read-only")
	}

	opts := *c.transacts
	opts.Context = ctx

	tx, err := c.contract.Transact(&opts, method, args...)
	if err != nil {
		return SubmitResponse{}, classifySubmitError(method, err)
	}

	receipt, err := c.waitMined(ctx, tx)
	if err != nil {
		return SubmitResponse{}, apperr.Wrap(apperr.CodeRemoteCallFailed, "escrow transaction not confirmed", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return SubmitResponse{}, apperr.Wrap(apperr.CodeRemoteCallFailed, "escrow transaction reverted",
			fmt.Errorf("%s tx %s reverted", method, tx.Hash().Hex()))
	}

	return SubmitResponse{TxSignature: tx.Hash().Hex()}, nil
}

// BalanceOf reads the native-token balance of address at head.
func (c *EthClient) BalanceOf(ctx context.Context, address string) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid address %q", address)
	}
	bal, err := c.client.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeRemoteCallFailed, "balance lookup failed", err)
	}
	return bal, nil
}

func (c *EthClient) Ping(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("rpc client not configured")
	}
	_, err := c.client.BlockNumber(ctx)
	return err
}

// waitMined polls until the transaction is mined or the context (bounded
// by ConfirmTimeout when set) is done. A single submission is made; only
// the receipt lookup repeats.
func (c *EthClient) waitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if c.confirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.confirmTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := c.client.TransactionReceipt(ctx, tx.Hash())
		if receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func validateCreateRequest(req CreatePaymentRequest) error {
	if !common.IsHexAddress(req.EscrowAccount) {
		return fmt.Errorf("invalid escrow account")
	}
	if !common.IsHexAddress(req.SenderAddress) {
		return fmt.Errorf("invalid sender address")
	}
	if !common.IsHexAddress(req.RecipientAddress) {
		return fmt.Errorf("invalid recipient address")
	}
	if req.AmountWei == nil || req.AmountWei.Sign() <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	if req.MessageID == "" {
		return fmt.Errorf("message id required")
	}
	return nil
}

func validateSettleRequest(req SettleRequest) error {
	if !common.IsHexAddress(req.EscrowAccount) {
		return fmt.Errorf("invalid escrow account")
	}
	if !common.IsHexAddress(req.SenderAddress) {
		return fmt.Errorf("invalid sender address")
	}
	if !common.IsHexAddress(req.RecipientAddress) {
		return fmt.Errorf("invalid recipient address")
	}
	if req.MessageID == "" {
		return fmt.Errorf("message id required")
	}
	return nil
}

// classifySubmitError separates a signer refusing to sign from the node
// refusing the transaction. Signer refusals carry denial phrasing from
// clef-style backends; everything else is a remote failure.
func classifySubmitError(method string, err error) error {
	if isSigningRejection(err) {
		return apperr.Wrap(apperr.CodeUserRejected, "transaction was rejected in your wallet", err)
	}
	return apperr.Wrap(apperr.CodeRemoteCallFailed, method+" submission failed", err)
}

func isSigningRejection(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "request denied") {
		return true
	}
	if strings.Contains(msg, "user denied") {
		return true
	}
	return strings.Contains(msg, "rejected by signer")
}
