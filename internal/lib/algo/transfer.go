package algo

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/algorand/go-algorand-sdk/v2/client/v2/algod"
	"github.com/algorand/go-algorand-sdk/v2/client/v2/common/models"
	"github.com/algorand/go-algorand-sdk/v2/transaction"
	"github.com/algorand/go-algorand-sdk/v2/types"
)

// XferClient issues ASA transfers out of the distribution treasury account.
// It satisfies the ledger's AssetTransfer collaborator - an error return
// means the transfer is NOT on chain and the ledger aborts the operation.
type XferClient struct {
	logger     *slog.Logger
	algoClient *algod.Client
	signer     MultipleWalletSigner
	treasury   types.Address
}

func NewXferClient(logger *slog.Logger, algoClient *algod.Client, signer MultipleWalletSigner, treasury types.Address) *XferClient {
	if !signer.HasAccount(treasury.String()) {
		// read-only commands still work - actual transfers will fail at signing time
		logger.Warn("no signing keys present for treasury account", "treasury", treasury.String())
	}
	return &XferClient{
		logger:     logger,
		algoClient: algoClient,
		signer:     signer,
		treasury:   treasury,
	}
}

func (x *XferClient) Transfer(ctx context.Context, assetID uint64, to types.Address, amount uint64) error {
	params := SuggestedParams(ctx, x.logger, x.algoClient)

	txn, err := transaction.MakeAssetTransferTxn(x.treasury.String(), to.String(), amount, nil, params, "", assetID)
	if err != nil {
		return fmt.Errorf("failed to make asset transfer txn: %w", err)
	}
	_, signedBytes, err := x.signer.SignWithAccount(ctx, txn, x.treasury.String())
	if err != nil {
		return fmt.Errorf("error signing transfer from treasury:%s, error: %w", x.treasury, err)
	}
	confirmed, err := sendAndWaitTxns(ctx, x.logger, x.algoClient, signedBytes)
	if err != nil {
		return err
	}
	x.logger.Info("asset transfer confirmed", "asset", assetID, "to", to.String(), "amount", amount, "round", confirmed.ConfirmedRound)
	return nil
}

// TreasuryBalance returns the treasury's current holding of the given asset.
func (x *XferClient) TreasuryBalance(ctx context.Context, assetID uint64) (uint64, error) {
	holding, found, err := GetAssetHolding(ctx, x.algoClient, x.treasury.String(), assetID)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("treasury account %s is not opted in to asset %d", x.treasury, assetID)
	}
	return holding.Amount, nil
}

func sendAndWaitTxns(ctx context.Context, log *slog.Logger, algoClient *algod.Client, txnBytes []byte) (models.PendingTransactionInfoResponse, error) {
	txid, err := algoClient.SendRawTransaction(txnBytes).Do(ctx)
	if err != nil {
		return models.PendingTransactionInfoResponse{}, fmt.Errorf("sendAndWaitTxns failed to send txns: %w", err)
	}
	log.Info("sendAndWaitTxns", "txid", txid)
	resp, err := transaction.WaitForConfirmation(algoClient, txid, DefaultValidRoundRange, ctx)
	if err != nil {
		return models.PendingTransactionInfoResponse{}, fmt.Errorf("sendAndWaitTxns failure in confirmation wait: %w", err)
	}
	log.Info("sendAndWaitTxns", "confirmed-round", resp.ConfirmedRound)
	return resp, nil
}
