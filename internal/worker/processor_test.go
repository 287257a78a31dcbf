package worker_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"eventvax.app/relay/common/logger"
	"eventvax.app/relay/core/config"
	"eventvax.app/relay/internal/chain"
	"eventvax.app/relay/internal/model"
	"eventvax.app/relay/internal/worker"
)

const wallet = "0x00000000000000000000000000000000000000a1"

var _ = Describe("Processor", func() {
	var (
		ctx       context.Context
		requests  *memStore
		ledger    *mockChain
		publisher *mockPublisher
		processor *worker.Processor
	)

	BeforeEach(func() {
		ctx = context.Background()
		requests = newMemStore()
		ledger = &mockChain{}
		publisher = &mockPublisher{}
		processor = worker.NewProcessor(worker.ProcessorConfig{
			Chain:      ledger,
			Requests:   requests,
			Publisher:  publisher,
			Hasher:     chain.NewMetadataHasher(config.MetadataModeDeterministic, nil),
			MaxRetries: 3,
		})
	})

	Describe("Process", func() {
		It("awards, waits for confirmation and marks the request issued", func() {
			req := requests.seed(1, wallet)

			Expect(processor.Process(ctx, req)).To(Succeed())

			got := requests.get(req.ID)
			Expect(got.Status).To(Equal(model.IssuanceStatusIssued))
			Expect(got.TxHash).To(HaveValue(Equal("0xfeed")))
			Expect(got.RetryCount).To(BeZero())
			Expect(ledger.awaited).To(ConsistOf(chain.TxHandle("0xfeed")))
			Expect(publisher.published()).To(Equal([]model.IssuanceStatus{
				model.IssuanceStatusProcessing,
				model.IssuanceStatusIssued,
			}))
		})

		It("passes the configured metadata hash to the award", func() {
			var metadata [32]byte
			ledger.awardFn = func(_ context.Context, _ int64, _ string, m [32]byte) (chain.TxHandle, error) {
				metadata = m
				return "0xfeed", nil
			}
			req := requests.seed(7, wallet)

			Expect(processor.Process(ctx, req)).To(Succeed())

			expected := chain.NewMetadataHasher(config.MetadataModeDeterministic, nil)(7, wallet)
			Expect(metadata).To(Equal(expected))
		})

		It("marks a pre-claimed pair issued without submitting an award", func() {
			ledger.isClaimedFn = func(_ context.Context, _ int64, _ string) (bool, error) {
				return true, nil
			}
			req := requests.seed(2, wallet)

			Expect(processor.Process(ctx, req)).To(Succeed())

			got := requests.get(req.ID)
			Expect(got.Status).To(Equal(model.IssuanceStatusIssued))
			Expect(got.TxHash).To(BeNil())
			Expect(ledger.awards()).To(BeZero())
		})

		It("consumes a retry when the claim check fails", func() {
			ledger.isClaimedFn = func(_ context.Context, _ int64, _ string) (bool, error) {
				return false, &chain.Error{Op: chain.OpClaimCheck, Err: errors.New("rpc unavailable")}
			}
			req := requests.seed(3, wallet)

			Expect(processor.Process(ctx, req)).To(Succeed())

			got := requests.get(req.ID)
			Expect(got.Status).To(Equal(model.IssuanceStatusPending))
			Expect(got.RetryCount).To(Equal(int32(1)))
			Expect(got.LastError).To(HaveValue(ContainSubstring("rpc unavailable")))
			Expect(ledger.awards()).To(BeZero())
		})

		It("keeps the transaction hash when the award reverts", func() {
			ledger.awaitFn = func(_ context.Context, _ chain.TxHandle) error {
				return &chain.Error{Op: chain.OpConfirm, Err: chain.ErrTxReverted}
			}
			req := requests.seed(4, wallet)

			Expect(processor.Process(ctx, req)).To(Succeed())

			got := requests.get(req.ID)
			Expect(got.Status).To(Equal(model.IssuanceStatusPending))
			Expect(got.RetryCount).To(Equal(int32(1)))
			Expect(got.TxHash).To(HaveValue(Equal("0xfeed")))
			Expect(got.LastError).To(HaveValue(ContainSubstring("transaction reverted")))
		})

		It("fails the request permanently on the last allowed attempt", func() {
			ledger.awardFn = func(_ context.Context, _ int64, _ string, _ [32]byte) (chain.TxHandle, error) {
				return "", &chain.Error{Op: chain.OpAward, Err: errors.New("insufficient funds")}
			}
			req := requests.seed(5, wallet, func(r *model.IssuanceRequest) { r.RetryCount = 2 })

			Expect(processor.Process(ctx, req)).To(Succeed())

			got := requests.get(req.ID)
			Expect(got.Status).To(Equal(model.IssuanceStatusFailed))
			Expect(got.RetryCount).To(Equal(int32(3)))
			Expect(publisher.published()).To(Equal([]model.IssuanceStatus{model.IssuanceStatusFailed}))
		})

		It("leaves the request in processing when shut down mid-confirmation", func() {
			ctx, cancel := context.WithCancel(ctx)
			ledger.awaitFn = func(c context.Context, _ chain.TxHandle) error {
				cancel()
				return &chain.Error{Op: chain.OpConfirm, Err: c.Err()}
			}
			req := requests.seed(6, wallet)

			err := processor.Process(ctx, req)
			Expect(err).To(MatchError(context.Canceled))

			got := requests.get(req.ID)
			Expect(got.Status).To(Equal(model.IssuanceStatusProcessing))
			Expect(got.TxHash).To(HaveValue(Equal("0xfeed")))
			Expect(got.RetryCount).To(BeZero())
		})

		It("keeps the retry count and last error when a retried request is issued", func() {
			attempts := 0
			ledger.awaitFn = func(_ context.Context, _ chain.TxHandle) error {
				attempts++
				if attempts == 1 {
					return &chain.Error{Op: chain.OpConfirm, Err: chain.ErrConfirmationTimeout}
				}
				return nil
			}
			req := requests.seed(8, wallet)

			Expect(processor.Process(ctx, req)).To(Succeed())
			retried := requests.get(req.ID)
			Expect(retried.Status).To(Equal(model.IssuanceStatusPending))
			Expect(retried.RetryCount).To(Equal(int32(1)))

			Expect(processor.Process(ctx, &retried)).To(Succeed())

			got := requests.get(req.ID)
			Expect(got.Status).To(Equal(model.IssuanceStatusIssued))
			Expect(got.RetryCount).To(Equal(int32(1)))
			Expect(got.TxHash).To(HaveValue(Equal("0xfeed")))
			Expect(got.LastError).To(HaveValue(ContainSubstring("confirmation")))
			Expect(requests.appliedOutcomes()).To(HaveLen(4))
			Expect(requests.appliedOutcomes()[3].RetryCount).To(Equal(int32(1)))
		})

		It("tags confirmation logs with the submitted transaction", func() {
			var buf bytes.Buffer
			processor = worker.NewProcessor(worker.ProcessorConfig{
				Chain:      ledger,
				Requests:   requests,
				MaxRetries: 3,
				Logger:     slog.New(logger.NewTraceHandler(slog.NewJSONHandler(&buf, nil))),
			})
			ledger.awaitFn = func(_ context.Context, _ chain.TxHandle) error {
				return &chain.Error{Op: chain.OpConfirm, Err: chain.ErrTxReverted}
			}
			req := requests.seed(5, wallet)

			Expect(processor.Process(ctx, req)).To(Succeed())

			Expect(buf.String()).To(ContainSubstring(`"msg":"issuance attempt failed"`))
			Expect(buf.String()).To(ContainSubstring(`"tx_hash":"0xfeed"`))
			Expect(buf.String()).To(ContainSubstring(`"error_kind":"confirmation"`))
		})

		It("keeps earlier retries when a pre-claimed pair is marked issued", func() {
			ledger.isClaimedFn = func(_ context.Context, _ int64, _ string) (bool, error) {
				return true, nil
			}
			req := requests.seed(9, wallet, func(r *model.IssuanceRequest) {
				r.RetryCount = 2
				r.LastError = ptr("nonce too low")
			})

			Expect(processor.Process(ctx, req)).To(Succeed())

			got := requests.get(req.ID)
			Expect(got.Status).To(Equal(model.IssuanceStatusIssued))
			Expect(got.RetryCount).To(Equal(int32(2)))
			Expect(got.LastError).To(HaveValue(Equal("nonce too low")))
			Expect(requests.appliedOutcomes()[0].RetryCount).To(Equal(int32(2)))
		})

		It("returns an error when the outcome cannot be stored", func() {
			req := &model.IssuanceRequest{ID: 999, EventID: 1, WalletAddress: wallet, Status: model.IssuanceStatusPending}
			ledger.isClaimedFn = func(_ context.Context, _ int64, _ string) (bool, error) {
				return true, nil
			}

			Expect(processor.Process(ctx, req)).To(MatchError(ContainSubstring("applying issued outcome")))
		})
	})

	Describe("Reconcile", func() {
		var stale *model.IssuanceRequest

		BeforeEach(func() {
			stale = requests.seed(10, wallet, func(r *model.IssuanceRequest) {
				r.Status = model.IssuanceStatusProcessing
				r.TxHash = ptr("0xbeef")
			})
		})

		It("marks the request issued when the ledger already shows the claim", func() {
			ledger.isClaimedFn = func(_ context.Context, _ int64, _ string) (bool, error) {
				return true, nil
			}

			Expect(processor.Reconcile(ctx, stale)).To(Succeed())
			Expect(requests.get(stale.ID).Status).To(Equal(model.IssuanceStatusIssued))
			Expect(ledger.awaited).To(BeEmpty())
		})

		It("keeps the retry count of a reclaimed request it marks issued", func() {
			retried := requests.seed(12, wallet, func(r *model.IssuanceRequest) {
				r.Status = model.IssuanceStatusProcessing
				r.TxHash = ptr("0xcafe")
				r.RetryCount = 1
			})

			Expect(processor.Reconcile(ctx, retried)).To(Succeed())

			got := requests.get(retried.ID)
			Expect(got.Status).To(Equal(model.IssuanceStatusIssued))
			Expect(got.RetryCount).To(Equal(int32(1)))
		})

		It("waits on the stored transaction", func() {
			Expect(processor.Reconcile(ctx, stale)).To(Succeed())

			Expect(ledger.awaited).To(ConsistOf(chain.TxHandle("0xbeef")))
			Expect(requests.get(stale.ID).Status).To(Equal(model.IssuanceStatusIssued))
			Expect(ledger.awards()).To(BeZero())
		})

		It("counts a failed attempt when the stored transaction never confirms", func() {
			ledger.awaitFn = func(_ context.Context, _ chain.TxHandle) error {
				return &chain.Error{Op: chain.OpConfirm, Err: chain.ErrConfirmationTimeout}
			}

			Expect(processor.Reconcile(ctx, stale)).To(Succeed())

			got := requests.get(stale.ID)
			Expect(got.Status).To(Equal(model.IssuanceStatusPending))
			Expect(got.RetryCount).To(Equal(int32(1)))
		})

		It("counts a failed attempt when no hash was recorded", func() {
			noHash := requests.seed(11, wallet, func(r *model.IssuanceRequest) {
				r.Status = model.IssuanceStatusProcessing
			})

			Expect(processor.Reconcile(ctx, noHash)).To(Succeed())

			got := requests.get(noHash.ID)
			Expect(got.Status).To(Equal(model.IssuanceStatusPending))
			Expect(got.LastError).To(HaveValue(ContainSubstring("no transaction hash")))
		})

		It("leaves the request alone when the claim check fails", func() {
			ledger.isClaimedFn = func(_ context.Context, _ int64, _ string) (bool, error) {
				return false, fmt.Errorf("dial tcp: %w", errors.New("refused"))
			}

			Expect(processor.Reconcile(ctx, stale)).NotTo(Succeed())
			Expect(requests.get(stale.ID).Status).To(Equal(model.IssuanceStatusProcessing))
			Expect(requests.appliedOutcomes()).To(BeEmpty())
		})
	})
})

func ptr[T any](v T) *T {
	return &v
}
