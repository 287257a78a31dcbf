package service_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"eventvax.app/relay/internal/model"
	"eventvax.app/relay/internal/service"
	"eventvax.app/relay/internal/store"
)

var _ = Describe("IssuanceService", func() {
	const (
		mixedCase = "0xAbCdEf0000000000000000000000000000000001"
		lowerCase = "0xabcdef0000000000000000000000000000000001"
	)

	var (
		ctx       context.Context
		svc       service.IssuanceService
		mockStore *mockIssuanceRequestStore
		txRunner  *mockTxRunner
		publisher *mockPublisher
	)

	BeforeEach(func() {
		ctx = context.Background()
		mockStore = &mockIssuanceRequestStore{}
		txRunner = &mockTxRunner{stores: &mockStoreProvider{requests: mockStore}}
		publisher = &mockPublisher{}
		svc = service.NewIssuanceService(mockStore, txRunner, publisher, nil)
	})

	Describe("Request", func() {
		Context("when the pair is new", func() {
			It("should create a pending request with a normalized wallet", func() {
				var capturedWallet string
				mockStore.submitFn = func(_ context.Context, eventID int64, wallet string) (*model.IssuanceRequest, bool, error) {
					capturedWallet = wallet
					return &model.IssuanceRequest{ID: 10, EventID: eventID, WalletAddress: wallet, Status: model.IssuanceStatusPending}, true, nil
				}

				result, err := svc.Request(ctx, service.IssuanceRequestParams{EventID: 3, WalletAddress: mixedCase})

				Expect(err).NotTo(HaveOccurred())
				Expect(result.Created).To(BeTrue())
				Expect(result.Message).To(Equal(service.MessagePending))
				Expect(capturedWallet).To(Equal(lowerCase))
				Expect(txRunner.calls).To(Equal(1))
			})

			It("should publish the pending status", func() {
				_, err := svc.Request(ctx, service.IssuanceRequestParams{EventID: 3, WalletAddress: lowerCase})

				Expect(err).NotTo(HaveOccurred())
				Expect(publisher.published).To(HaveLen(1))
				Expect(publisher.published[0].Status).To(Equal(model.IssuanceStatusPending))
			})

			It("should still succeed when publishing fails", func() {
				publisher.err = errors.New("redis down")

				result, err := svc.Request(ctx, service.IssuanceRequestParams{EventID: 3, WalletAddress: lowerCase})

				Expect(err).NotTo(HaveOccurred())
				Expect(result.Created).To(BeTrue())
			})
		})

		Context("when the pair already exists", func() {
			It("should return the existing request without publishing", func() {
				mockStore.submitFn = func(_ context.Context, eventID int64, wallet string) (*model.IssuanceRequest, bool, error) {
					return &model.IssuanceRequest{ID: 10, EventID: eventID, WalletAddress: wallet, Status: model.IssuanceStatusProcessing}, false, nil
				}

				result, err := svc.Request(ctx, service.IssuanceRequestParams{EventID: 3, WalletAddress: lowerCase})

				Expect(err).NotTo(HaveOccurred())
				Expect(result.Created).To(BeFalse())
				Expect(result.Request.Status).To(Equal(model.IssuanceStatusProcessing))
				Expect(result.Message).To(Equal(service.MessagePending))
				Expect(publisher.published).To(BeEmpty())
			})

			DescribeTable("should report a message matching the stored status",
				func(status model.IssuanceStatus, message string) {
					mockStore.submitFn = func(_ context.Context, eventID int64, wallet string) (*model.IssuanceRequest, bool, error) {
						return &model.IssuanceRequest{ID: 10, EventID: eventID, WalletAddress: wallet, Status: status}, false, nil
					}

					result, err := svc.Request(ctx, service.IssuanceRequestParams{EventID: 3, WalletAddress: lowerCase})

					Expect(err).NotTo(HaveOccurred())
					Expect(result.Message).To(Equal(message))
				},
				Entry("pending", model.IssuanceStatusPending, service.MessagePending),
				Entry("issued", model.IssuanceStatusIssued, service.MessageAlreadyIssued),
				Entry("failed", model.IssuanceStatusFailed, service.MessageFailed),
			)
		})

		Context("when the input is invalid", func() {
			It("should reject a malformed wallet without touching the store", func() {
				_, err := svc.Request(ctx, service.IssuanceRequestParams{EventID: 1, WalletAddress: "0x1234"})

				Expect(err).To(MatchError(service.ErrInvalidWallet))
				Expect(mockStore.submitCalls).To(BeZero())
			})

			It("should reject a negative event id", func() {
				_, err := svc.Request(ctx, service.IssuanceRequestParams{EventID: -1, WalletAddress: lowerCase})

				Expect(err).To(MatchError(service.ErrInvalidEventID))
				Expect(mockStore.submitCalls).To(BeZero())
			})
		})

		It("should wrap store failures", func() {
			mockStore.submitFn = func(context.Context, int64, string) (*model.IssuanceRequest, bool, error) {
				return nil, errors.New("connection refused")
			}

			_, err := svc.Request(ctx, service.IssuanceRequestParams{EventID: 1, WalletAddress: lowerCase})

			Expect(err).To(MatchError(ContainSubstring("connection refused")))
		})
	})

	Describe("Status", func() {
		It("should report not_requested for an unknown pair", func() {
			result, err := svc.Status(ctx, 1, lowerCase)

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Status).To(Equal(model.ExternalStatusNotRequested))
			Expect(result.TxHash).To(BeNil())
			Expect(result.RequestedAt).To(BeNil())
		})

		It("should look the pair up case-insensitively", func() {
			createdAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
			txHash := "0xabc"
			var lookedUp string
			mockStore.getByPairFn = func(_ context.Context, eventID int64, wallet string) (*model.IssuanceRequest, error) {
				lookedUp = wallet
				return &model.IssuanceRequest{
					ID:            10,
					EventID:       eventID,
					WalletAddress: wallet,
					Status:        model.IssuanceStatusIssued,
					TxHash:        &txHash,
					CreatedAt:     createdAt,
				}, nil
			}

			result, err := svc.Status(ctx, 1, mixedCase)

			Expect(err).NotTo(HaveOccurred())
			Expect(lookedUp).To(Equal(lowerCase))
			Expect(result.Status).To(Equal(model.ExternalStatusIssued))
			Expect(result.TxHash).To(HaveValue(Equal("0xabc")))
			Expect(result.RequestedAt).To(HaveValue(Equal(createdAt)))
		})

		It("should reject a malformed wallet", func() {
			_, err := svc.Status(ctx, 1, "not-a-wallet")
			Expect(err).To(MatchError(service.ErrInvalidWallet))
		})

		It("should surface unexpected store errors", func() {
			mockStore.getByPairFn = func(context.Context, int64, string) (*model.IssuanceRequest, error) {
				return nil, errors.New("timeout")
			}

			_, err := svc.Status(ctx, 1, lowerCase)
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, store.ErrNotFound)).To(BeFalse())
		})
	})
})
