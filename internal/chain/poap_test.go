package chain_test

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"eventvax.app/relay/core/config"
	"eventvax.app/relay/internal/chain"
)

const (
	contractAddr = "0x00000000000000000000000000000000000000aa"
	attendee     = "0x1111111111111111111111111111111111111111"
)

var _ = Describe("POAPClient", func() {
	var (
		backend *fakeBackend
		cfg     config.ChainConfig
		client  *chain.POAPClient
		ctx     context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		key, err := crypto.GenerateKey()
		Expect(err).NotTo(HaveOccurred())

		backend = newFakeBackend(chain.ContractABI)
		cfg = config.ChainConfig{
			ChainID:         43113,
			ContractAddress: contractAddr,
			PrivateKey:      "0x" + hex.EncodeToString(crypto.FromECDSA(key)),
			GasLimit:        300000,
			ConfirmTimeout:  200 * time.Millisecond,
			ReceiptPoll:     10 * time.Millisecond,
		}
	})

	JustBeforeEach(func() {
		var err error
		client, err = chain.NewPOAPClient(backend, cfg, nil)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("construction", func() {
		It("refuses to start without a signing key", func() {
			cfg.PrivateKey = ""
			_, err := chain.NewPOAPClient(backend, cfg, nil)
			Expect(err).To(MatchError(chain.ErrSignerNotConfigured))
			Expect(chain.IsConfigurationError(err)).To(BeTrue())
		})

		It("rejects a malformed key", func() {
			cfg.PrivateKey = "not-a-key"
			_, err := chain.NewPOAPClient(backend, cfg, nil)
			Expect(err).To(MatchError(chain.ErrInvalidSigner))
		})

		It("rejects a malformed contract address", func() {
			cfg.ContractAddress = "nope"
			_, err := chain.NewPOAPClient(backend, cfg, nil)
			Expect(err).To(MatchError(chain.ErrContractNotSet))
		})

		It("exposes the signer address", func() {
			Expect(common.IsHexAddress(client.Address())).To(BeTrue())
		})
	})

	Describe("IsClaimed", func() {
		It("returns the contract's answer", func() {
			backend.claimed = true

			claimed, err := client.IsClaimed(ctx, 7, attendee)
			Expect(err).NotTo(HaveOccurred())
			Expect(claimed).To(BeTrue())
			Expect(backend.calls).To(HaveLen(1))
			Expect(*backend.calls[0].To).To(Equal(common.HexToAddress(contractAddr)))
		})

		It("classifies RPC failures as read errors", func() {
			backend.callErr = errors.New("connection refused")

			_, err := client.IsClaimed(ctx, 7, attendee)
			Expect(err).To(HaveOccurred())
			Expect(chain.IsReadError(err)).To(BeTrue())
			Expect(chain.OpOf(err)).To(Equal(chain.OpClaimCheck))
		})

		Context("with an RPC rate limit", func() {
			BeforeEach(func() {
				cfg.RPCRateLimit = 0.01
				cfg.RPCBurst = 1
			})

			It("holds calls beyond the burst until the context gives up", func() {
				_, err := client.IsClaimed(ctx, 7, attendee)
				Expect(err).NotTo(HaveOccurred())

				shortCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
				defer cancel()
				_, err = client.IsClaimed(shortCtx, 7, attendee)
				Expect(err).To(HaveOccurred())
				Expect(chain.OpOf(err)).To(Equal(chain.OpClaimCheck))
				Expect(backend.calls).To(HaveLen(1))
			})
		})
	})

	Describe("AwardToken", func() {
		It("sends awardPOAP with the configured gas limit", func() {
			var metadata [32]byte
			metadata[0] = 0xAB

			handle, err := client.AwardToken(ctx, 7, attendee, metadata)
			Expect(err).NotTo(HaveOccurred())
			Expect(backend.sent).To(HaveLen(1))

			tx := backend.sent[0]
			Expect(handle).To(Equal(chain.TxHandle(tx.Hash().Hex())))
			Expect(tx.Gas()).To(Equal(uint64(300000)))
			Expect(*tx.To()).To(Equal(common.HexToAddress(contractAddr)))

			method, err := backend.abi.MethodById(tx.Data()[:4])
			Expect(err).NotTo(HaveOccurred())
			Expect(method.Name).To(Equal("awardPOAP"))

			args, err := method.Inputs.Unpack(tx.Data()[4:])
			Expect(err).NotTo(HaveOccurred())
			Expect(args[0].(*big.Int).Int64()).To(Equal(int64(7)))
			Expect(args[1].(common.Address)).To(Equal(common.HexToAddress(attendee)))
			Expect(args[2].([32]byte)).To(Equal(metadata))
		})

		It("classifies send failures as write errors", func() {
			backend.sendErr = errors.New("nonce too low")

			_, err := client.AwardToken(ctx, 7, attendee, [32]byte{})
			Expect(chain.IsWriteError(err)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("nonce too low"))
		})
	})

	Describe("AwaitConfirmation", func() {
		It("returns once the receipt is successful", func() {
			hash := common.HexToHash("0x01")
			go func() {
				time.Sleep(30 * time.Millisecond)
				backend.setReceipt(hash, types.ReceiptStatusSuccessful)
			}()

			Expect(client.AwaitConfirmation(ctx, chain.TxHandle(hash.Hex()))).To(Succeed())
		})

		It("reports reverted transactions", func() {
			hash := common.HexToHash("0x02")
			backend.setReceipt(hash, types.ReceiptStatusFailed)

			err := client.AwaitConfirmation(ctx, chain.TxHandle(hash.Hex()))
			Expect(err).To(MatchError(chain.ErrTxReverted))
			Expect(chain.IsConfirmationError(err)).To(BeTrue())
		})

		It("times out when the transaction never lands", func() {
			err := client.AwaitConfirmation(ctx, chain.TxHandle(common.HexToHash("0x03").Hex()))
			Expect(err).To(MatchError(chain.ErrConfirmationTimeout))
		})

		It("keeps polling through transient receipt errors", func() {
			hash := common.HexToHash("0x04")
			backend.receiptErr = errors.New("502 bad gateway")
			go func() {
				time.Sleep(30 * time.Millisecond)
				backend.setReceipt(hash, types.ReceiptStatusSuccessful)
			}()

			Expect(client.AwaitConfirmation(ctx, chain.TxHandle(hash.Hex()))).To(Succeed())
		})

		It("stops when the caller cancels", func() {
			cancelCtx, cancel := context.WithCancel(ctx)
			cancel()

			err := client.AwaitConfirmation(cancelCtx, chain.TxHandle(common.HexToHash("0x05").Hex()))
			Expect(err).To(MatchError(context.Canceled))
			Expect(err).NotTo(MatchError(chain.ErrConfirmationTimeout))
		})
	})

	Describe("HasIssuerRole", func() {
		It("queries hasRole for the verifier role and the relayer address", func() {
			backend.hasRole = true

			ok, err := client.HasIssuerRole(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())

			method, err := backend.abi.MethodById(backend.calls[0].Data[:4])
			Expect(err).NotTo(HaveOccurred())
			args, err := method.Inputs.Unpack(backend.calls[0].Data[4:])
			Expect(err).NotTo(HaveOccurred())
			Expect(args[0].([32]byte)).To(Equal([32]byte(chain.VerifierRole)))
			Expect(args[1].(common.Address).Hex()).To(Equal(client.Address()))
		})
	})
})

var _ = Describe("MetadataHasher", func() {
	It("is stable per pair in deterministic mode", func() {
		hash := chain.NewMetadataHasher(config.MetadataModeDeterministic, nil)
		Expect(hash(1, attendee)).To(Equal(hash(1, attendee)))
		Expect(hash(1, attendee)).NotTo(Equal(hash(2, attendee)))
		Expect(hash(1, attendee)).To(Equal([32]byte(crypto.Keccak256Hash([]byte("poap-1-" + attendee)))))
	})

	It("mixes the submission time in timestamped mode", func() {
		now := time.UnixMilli(1_700_000_000_000)
		hash := chain.NewMetadataHasher(config.MetadataModeTimestamped, func() time.Time { return now })

		first := hash(1, attendee)
		Expect(first).To(Equal([32]byte(crypto.Keccak256Hash([]byte("poap-1-" + attendee + "-1700000000000")))))

		now = now.Add(time.Millisecond)
		Expect(hash(1, attendee)).NotTo(Equal(first))
	})
})
