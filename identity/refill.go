package identity

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log"
	"sync"

	"github.com/veilcore/sessioncore/model"
	"github.com/veilcore/sessioncore/transport"
)

const lowWatermark = 10

// Refiller reconciles local one-time-key inventories against the
// transport's view, one flavor at a time (spec §4.2 "One-time-key
// refill"). Each flavor is a singleton task: starting a new refill
// cancels any in-flight task for the same flavor.
type Refiller struct {
	tr transport.Transport

	mu      sync.Mutex
	cancels map[transport.KeyFlavor]context.CancelFunc
}

// NewRefiller builds a Refiller over the given transport.
func NewRefiller(tr transport.Transport) *Refiller {
	return &Refiller{tr: tr, cancels: make(map[transport.KeyFlavor]context.CancelFunc)}
}

// RefillResult is what a completed refill produced: the surviving local
// private keys of that flavor after reconciliation, plus any freshly
// generated signed publics that must be uploaded.
type RefillResult struct {
	SurvivingCurve []model.OneTimeX25519Key
	SurvivingKyber []model.OneTimePQKemKey
	FreshSignedCurve []model.SignedOneTimeKey
	FreshSignedKyber []model.SignedOneTimeKey
	WipeCurve bool
	WipeKyber bool
}

// Start cancels any in-flight refill for flavor and launches a new one.
// The result (or error) is delivered to done once the reconciliation
// completes; callers persist the result and call the transport's update
// or wipe endpoints.
func (r *Refiller) Start(ctx context.Context, flavor transport.KeyFlavor, secretName, deviceID string, signingKey ed25519.PrivateKey, localPrivateCurve []model.OneTimeX25519Key, localPrivateKyber []model.OneTimePQKemKey, publishedCount int, done func(RefillResult, error)) {
	r.mu.Lock()
	if cancel, ok := r.cancels[flavor]; ok {
		cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancels[flavor] = cancel
	r.mu.Unlock()

	go func() {
		result, err := r.reconcile(runCtx, flavor, secretName, deviceID, signingKey, localPrivateCurve, localPrivateKyber, publishedCount)
		if runCtx.Err() != nil {
			log.Printf("identity: refill canceled flavor=%v secretName=%s", flavor, secretName)
			return
		}
		done(result, err)
	}()
}

// Cancel stops any in-flight refill for every flavor, used on shutdown
// (spec §4.5 "Cancellation").
func (r *Refiller) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cancel := range r.cancels {
		cancel()
	}
	r.cancels = make(map[transport.KeyFlavor]context.CancelFunc)
}

func (r *Refiller) reconcile(ctx context.Context, flavor transport.KeyFlavor, secretName, deviceID string, signingKey ed25519.PrivateKey, localPrivateCurve []model.OneTimeX25519Key, localPrivateKyber []model.OneTimePQKemKey, publishedCount int) (RefillResult, error) {
	remoteIDs, err := r.tr.FetchOneTimeKeyIdentities(ctx, secretName, deviceID, flavor)
	if err != nil {
		return RefillResult{}, fmt.Errorf("identity: fetch remote one-time key identities: %w", err)
	}
	remote := make(map[uint32]struct{}, len(remoteIDs))
	for _, id := range remoteIDs {
		remote[id] = struct{}{}
	}

	var result RefillResult
	remainingCount := 0

	switch flavor {
	case transport.KeyFlavorCurve:
		for _, k := range localPrivateCurve {
			if _, ok := remote[k.ID]; ok {
				result.SurvivingCurve = append(result.SurvivingCurve, k)
			}
		}
		remainingCount = len(remote)
	case transport.KeyFlavorKyber:
		for _, k := range localPrivateKyber {
			if _, ok := remote[k.ID]; ok {
				result.SurvivingKyber = append(result.SurvivingKyber, k)
			}
		}
		remainingCount = len(remote)
	}

	if remainingCount <= lowWatermark {
		toGenerate := oneTimeKeyBatchSize - remainingCount
		if toGenerate > 0 {
			switch flavor {
			case transport.KeyFlavorCurve:
				fresh, signed, err := generateOneTimeCurveKeys(signingKey, deviceID, toGenerate)
				if err != nil {
					return RefillResult{}, err
				}
				result.SurvivingCurve = append(result.SurvivingCurve, fresh...)
				result.FreshSignedCurve = signed
			case transport.KeyFlavorKyber:
				fresh, signed, err := generateOneTimePQKemKeys(signingKey, deviceID, toGenerate)
				if err != nil {
					return RefillResult{}, err
				}
				result.SurvivingKyber = append(result.SurvivingKyber, fresh...)
				result.FreshSignedKyber = signed
			}
		}
	}

	switch flavor {
	case transport.KeyFlavorCurve:
		result.WipeCurve = len(result.SurvivingCurve) == 0
	case transport.KeyFlavorKyber:
		result.WipeKyber = len(result.SurvivingKyber) == 0
	}

	return result, nil
}
