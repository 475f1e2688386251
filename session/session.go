// Package session wires the collaborators and component packages into the
// single embeddable entry point (spec §6 lifecycle, §5 concurrency model).
// Session is an actor: every exported method takes the session's lock, so
// external callers may invoke concurrently while the session's internal
// state only ever mutates under exclusive access, serialized in arrival
// order. RefillOneTimeKeys holds it only while it snapshots the keys and
// again while it applies the asynchronous refill's result; every other
// method holds it for its whole duration.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/veilcore/sessioncore/cache"
	"github.com/veilcore/sessioncore/devicelink"
	"github.com/veilcore/sessioncore/identity"
	"github.com/veilcore/sessioncore/jobqueue"
	"github.com/veilcore/sessioncore/model"
	"github.com/veilcore/sessioncore/orchestration"
	"github.com/veilcore/sessioncore/receiver"
	"github.com/veilcore/sessioncore/sessionerr"
	"github.com/veilcore/sessioncore/sessionid"
	"github.com/veilcore/sessioncore/transport"
	"github.com/veilcore/sessioncore/vault"
)

// Config is the set of external collaborators the embedder supplies (spec
// §6). Store, Transport and Receiver are mandatory; DeviceLinker is
// optional (device-linking is simply unavailable without one).
type Config struct {
	Store        cache.Store
	Transport    transport.Transport
	Receiver     receiver.Receiver
	DeviceLinker devicelink.Delegate
	Logger       *log.Logger
}

// Session is the top-level actor (spec §5, §6).
type Session struct {
	mu sync.Mutex

	store        cache.Store
	cache        *cache.Cache
	vault        *vault.Vault
	tr           transport.Transport
	rcv          receiver.Receiver
	deviceLinker devicelink.Delegate
	logger       *log.Logger

	keys         *deviceKeys
	identities   *sessionid.Cache
	jobs         *jobqueue.Queue
	orchestrator *orchestration.Orchestrator
	refiller     *identity.Refiller

	password    []byte
	databaseKey []byte
	createdAt   time.Time

	rotatingKeys bool
	started      bool
}

// New validates the collaborators and builds a Session that has not yet
// created or loaded any installation (call CreateSession or StartSession
// next).
func New(cfg Config) (*Session, error) {
	if cfg.Store == nil {
		return nil, sessionerr.ErrDatabaseNotInitialized
	}
	if cfg.Transport == nil {
		return nil, sessionerr.ErrTransportNotInitialized
	}
	if cfg.Receiver == nil {
		return nil, sessionerr.ErrReceiverDelegateNotSet
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Session{
		store:        cfg.Store,
		cache:        cache.New(cfg.Store),
		tr:           cfg.Transport,
		rcv:          cfg.Receiver,
		deviceLinker: cfg.DeviceLinker,
		logger:       logger,
		keys:         &deviceKeys{},
	}, nil
}

// CreateSession provisions a brand-new installation: mints a fresh device
// bundle and database key, publishes the bundle, and seals the resulting
// SessionContext under password (spec §4.2 "Bundle generation", §4.6
// "Persisted layout"). secretName must not already have a published
// configuration.
func (s *Session) CreateSession(ctx context.Context, secretName, deviceName string, password []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Init(ctx); err != nil {
		return fmt.Errorf("session: init store: %w", err)
	}

	if _, found, err := s.tr.FindConfiguration(ctx, secretName); err != nil {
		return fmt.Errorf("session: check existing configuration: %w", err)
	} else if found {
		return fmt.Errorf("session: create %q: %w", secretName, sessionerr.ErrUserExists)
	}

	bundle, err := identity.GenerateBundle(deviceName, true)
	if err != nil {
		return err
	}

	if err := s.tr.PublishUserConfiguration(ctx, model.UserConfiguration{
		SigningPublicKey:             bundle.DeviceConfig.Config.SigningPublicKey,
		SignedDevices:                []model.SignedDeviceConfiguration{bundle.DeviceConfig},
		SignedOneTimePublicKeys:      bundle.SignedOneTimeCurveKeys,
		SignedPQKemOneTimePublicKeys: bundle.SignedOneTimeKyberKeys,
	}, bundle.DeviceConfig.Config.DeviceID); err != nil {
		return fmt.Errorf("session: publish new bundle: %w", sessionerr.ErrConfigurationError)
	}

	databaseKey, err := vault.NewDatabaseKey()
	if err != nil {
		return fmt.Errorf("session: mint database key: %w", err)
	}

	s.keys.set(bundle.Keys, secretName, bundle.DeviceConfig.Config.DeviceID)
	s.databaseKey = databaseKey
	s.password = append([]byte(nil), password...)
	s.createdAt = time.Now()

	return s.persistContextLocked(ctx)
}

// StartSession unseals the persisted SessionContext under password and
// wires up the runtime components: session identity cache, job queue,
// orchestrator, and one-time-key refiller (spec §6 lifecycle). Calling it
// twice without an intervening Shutdown is a no-op.
func (s *Session) StartSession(ctx context.Context, password []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if err := s.store.Init(ctx); err != nil {
		return fmt.Errorf("session: init store: %w", err)
	}

	ciphertext, found, err := s.cache.FetchSessionContext(ctx)
	if err != nil {
		return fmt.Errorf("session: fetch session context: %w", err)
	}
	if !found {
		return fmt.Errorf("session: start: %w", sessionerr.ErrSessionNotInitialized)
	}

	s.vault = vault.New(s.cache)
	plaintext, err := s.vault.Open(ctx, password, ciphertext)
	if err != nil {
		return err
	}

	var sctx model.SessionContext
	if err := json.Unmarshal(plaintext, &sctx); err != nil {
		return fmt.Errorf("session: decode session context: %w", sessionerr.ErrInvalidDocument)
	}

	s.keys.set(sctx.Keys, sctx.SecretName, sctx.DeviceID)
	s.password = append([]byte(nil), password...)
	s.createdAt = sctx.CreatedAt
	s.databaseKey = sctx.DatabaseKey

	idCodec := identityCodec{key: s.databaseKey}
	s.identities = sessionid.New(s.cache, s.tr, idCodec)

	handler := &cryptoHandler{keys: s.keys, identities: s.identities, tr: s.tr}
	jq := jobqueue.New(s.cache, jobCodec{key: s.databaseKey}, handler, s.logger)
	s.jobs = jq

	s.orchestrator = orchestration.New(s.identities, jq, s.cache, s.cache,
		communicationCodec{key: s.databaseKey}, messageCodec{key: s.databaseKey},
		s.rcv, sctx.SecretName, sctx.DeviceID)
	handler.orchestrator = s.orchestrator

	s.refiller = identity.NewRefiller(s.tr)

	if err := jq.Rehydrate(ctx); err != nil {
		return err
	}
	jq.Start(ctx)
	s.started = true
	return nil
}

// persistContextLocked seals and stores the current SessionContext. It
// requires s.mu already held by the caller.
func (s *Session) persistContextLocked(ctx context.Context) error {
	keys, secretName, deviceID := s.keys.snapshot()
	encoded, err := json.Marshal(model.SessionContext{
		SecretName:  secretName,
		DeviceID:    deviceID,
		Keys:        keys,
		DatabaseKey: s.databaseKey,
		CreatedAt:   s.createdAt,
	})
	if err != nil {
		return fmt.Errorf("session: encode session context: %w", sessionerr.ErrPropsError)
	}

	if s.vault == nil {
		s.vault = vault.New(s.cache)
	}
	ciphertext, err := s.vault.Seal(ctx, s.password, encoded)
	if err != nil {
		return err
	}
	if err := s.cache.PutSessionContext(ctx, ciphertext); err != nil {
		return fmt.Errorf("session: persist session context: %w", err)
	}
	return nil
}

// Send encrypts and fans msg out to commType/name's resolved targets
// (spec §4.8 "Outbound"). It is blocked while rotatingKeys is set so that
// in-flight sends never observe a stale signing key mid-rotation (spec §5).
func (s *Session) Send(ctx context.Context, msg model.CryptoMessage, commType model.CommunicationType, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return sessionerr.ErrSessionNotInitialized
	}
	if s.rotatingKeys {
		return fmt.Errorf("session: send during key rotation: %w", sessionerr.ErrConnectionIsNonViable)
	}
	return s.orchestrator.Send(ctx, msg, commType, name)
}

// ReceiveMessage enqueues an inbound envelope as a streamMessage job (spec
// §4.5 "streamMessage"); decryption and delivery happen asynchronously on
// the crypto executor.
func (s *Session) ReceiveMessage(ctx context.Context, envelope model.SignedRatchetMessage, senderSecretName, senderDeviceID, sharedMessageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return sessionerr.ErrSessionNotInitialized
	}
	_, err := s.jobs.Enqueue(ctx, model.TaskType{
		Kind: model.TaskStreamMessage,
		StreamMessage: model.InboundTaskMessage{
			SignedMessage:    envelope,
			SenderSecretName: senderSecretName,
			SenderDeviceID:   senderDeviceID,
			SharedMessageID:  sharedMessageID,
		},
	}, true)
	return err
}

// SetNetworkViable flips the job queue's network-viability signal (spec
// §4.5 step 1).
func (s *Session) SetNetworkViable(viable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobs != nil {
		s.jobs.SetNetworkViable(viable)
	}
}

// RotateOnCompromise regenerates this device's long-term keys and
// republishes under a fresh signing key (spec §4.2 "Compromise"). Outbound
// fan-out is blocked for the duration via rotatingKeys (spec §5).
func (s *Session) RotateOnCompromise(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return sessionerr.ErrSessionNotInitialized
	}
	s.rotatingKeys = true
	defer func() { s.rotatingKeys = false }()

	keys, secretName, deviceID := s.keys.snapshot()
	cfg, found, err := s.tr.FindConfiguration(ctx, secretName)
	if err != nil {
		return fmt.Errorf("session: fetch own configuration: %w", err)
	}
	if !found {
		return fmt.Errorf("session: rotate: %w", sessionerr.ErrCannotFindUserConfiguration)
	}

	newKeys, _, err := identity.RotateOnCompromise(ctx, s.tr, secretName, deviceID, cfg, keys.SigningPrivateKey)
	if err != nil {
		return err
	}

	s.keys.set(newKeys, secretName, deviceID)
	return s.persistContextLocked(ctx)
}

// RunScheduledMaintenance rotates the reserve ML-KEM key if due (spec §4.2
// "Scheduled"). It is a no-op otherwise.
func (s *Session) RunScheduledMaintenance(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return sessionerr.ErrSessionNotInitialized
	}

	keys, secretName, deviceID := s.keys.snapshot()
	if !identity.NeedsScheduledRotation(keys.RotateKeysDate, time.Now()) {
		return nil
	}

	cfg, found, err := s.tr.FindConfiguration(ctx, secretName)
	if err != nil {
		return fmt.Errorf("session: fetch own configuration: %w", err)
	}
	if !found {
		return fmt.Errorf("session: scheduled rotation: %w", sessionerr.ErrCannotFindUserConfiguration)
	}
	own, found := cfg.DeviceConfigByID(deviceID)
	if !found {
		return fmt.Errorf("session: scheduled rotation: %w", sessionerr.ErrInvalidDeviceIdentity)
	}

	newPriv, _, err := identity.RotatePQKem(ctx, s.tr, secretName, deviceID, keys.SigningPrivateKey, own.Config)
	if err != nil {
		return err
	}

	s.keys.update(func(k *model.DeviceKeys) {
		k.FinalPQKemPrivateKey = newPriv
		k.RotateKeysDate = time.Now().Add(identity.ScheduledRotationInterval)
	})
	return s.persistContextLocked(ctx)
}

// RefillOneTimeKeys launches a one-time-key reconciliation for flavor
// (spec §4.2 "One-time-key refill"); it runs asynchronously and persists
// its result, uploading or wiping the remote inventory, once complete.
func (s *Session) RefillOneTimeKeys(ctx context.Context, flavor transport.KeyFlavor) {
	s.mu.Lock()
	keys, secretName, deviceID := s.keys.snapshot()
	publishedCount := len(keys.OneTimePrivateKeys)
	if flavor == transport.KeyFlavorKyber {
		publishedCount = len(keys.PQKemOneTimePrivateKeys)
	}
	refiller := s.refiller
	s.mu.Unlock()

	refiller.Start(ctx, flavor, secretName, deviceID, keys.SigningPrivateKey, keys.OneTimePrivateKeys, keys.PQKemOneTimePrivateKeys, publishedCount, func(result identity.RefillResult, err error) {
		if err != nil {
			s.logger.Printf("session: refill flavor=%v failed: %v", flavor, err)
			return
		}
		s.applyRefillResult(ctx, flavor, result)
	})
}

func (s *Session) applyRefillResult(ctx context.Context, flavor transport.KeyFlavor, result identity.RefillResult) {
	s.mu.Lock()
	_, secretName, deviceID := s.keys.snapshot()
	s.keys.update(func(k *model.DeviceKeys) {
		switch flavor {
		case transport.KeyFlavorCurve:
			k.OneTimePrivateKeys = result.SurvivingCurve
		case transport.KeyFlavorKyber:
			k.PQKemOneTimePrivateKeys = result.SurvivingKyber
		}
	})
	persistErr := s.persistContextLocked(ctx)
	s.mu.Unlock()
	if persistErr != nil {
		s.logger.Printf("session: persist refill result: %v", persistErr)
	}

	switch flavor {
	case transport.KeyFlavorCurve:
		if result.WipeCurve {
			if err := s.tr.BatchDeleteOneTimeKeys(ctx, secretName, deviceID, flavor); err != nil {
				s.logger.Printf("session: wipe curve one-time keys: %v", err)
			}
			return
		}
		if len(result.FreshSignedCurve) > 0 {
			if err := s.tr.UpdateOneTimeKeys(ctx, secretName, deviceID, result.FreshSignedCurve); err != nil {
				s.logger.Printf("session: upload fresh curve one-time keys: %v", err)
			}
		}
	case transport.KeyFlavorKyber:
		if result.WipeKyber {
			if err := s.tr.BatchDeleteOneTimeKeys(ctx, secretName, deviceID, flavor); err != nil {
				s.logger.Printf("session: wipe kyber one-time keys: %v", err)
			}
			return
		}
		if len(result.FreshSignedKyber) > 0 {
			if err := s.tr.UpdateOneTimePQKemKeys(ctx, secretName, deviceID, result.FreshSignedKyber); err != nil {
				s.logger.Printf("session: upload fresh kyber one-time keys: %v", err)
			}
		}
	}
}

// ApproveDeviceLink consults the device-linking delegate about a candidate
// device configuration received out-of-band (spec §6 "Device-linking
// delegate"). On approval for this account, the candidate's configuration
// is finalized under the account's shared signing key and republished.
func (s *Session) ApproveDeviceLink(ctx context.Context, serializedConfig []byte, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return sessionerr.ErrSessionNotInitialized
	}

	var candidate model.UserDeviceConfiguration
	if err := json.Unmarshal(serializedConfig, &candidate); err != nil {
		return fmt.Errorf("session: decode candidate device configuration: %w", sessionerr.ErrInvalidDocument)
	}
	s.rcv.NewDeviceRequest(candidate)

	if s.deviceLinker == nil {
		return nil
	}
	approval, approved, err := s.deviceLinker.RequestLink(ctx, serializedConfig, password)
	if err != nil {
		return fmt.Errorf("session: device link request: %w", err)
	}
	if !approved {
		return nil
	}

	keys, secretName, _ := s.keys.snapshot()
	if approval.SecretName != secretName {
		return fmt.Errorf("session: approve device link for %q: %w", approval.SecretName, sessionerr.ErrAccessDenied)
	}

	cfg, found, err := s.tr.FindConfiguration(ctx, secretName)
	if err != nil {
		return fmt.Errorf("session: fetch own configuration: %w", err)
	}
	if !found {
		return fmt.Errorf("session: approve device link: %w", sessionerr.ErrCannotFindUserConfiguration)
	}

	signed := identity.SignDeviceConfiguration(keys.SigningPrivateKey, candidate)
	cfg.SignedDevices = append(cfg.SignedDevices, signed)

	if err := s.tr.PublishUserConfiguration(ctx, cfg, signed.Config.DeviceID); err != nil {
		return fmt.Errorf("session: publish linked device: %w", sessionerr.ErrConfigurationError)
	}
	return nil
}

// ChangePassword re-seals the SessionContext under newPassword (spec §4.6
// "Password change"). The in-memory password is replaced only on success.
func (s *Session) ChangePassword(ctx context.Context, oldPassword, newPassword []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return sessionerr.ErrSessionNotInitialized
	}
	ciphertext, found, err := s.cache.FetchSessionContext(ctx)
	if err != nil {
		return fmt.Errorf("session: fetch session context: %w", err)
	}
	if !found {
		return sessionerr.ErrSessionNotInitialized
	}

	newCiphertext, err := s.vault.ChangePassword(ctx, oldPassword, newPassword, ciphertext)
	if err != nil {
		return err
	}
	if err := s.cache.PutSessionContext(ctx, newCiphertext); err != nil {
		return fmt.Errorf("session: persist re-sealed context: %w", err)
	}
	s.password = append([]byte(nil), newPassword...)
	return nil
}

// Shutdown drains the job queue and cancels any in-flight refill (spec §5
// "Cancellation": no mid-ratchet cancellation, only cooperative drain). It
// is idempotent; a stopped session can be restarted with StartSession.
func (s *Session) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	if s.jobs != nil {
		s.jobs.Shutdown()
	}
	if s.refiller != nil {
		s.refiller.Cancel()
	}
	s.started = false
}
