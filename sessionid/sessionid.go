// Package sessionid implements the Session Identity Cache (spec §4.3):
// discovering a peer's devices, fanning in my own sibling devices,
// verifying the remote bundle, reconciling against what is already
// cached, and pruning identities for devices that disappeared.
package sessionid

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/veilcore/sessioncore/identity"
	"github.com/veilcore/sessioncore/model"
	"github.com/veilcore/sessioncore/sessionerr"
	"github.com/veilcore/sessioncore/transport"
)

// maxSessionContextID bounds the random sessionContextId draw to the
// spec's uniform range [1, 2^63) (spec §4.3 step 4).
var maxSessionContextID = new(big.Int).Lsh(big.NewInt(1), 63)

// Store is the narrow slice of cache.Cache that the identity cache needs;
// identities travel as caller-encrypted blobs keyed by "secretName/deviceID".
type Store interface {
	CreateSessionIdentity(ctx context.Context, key string, encrypted []byte) error
	FetchAllSessionIdentities(ctx context.Context) (map[string][]byte, error)
	UpdateSessionIdentity(ctx context.Context, key string, encrypted []byte) error
	DeleteSessionIdentity(ctx context.Context, key string) error
}

// Codec encrypts and decrypts SessionIdentity rows under the database
// key before they reach the Store (spec §3 "Stored encrypted under the
// database key").
type Codec interface {
	Seal(identity model.SessionIdentity) ([]byte, error)
	Open(blob []byte) (model.SessionIdentity, error)
}

// Cache is the Session Identity Cache (spec §4.3).
type Cache struct {
	store Store
	tr    transport.Transport
	codec Codec
}

// New builds a Cache over store, using tr for peer discovery and codec
// for encrypting rows at rest.
func New(store Store, tr transport.Transport, codec Codec) *Cache {
	return &Cache{store: store, tr: tr, codec: codec}
}

func identityKey(secretName, deviceID string) string {
	return secretName + "/" + deviceID
}

// Refresh implements the §4.3 refresh algorithm for peer P: load what is
// cached, verify P's remote bundle, materialize identities for new
// devices (including my own sibling devices so outbound fan-out always
// reaches them), and prune anything stale.
func (c *Cache) Refresh(ctx context.Context, peerSecretName, mySecretName, myDeviceID string) ([]model.SessionIdentity, error) {
	cached, err := c.loadCached(ctx, peerSecretName, mySecretName, myDeviceID)
	if err != nil {
		return nil, err
	}

	peerCfg, found, err := c.tr.FindConfiguration(ctx, peerSecretName)
	if err != nil {
		return nil, fmt.Errorf("sessionid: fetch peer configuration: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("sessionid: peer %q has no configuration: %w", peerSecretName, sessionerr.ErrCannotFindUserConfiguration)
	}
	if err := identity.VerifyUserConfiguration(peerCfg); err != nil {
		return nil, err
	}

	var ownCfg model.UserConfiguration
	if peerSecretName != mySecretName {
		ownCfg, found, err = c.tr.FindConfiguration(ctx, mySecretName)
		if err != nil {
			return nil, fmt.Errorf("sessionid: fetch own configuration: %w", err)
		}
		if found {
			if err := identity.VerifyUserConfiguration(ownCfg); err != nil {
				return nil, err
			}
		}
	} else {
		ownCfg = peerCfg
	}

	existing := make(map[string]bool, len(cached))
	for _, s := range cached {
		existing[s.DeviceID] = true
	}

	verifiedDeviceIDs := make(map[string]bool)
	names := make(map[string]bool, len(cached))
	for _, s := range cached {
		names[s.DeviceName] = true
	}

	result := append([]model.SessionIdentity(nil), cached...)

	for _, d := range peerCfg.SignedDevices {
		if peerSecretName == mySecretName && d.Config.DeviceID == myDeviceID {
			continue
		}
		verifiedDeviceIDs[d.Config.DeviceID] = true
		if existing[d.Config.DeviceID] {
			continue
		}
		si, err := c.materialize(ctx, peerSecretName, d.Config, names)
		if err != nil {
			return nil, err
		}
		result = append(result, si)
		existing[d.Config.DeviceID] = true
	}

	if peerSecretName != mySecretName {
		for _, d := range ownCfg.SignedDevices {
			if d.Config.DeviceID == myDeviceID {
				continue
			}
			verifiedDeviceIDs[d.Config.DeviceID] = true
			if existing[d.Config.DeviceID] {
				continue
			}
			si, err := c.materialize(ctx, mySecretName, d.Config, names)
			if err != nil {
				return nil, err
			}
			result = append(result, si)
			existing[d.Config.DeviceID] = true
		}
	}

	pruned := result[:0]
	for _, s := range result {
		if s.DeviceID == myDeviceID || verifiedDeviceIDs[s.DeviceID] {
			pruned = append(pruned, s)
			continue
		}
		if err := c.store.DeleteSessionIdentity(ctx, identityKey(s.SecretName, s.DeviceID)); err != nil {
			return nil, fmt.Errorf("sessionid: prune stale identity: %w", err)
		}
	}

	return pruned, nil
}

func (c *Cache) loadCached(ctx context.Context, peerSecretName, mySecretName, myDeviceID string) ([]model.SessionIdentity, error) {
	rows, err := c.store.FetchAllSessionIdentities(ctx)
	if err != nil {
		return nil, fmt.Errorf("sessionid: load cached identities: %w", err)
	}

	var out []model.SessionIdentity
	for _, blob := range rows {
		si, err := c.codec.Open(blob)
		if err != nil {
			return nil, fmt.Errorf("sessionid: decode cached identity: %w", err)
		}
		if si.SecretName != peerSecretName && si.SecretName != mySecretName {
			continue
		}
		if si.SecretName == mySecretName && si.DeviceID == myDeviceID {
			continue
		}
		out = append(out, si)
	}
	return out, nil
}

// materialize draws a fresh sessionContextId, fetches one-time public
// keys (spec §4.3 step 4), and writes a new encrypted SessionIdentity
// row with state "none".
func (c *Cache) materialize(ctx context.Context, secretName string, device model.UserDeviceConfiguration, names map[string]bool) (model.SessionIdentity, error) {
	sessionContextID, err := randomSessionContextID()
	if err != nil {
		return model.SessionIdentity{}, fmt.Errorf("sessionid: draw session context id: %w", err)
	}

	keys, err := c.tr.FetchOneTimeKeys(ctx, secretName, device.DeviceID)
	if err != nil {
		return model.SessionIdentity{}, fmt.Errorf("sessionid: fetch one-time keys: %w", err)
	}

	var oneTimePublic []byte
	if keys.Curve != nil {
		oneTimePublic = keys.Curve.PublicKey
	}

	var pqKemPublic []byte
	var pqKemOneTimeID *uint32
	switch {
	case keys.Kyber != nil:
		pqKemPublic = keys.Kyber.PublicKey
		id := keys.Kyber.ID
		pqKemOneTimeID = &id
	case len(device.FinalPQKemPublicKey) > 0:
		pqKemPublic = device.FinalPQKemPublicKey
	default:
		return model.SessionIdentity{}, fmt.Errorf("sessionid: no pqkem key available for device %q: %w", device.DeviceID, sessionerr.ErrDrainedKeys)
	}

	deviceName := assignDeviceName(device.DeviceName, names)
	names[deviceName] = true

	now := time.Now()
	si := model.SessionIdentity{
		SessionContextID:  sessionContextID,
		SecretName:        secretName,
		DeviceID:          device.DeviceID,
		LongTermPublicKey: device.LongTermPublicKey,
		SigningPublicKey:  device.SigningPublicKey,
		PQKemPublicKey:    pqKemPublic,
		PQKemOneTimeKeyID: pqKemOneTimeID,
		OneTimePublicKey:  oneTimePublic,
		IsMasterDevice:    device.IsMasterDevice,
		State:             model.SessionStateNone,
		DeviceName:        deviceName,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	blob, err := c.codec.Seal(si)
	if err != nil {
		return model.SessionIdentity{}, fmt.Errorf("sessionid: encode identity: %w", err)
	}
	if err := c.store.CreateSessionIdentity(ctx, identityKey(secretName, device.DeviceID), blob); err != nil {
		return model.SessionIdentity{}, fmt.Errorf("sessionid: store identity: %w", err)
	}
	if err := c.tr.NotifyIdentityCreation(ctx, secretName, si); err != nil {
		return model.SessionIdentity{}, fmt.Errorf("sessionid: notify identity creation: %w", err)
	}

	return si, nil
}

// Get fetches a single cached identity by (secretName, deviceID) without
// triggering a remote refresh, used by the job processor to reload the
// current ratchet state of a job's target device.
func (c *Cache) Get(ctx context.Context, secretName, deviceID string) (model.SessionIdentity, bool, error) {
	rows, err := c.store.FetchAllSessionIdentities(ctx)
	if err != nil {
		return model.SessionIdentity{}, false, fmt.Errorf("sessionid: load cached identities: %w", err)
	}
	blob, ok := rows[identityKey(secretName, deviceID)]
	if !ok {
		return model.SessionIdentity{}, false, nil
	}
	si, err := c.codec.Open(blob)
	if err != nil {
		return model.SessionIdentity{}, false, fmt.Errorf("sessionid: decode cached identity: %w", err)
	}
	return si, true, nil
}

// Put persists a session identity whose ratchet state has changed,
// keeping the cache's encrypted row in sync (used by the job processor
// after an encrypt/decrypt that advances state).
func (c *Cache) Put(ctx context.Context, si model.SessionIdentity) error {
	si.UpdatedAt = time.Now()
	blob, err := c.codec.Seal(si)
	if err != nil {
		return fmt.Errorf("sessionid: encode identity: %w", err)
	}
	if err := c.store.UpdateSessionIdentity(ctx, identityKey(si.SecretName, si.DeviceID), blob); err != nil {
		return fmt.Errorf("sessionid: update identity: %w", err)
	}
	return nil
}

func randomSessionContextID() (int64, error) {
	n, err := rand.Int(rand.Reader, maxSessionContextID)
	if err != nil {
		return 0, err
	}
	return n.Int64() + 1, nil
}

// assignDeviceName disambiguates a candidate name against names already
// in use, appending " (n)" until unique, falling back to "Unknown
// Device" when hint is empty (spec §4.3 "Device name assignment").
func assignDeviceName(hint string, taken map[string]bool) string {
	base := hint
	if base == "" {
		base = "Unknown Device"
	}
	if !taken[base] {
		return base
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s (%d)", base, n)
		if !taken[candidate] {
			return candidate
		}
	}
}
