package identity

import (
	"context"
	"testing"

	"github.com/veilcore/sessioncore/model"
	"github.com/veilcore/sessioncore/transport"
)

type publishRecordingTransport struct {
	published []model.UserConfiguration
}

func (p *publishRecordingTransport) SendMessage(ctx context.Context, msg model.SignedRatchetMessage, opts transport.SendOptions) error {
	return nil
}
func (p *publishRecordingTransport) FindConfiguration(ctx context.Context, secretName string) (model.UserConfiguration, bool, error) {
	return model.UserConfiguration{}, false, nil
}
func (p *publishRecordingTransport) PublishUserConfiguration(ctx context.Context, cfg model.UserConfiguration, recipientDeviceID string) error {
	p.published = append(p.published, cfg)
	return nil
}
func (p *publishRecordingTransport) FetchOneTimeKeys(ctx context.Context, secretName, deviceID string) (transport.OneTimeKeyPair, error) {
	return transport.OneTimeKeyPair{}, nil
}
func (p *publishRecordingTransport) FetchOneTimeKeyIdentities(ctx context.Context, secretName, deviceID string, flavor transport.KeyFlavor) ([]uint32, error) {
	return nil, nil
}
func (p *publishRecordingTransport) UpdateOneTimeKeys(ctx context.Context, secretName, deviceID string, keys []model.SignedOneTimeKey) error {
	return nil
}
func (p *publishRecordingTransport) UpdateOneTimePQKemKeys(ctx context.Context, secretName, deviceID string, keys []model.SignedOneTimeKey) error {
	return nil
}
func (p *publishRecordingTransport) BatchDeleteOneTimeKeys(ctx context.Context, secretName, deviceID string, flavor transport.KeyFlavor) error {
	return nil
}
func (p *publishRecordingTransport) RotateLongTermKeys(ctx context.Context, secretName, deviceID string, pskData []byte, signedDevice model.SignedDeviceConfiguration) error {
	return nil
}
func (p *publishRecordingTransport) NotifyIdentityCreation(ctx context.Context, secretName string, keys model.SessionIdentity) error {
	return nil
}

func TestExtendBundleSharesAccountSigningKey(t *testing.T) {
	master, err := GenerateBundle("phone", true)
	if err != nil {
		t.Fatal(err)
	}

	sibling, err := ExtendBundle(master.Keys.SigningPrivateKey, "laptop")
	if err != nil {
		t.Fatal(err)
	}

	if !sibling.DeviceConfig.Config.SigningPublicKey.Equal(master.DeviceConfig.Config.SigningPublicKey) {
		t.Fatal("sibling device must carry the account's shared signing public key")
	}

	cfg := model.UserConfiguration{
		SigningPublicKey: master.DeviceConfig.Config.SigningPublicKey,
		SignedDevices:    []model.SignedDeviceConfiguration{master.DeviceConfig, sibling.DeviceConfig},
		SignedOneTimePublicKeys: append(
			append([]model.SignedOneTimeKey{}, master.SignedOneTimeCurveKeys...),
			sibling.SignedOneTimeCurveKeys...),
		SignedPQKemOneTimePublicKeys: append(
			append([]model.SignedOneTimeKey{}, master.SignedOneTimeKyberKeys...),
			sibling.SignedOneTimeKyberKeys...),
	}

	if err := VerifyUserConfiguration(cfg); err != nil {
		t.Fatalf("VerifyUserConfiguration: %v", err)
	}
}

func TestRotateOnCompromiseRepublishesOwnDeviceUnderNewKey(t *testing.T) {
	master, err := GenerateBundle("phone", true)
	if err != nil {
		t.Fatal(err)
	}
	sibling, err := ExtendBundle(master.Keys.SigningPrivateKey, "laptop")
	if err != nil {
		t.Fatal(err)
	}

	cfg := model.UserConfiguration{
		SigningPublicKey: master.DeviceConfig.Config.SigningPublicKey,
		SignedDevices:    []model.SignedDeviceConfiguration{master.DeviceConfig, sibling.DeviceConfig},
	}

	tr := &publishRecordingTransport{}
	ownDeviceID := master.DeviceConfig.Config.DeviceID
	newKeys, newConfig, err := RotateOnCompromise(context.Background(), tr, "me", ownDeviceID, cfg, master.Keys.SigningPrivateKey)
	if err != nil {
		t.Fatalf("RotateOnCompromise: %v", err)
	}

	if newConfig.Config.DeviceID != ownDeviceID {
		t.Fatalf("republished device id = %q, want %q", newConfig.Config.DeviceID, ownDeviceID)
	}
	if newConfig.Config.SigningPublicKey.Equal(master.DeviceConfig.Config.SigningPublicKey) {
		t.Fatal("rotated device entry must carry a new signing public key")
	}
	if len(newKeys.SigningPrivateKey) == 0 {
		t.Fatal("rotation must produce a fresh signing private key")
	}
	if len(tr.published) != 1 {
		t.Fatalf("published = %d, want 1", len(tr.published))
	}
}

func TestRotateOnCompromiseRejectsUnknownDeviceID(t *testing.T) {
	master, err := GenerateBundle("phone", true)
	if err != nil {
		t.Fatal(err)
	}
	cfg := model.UserConfiguration{
		SigningPublicKey: master.DeviceConfig.Config.SigningPublicKey,
		SignedDevices:    []model.SignedDeviceConfiguration{master.DeviceConfig},
	}

	tr := &publishRecordingTransport{}
	if _, _, err := RotateOnCompromise(context.Background(), tr, "me", "nonexistent-device", cfg, master.Keys.SigningPrivateKey); err == nil {
		t.Fatal("expected error for an unknown own device id")
	}
}
