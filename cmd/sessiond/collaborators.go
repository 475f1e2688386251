package main

import (
	"context"
	"fmt"
	"log"

	"github.com/veilcore/sessioncore/model"
	"github.com/veilcore/sessioncore/transport"
)

// loggingTransport is a stand-in for a real network Transport: it logs
// every call and reports peers as absent. A real embedder replaces this
// with its actual wire client; this example only demonstrates the
// ambient logging convention around the collaborator boundary.
type loggingTransport struct {
	logger *log.Logger
}

func (t loggingTransport) SendMessage(ctx context.Context, msg model.SignedRatchetMessage, opts transport.SendOptions) error {
	t.logger.Printf("transport: send to %s/%s shared=%s", opts.SecretName, opts.DeviceID, opts.SharedMessageIdentifier)
	return fmt.Errorf("sessiond: no network transport configured")
}

func (t loggingTransport) FindConfiguration(ctx context.Context, secretName string) (model.UserConfiguration, bool, error) {
	t.logger.Printf("transport: find configuration for %s", secretName)
	return model.UserConfiguration{}, false, nil
}

func (t loggingTransport) PublishUserConfiguration(ctx context.Context, cfg model.UserConfiguration, recipientDeviceID string) error {
	t.logger.Printf("transport: publish configuration for device %s", recipientDeviceID)
	return nil
}

func (t loggingTransport) FetchOneTimeKeys(ctx context.Context, secretName, deviceID string) (transport.OneTimeKeyPair, error) {
	t.logger.Printf("transport: fetch one-time keys for %s/%s", secretName, deviceID)
	return transport.OneTimeKeyPair{}, fmt.Errorf("sessiond: no network transport configured")
}

func (t loggingTransport) FetchOneTimeKeyIdentities(ctx context.Context, secretName, deviceID string, flavor transport.KeyFlavor) ([]uint32, error) {
	return nil, fmt.Errorf("sessiond: no network transport configured")
}

func (t loggingTransport) UpdateOneTimeKeys(ctx context.Context, secretName, deviceID string, keys []model.SignedOneTimeKey) error {
	t.logger.Printf("transport: update %d curve one-time keys for %s/%s", len(keys), secretName, deviceID)
	return nil
}

func (t loggingTransport) UpdateOneTimePQKemKeys(ctx context.Context, secretName, deviceID string, keys []model.SignedOneTimeKey) error {
	t.logger.Printf("transport: update %d kyber one-time keys for %s/%s", len(keys), secretName, deviceID)
	return nil
}

func (t loggingTransport) BatchDeleteOneTimeKeys(ctx context.Context, secretName, deviceID string, flavor transport.KeyFlavor) error {
	t.logger.Printf("transport: wipe one-time keys flavor=%v for %s/%s", flavor, secretName, deviceID)
	return nil
}

func (t loggingTransport) RotateLongTermKeys(ctx context.Context, secretName, deviceID string, pskData []byte, signedDevice model.SignedDeviceConfiguration) error {
	t.logger.Printf("transport: rotate long-term keys for %s/%s", secretName, deviceID)
	return nil
}

func (t loggingTransport) NotifyIdentityCreation(ctx context.Context, secretName string, keys model.SessionIdentity) error {
	t.logger.Printf("transport: notify identity creation for %s/%s", secretName, keys.DeviceID)
	return nil
}

// loggingReceiver is a stand-in UI delegate: every notification is just
// logged. A real embedder forwards these into its own event bus.
type loggingReceiver struct {
	logger *log.Logger
}

func (r loggingReceiver) CreatedMessage(msg model.EncryptedMessage) {
	r.logger.Printf("receiver: created message shared=%s", msg.SharedID)
}

func (r loggingReceiver) UpdatedMessage(msg model.EncryptedMessage) {
	r.logger.Printf("receiver: updated message shared=%s", msg.SharedID)
}

func (r loggingReceiver) DeletedMessage(id string) {
	r.logger.Printf("receiver: deleted message %s", id)
}

func (r loggingReceiver) CreateContact(contact model.ContactModel) {
	r.logger.Printf("receiver: create contact %s", contact.SecretName)
}

func (r loggingReceiver) UpdateContact(contact model.ContactModel) {
	r.logger.Printf("receiver: update contact %s", contact.SecretName)
}

func (r loggingReceiver) ContactMetadataChanged(secretName string, metadata []byte) {
	r.logger.Printf("receiver: contact metadata changed %s", secretName)
}

func (r loggingReceiver) UpdatedCommunication(comm model.BaseCommunication, members []string) {
	r.logger.Printf("receiver: updated communication %s members=%d", comm.ID, len(members))
}

func (r loggingReceiver) NewDeviceRequest(cfg model.UserDeviceConfiguration) {
	r.logger.Printf("receiver: new device request deviceId=%s name=%q", cfg.DeviceID, cfg.DeviceName)
}
