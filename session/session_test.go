package session

import (
	"context"
	"sync"
	"testing"

	"github.com/veilcore/sessioncore/model"
	"github.com/veilcore/sessioncore/storage/memory"
	"github.com/veilcore/sessioncore/transport"
)

type fakeTransport struct {
	mu      sync.Mutex
	configs map[string]model.UserConfiguration
	sent    int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{configs: make(map[string]model.UserConfiguration)}
}

func (t *fakeTransport) SendMessage(ctx context.Context, msg model.SignedRatchetMessage, opts transport.SendOptions) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent++
	return nil
}

func (t *fakeTransport) FindConfiguration(ctx context.Context, secretName string) (model.UserConfiguration, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cfg, ok := t.configs[secretName]
	return cfg, ok, nil
}

func (t *fakeTransport) PublishUserConfiguration(ctx context.Context, cfg model.UserConfiguration, recipientDeviceID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.configs[recipientDeviceID] = cfg
	return nil
}

func (t *fakeTransport) FetchOneTimeKeys(ctx context.Context, secretName, deviceID string) (transport.OneTimeKeyPair, error) {
	return transport.OneTimeKeyPair{}, nil
}

func (t *fakeTransport) FetchOneTimeKeyIdentities(ctx context.Context, secretName, deviceID string, flavor transport.KeyFlavor) ([]uint32, error) {
	return nil, nil
}

func (t *fakeTransport) UpdateOneTimeKeys(ctx context.Context, secretName, deviceID string, keys []model.SignedOneTimeKey) error {
	return nil
}

func (t *fakeTransport) UpdateOneTimePQKemKeys(ctx context.Context, secretName, deviceID string, keys []model.SignedOneTimeKey) error {
	return nil
}

func (t *fakeTransport) BatchDeleteOneTimeKeys(ctx context.Context, secretName, deviceID string, flavor transport.KeyFlavor) error {
	return nil
}

func (t *fakeTransport) RotateLongTermKeys(ctx context.Context, secretName, deviceID string, pskData []byte, signedDevice model.SignedDeviceConfiguration) error {
	return nil
}

func (t *fakeTransport) NotifyIdentityCreation(ctx context.Context, secretName string, keys model.SessionIdentity) error {
	return nil
}

type fakeReceiver struct {
	mu      sync.Mutex
	created int
}

func (r *fakeReceiver) CreatedMessage(msg model.EncryptedMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created++
}
func (r *fakeReceiver) UpdatedMessage(msg model.EncryptedMessage)                     {}
func (r *fakeReceiver) DeletedMessage(id string)                                      {}
func (r *fakeReceiver) CreateContact(contact model.ContactModel)                      {}
func (r *fakeReceiver) UpdateContact(contact model.ContactModel)                      {}
func (r *fakeReceiver) ContactMetadataChanged(secretName string, metadata []byte)     {}
func (r *fakeReceiver) UpdatedCommunication(comm model.BaseCommunication, n []string) {}
func (r *fakeReceiver) NewDeviceRequest(cfg model.UserDeviceConfiguration)            {}

func newTestSession(t *testing.T) (*Session, *fakeTransport) {
	t.Helper()
	tr := newFakeTransport()
	s, err := New(Config{
		Store:     memory.New(),
		Transport: tr,
		Receiver:  &fakeReceiver{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, tr
}

func TestNewRejectsMissingCollaborators(t *testing.T) {
	tr := newFakeTransport()
	rcv := &fakeReceiver{}
	store := memory.New()

	if _, err := New(Config{Transport: tr, Receiver: rcv}); err == nil {
		t.Fatal("expected error for missing store")
	}
	if _, err := New(Config{Store: store, Receiver: rcv}); err == nil {
		t.Fatal("expected error for missing transport")
	}
	if _, err := New(Config{Store: store, Transport: tr}); err == nil {
		t.Fatal("expected error for missing receiver")
	}
}

func TestStartSessionWithoutCreateFails(t *testing.T) {
	s, _ := newTestSession(t)
	err := s.StartSession(context.Background(), []byte("pw"))
	if err == nil {
		t.Fatal("expected error starting an installation that was never created")
	}
}

func TestCreateThenStartThenSend(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSession(t)

	if err := s.CreateSession(ctx, "alice", "phone", []byte("hunter2")); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if err := s.StartSession(ctx, []byte("hunter2")); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	defer s.Shutdown()

	if err := s.Send(ctx, model.CryptoMessage{Body: []byte("hi")}, model.CommunicationBroadcast, ""); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestStartSessionRejectsWrongPassword(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSession(t)

	if err := s.CreateSession(ctx, "alice", "phone", []byte("hunter2")); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if err := s.StartSession(ctx, []byte("wrong-password")); err == nil {
		t.Fatal("expected StartSession to reject the wrong password")
	}
}

func TestSendBeforeStartIsRejected(t *testing.T) {
	s, _ := newTestSession(t)
	err := s.Send(context.Background(), model.CryptoMessage{Body: []byte("hi")}, model.CommunicationBroadcast, "")
	if err == nil {
		t.Fatal("expected Send before StartSession to fail")
	}
}

func TestChangePasswordThenRestart(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSession(t)

	if err := s.CreateSession(ctx, "alice", "phone", []byte("old-pw")); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := s.StartSession(ctx, []byte("old-pw")); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := s.ChangePassword(ctx, []byte("old-pw"), []byte("new-pw")); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	s.Shutdown()

	if err := s.StartSession(ctx, []byte("old-pw")); err == nil {
		t.Fatal("expected old password to be rejected after change")
	}
	if err := s.StartSession(ctx, []byte("new-pw")); err != nil {
		t.Fatalf("StartSession with new password: %v", err)
	}
	s.Shutdown()
}

func TestShutdownIsIdempotentWithoutStart(t *testing.T) {
	s, _ := newTestSession(t)
	s.Shutdown()
	s.Shutdown()
}
