package session

import (
	"testing"

	"github.com/veilcore/sessioncore/model"
	"github.com/veilcore/sessioncore/vault"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := vault.NewDatabaseKey()
	if err != nil {
		t.Fatalf("NewDatabaseKey: %v", err)
	}
	return key
}

func TestIdentityCodecRoundTrip(t *testing.T) {
	key := testKey(t)
	c := identityCodec{key: key}
	want := model.SessionIdentity{SecretName: "alice", DeviceID: "phone"}

	blob, err := c.Seal(want)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	got, err := c.Open(blob)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got.SecretName != want.SecretName || got.DeviceID != want.DeviceID {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestOpenJSONRejectsWrongKey(t *testing.T) {
	c := identityCodec{key: testKey(t)}
	blob, err := c.Seal(model.SessionIdentity{SecretName: "alice", DeviceID: "phone"})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	wrong := identityCodec{key: testKey(t)}
	if _, err := wrong.Open(blob); err == nil {
		t.Fatal("expected Open under the wrong key to fail")
	}
}

func TestJobCodecRoundTrip(t *testing.T) {
	key := testKey(t)
	c := jobCodec{key: key}
	want := model.JobModel{ID: "job-1"}

	blob, err := c.Seal(want)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	got, err := c.Open(blob)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got.ID != want.ID {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestCommunicationCodecRoundTrip(t *testing.T) {
	key := testKey(t)
	c := communicationCodec{key: key}
	want := model.BaseCommunication{ID: "comm-1"}

	blob, err := c.Seal(want)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	got, err := c.Open(blob)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got.ID != want.ID {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestMessageCodecRoundTrip(t *testing.T) {
	key := testKey(t)
	c := messageCodec{key: key}
	want := model.EncryptedMessage{SharedID: "shared-1"}

	blob, err := c.Seal(want)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	got, err := c.Open(blob)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got.SharedID != want.SharedID {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestContactCodecRoundTrip(t *testing.T) {
	key := testKey(t)
	c := contactCodec{key: key}
	want := model.ContactModel{SecretName: "alice"}

	blob, err := c.Seal(want)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	got, err := c.Open(blob)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got.SecretName != want.SecretName {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, want)
	}
}
