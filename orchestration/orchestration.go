// Package orchestration implements event orchestration (spec §4.8):
// resolving a recipient tag into the set of target SessionIdentitys,
// enqueuing one writeMessage job per target, persisting local message
// history when a flag isn't a nudgeLocal flag, and de-duplicating inbound
// deliveries.
package orchestration

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/veilcore/sessioncore/model"
	"github.com/veilcore/sessioncore/receiver"
	"github.com/veilcore/sessioncore/sessionerr"
)

// IdentityRefresher is the slice of sessionid.Cache orchestration needs:
// resolving a peer into its fanned-in device list (spec §4.3, reused by
// §4.8's fan-out rules).
type IdentityRefresher interface {
	Refresh(ctx context.Context, peerSecretName, mySecretName, myDeviceID string) ([]model.SessionIdentity, error)
}

// Enqueuer is the slice of jobqueue.Queue orchestration needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, task model.TaskType, backgroundTask bool) (model.JobModel, error)
}

// CommunicationStore is the slice of cache.Cache this package needs for
// BaseCommunication rows.
type CommunicationStore interface {
	FetchAllCommunications(ctx context.Context) (map[string][]byte, error)
	CreateCommunication(ctx context.Context, id string, encrypted []byte) error
	UpdateCommunication(ctx context.Context, id string, encrypted []byte) error
}

// MessageStore is the slice of cache.Cache this package needs for
// EncryptedMessage rows.
type MessageStore interface {
	CreateMessage(ctx context.Context, id, sharedID string, encrypted []byte) error
	FetchMessageBySharedID(ctx context.Context, sharedID string) ([]byte, bool, error)
}

// CommunicationCodec encrypts/decrypts BaseCommunication rows at rest.
type CommunicationCodec interface {
	Seal(comm model.BaseCommunication) ([]byte, error)
	Open(blob []byte) (model.BaseCommunication, error)
}

// MessageCodec encrypts/decrypts EncryptedMessage rows at rest.
type MessageCodec interface {
	Seal(msg model.EncryptedMessage) ([]byte, error)
	Open(blob []byte) (model.EncryptedMessage, error)
}

// Orchestrator is the Event Orchestration component (spec §4.8).
type Orchestrator struct {
	identities IdentityRefresher
	jobs       Enqueuer
	comms      CommunicationStore
	messages   MessageStore
	commCodec  CommunicationCodec
	msgCodec   MessageCodec
	rcv        receiver.Receiver

	mySecretName string
	myDeviceID   string
}

// New builds an Orchestrator for one installation (mySecretName,
// myDeviceID).
func New(identities IdentityRefresher, jobs Enqueuer, comms CommunicationStore, messages MessageStore, commCodec CommunicationCodec, msgCodec MessageCodec, rcv receiver.Receiver, mySecretName, myDeviceID string) *Orchestrator {
	return &Orchestrator{
		identities:   identities,
		jobs:         jobs,
		comms:        comms,
		messages:     messages,
		commCodec:    commCodec,
		msgCodec:     msgCodec,
		rcv:          rcv,
		mySecretName: mySecretName,
		myDeviceID:   myDeviceID,
	}
}

// Send resolves commType/name into its fan-out set (spec §4.8 "Outbound"),
// enqueues one writeMessage job per target identity, and persists local
// history unless msg's flags carry nudgeLocal semantics.
func (o *Orchestrator) Send(ctx context.Context, msg model.CryptoMessage, commType model.CommunicationType, name string) error {
	targets, err := o.resolveTargets(ctx, commType, name)
	if err != nil {
		return err
	}

	sharedID := uuid.NewString()
	for _, target := range targets {
		localID := uuid.NewString()
		_, err := o.jobs.Enqueue(ctx, model.TaskType{
			Kind: model.TaskWriteMessage,
			WriteMessage: model.OutboundTaskMessage{
				Message:           msg,
				RecipientIdentity: target,
				LocalID:           localID,
				SharedID:          sharedID,
			},
		}, false)
		if err != nil {
			return fmt.Errorf("orchestration: enqueue writeMessage for %s/%s: %w", target.SecretName, target.DeviceID, err)
		}
	}

	if msg.MessageFlags.NudgeLocal() {
		return nil
	}
	return o.persistLocal(ctx, msg, commType, name, sharedID)
}

// Deliver routes an inbound decrypted message into the same taxonomy
// (spec §4.8 "Inbound"). Duplicates are detected by sharedMessageId
// alone; senderSecretName and senderDeviceID take no part in that check.
// A message that is not nudgeLocal is persisted and the receiver is
// notified once; a nudgeLocal message is neither persisted nor notified.
func (o *Orchestrator) Deliver(ctx context.Context, msg model.CryptoMessage, senderSecretName, senderDeviceID, sharedMessageID string) error {
	if _, found, err := o.messages.FetchMessageBySharedID(ctx, sharedMessageID); err != nil {
		return fmt.Errorf("orchestration: check duplicate delivery: %w", err)
	} else if found {
		return nil
	}

	if msg.MessageFlags.NudgeLocal() {
		return nil
	}

	commType, name := inboundCommunicationTag(senderSecretName, o.mySecretName)
	return o.persistLocalInbound(ctx, msg, commType, name, senderSecretName, sharedMessageID)
}

// inboundCommunicationTag derives a communication tag for an inbound
// message whose routing metadata is limited to the sender's identity;
// a richer transport would carry the original CommunicationType
// explicitly. Absent that, messages from oneself route as personal
// messages and everything else as a nickname conversation with the
// sender.
func inboundCommunicationTag(senderSecretName, mySecretName string) (model.CommunicationType, string) {
	if senderSecretName == mySecretName {
		return model.CommunicationPersonalMessage, ""
	}
	return model.CommunicationNickname, senderSecretName
}

func (o *Orchestrator) resolveTargets(ctx context.Context, commType model.CommunicationType, name string) ([]model.SessionIdentity, error) {
	switch commType {
	case model.CommunicationPersonalMessage:
		return o.identities.Refresh(ctx, o.mySecretName, o.mySecretName, o.myDeviceID)

	case model.CommunicationNickname:
		return o.identities.Refresh(ctx, name, o.mySecretName, o.myDeviceID)

	case model.CommunicationChannel:
		comm, found, err := o.findCommunication(ctx, model.CommunicationChannel, name)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("orchestration: channel %q: %w", name, sessionerr.ErrCannotFindCommunication)
		}
		return o.resolveMembers(ctx, comm.Members)

	case model.CommunicationBroadcast:
		return nil, nil

	default:
		return nil, fmt.Errorf("orchestration: unknown communication type %d", commType)
	}
}

// resolveMembers fans each channel member's identities in, deduplicated
// by (secretName, deviceId) since every per-member Refresh also returns
// my own sibling devices.
func (o *Orchestrator) resolveMembers(ctx context.Context, members map[string]struct{}) ([]model.SessionIdentity, error) {
	seen := make(map[string]bool)
	var out []model.SessionIdentity
	for member := range members {
		identities, err := o.identities.Refresh(ctx, member, o.mySecretName, o.myDeviceID)
		if err != nil {
			return nil, err
		}
		for _, si := range identities {
			key := si.SecretName + "/" + si.DeviceID
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, si)
		}
	}
	return out, nil
}

func (o *Orchestrator) findCommunication(ctx context.Context, commType model.CommunicationType, name string) (model.BaseCommunication, bool, error) {
	rows, err := o.comms.FetchAllCommunications(ctx)
	if err != nil {
		return model.BaseCommunication{}, false, fmt.Errorf("orchestration: load communications: %w", err)
	}
	for _, blob := range rows {
		comm, err := o.commCodec.Open(blob)
		if err != nil {
			return model.BaseCommunication{}, false, fmt.Errorf("orchestration: decode communication: %w", err)
		}
		if comm.CommunicationType == commType && comm.Name == name {
			return comm, true, nil
		}
	}
	return model.BaseCommunication{}, false, nil
}

// persistLocal creates the local EncryptedMessage row for an outbound
// send and increments (or creates) the owning BaseCommunication (spec
// §4.8 "the local EncryptedMessage is created and the BaseCommunication's
// messageCount is incremented — or the communication record is created
// on first message").
func (o *Orchestrator) persistLocal(ctx context.Context, msg model.CryptoMessage, commType model.CommunicationType, name, sharedID string) error {
	comm, found, err := o.findCommunication(ctx, commType, name)
	if err != nil {
		return err
	}
	if !found {
		comm = model.BaseCommunication{
			ID:                uuid.NewString(),
			Members:           map[string]struct{}{o.mySecretName: {}},
			CommunicationType: commType,
			Name:              name,
			SharedID:          sharedID,
		}
	}
	comm.MessageCount++

	if err := o.saveCommunication(ctx, comm, found); err != nil {
		return err
	}

	return o.createMessageRow(ctx, comm, msg, sharedID, o.mySecretName)
}

func (o *Orchestrator) persistLocalInbound(ctx context.Context, msg model.CryptoMessage, commType model.CommunicationType, name, senderSecretName, sharedMessageID string) error {
	comm, found, err := o.findCommunication(ctx, commType, name)
	if err != nil {
		return err
	}
	if !found {
		comm = model.BaseCommunication{
			ID:                uuid.NewString(),
			Members:           map[string]struct{}{o.mySecretName: {}, senderSecretName: {}},
			CommunicationType: commType,
			Name:              name,
			SharedID:          sharedMessageID,
		}
	}
	comm.MessageCount++

	if err := o.saveCommunication(ctx, comm, found); err != nil {
		return err
	}

	if err := o.createMessageRow(ctx, comm, msg, sharedMessageID, senderSecretName); err != nil {
		return err
	}

	if o.rcv != nil {
		o.rcv.CreatedMessage(model.EncryptedMessage{
			CommunicationID:  comm.ID,
			SharedID:         sharedMessageID,
			Message:          msg,
			SenderSecretName: senderSecretName,
			SendDate:         time.Now(),
			DeliveryState:    model.DeliveryStateReceived,
		})
		o.rcv.UpdatedCommunication(comm, membersSlice(comm.Members))
	}

	return nil
}

func (o *Orchestrator) saveCommunication(ctx context.Context, comm model.BaseCommunication, existed bool) error {
	blob, err := o.commCodec.Seal(comm)
	if err != nil {
		return fmt.Errorf("orchestration: encode communication: %w", err)
	}
	if existed {
		if err := o.comms.UpdateCommunication(ctx, comm.ID, blob); err != nil {
			return fmt.Errorf("orchestration: update communication: %w", err)
		}
		return nil
	}
	if err := o.comms.CreateCommunication(ctx, comm.ID, blob); err != nil {
		return fmt.Errorf("orchestration: create communication: %w", err)
	}
	return nil
}

func (o *Orchestrator) createMessageRow(ctx context.Context, comm model.BaseCommunication, msg model.CryptoMessage, sharedID, senderSecretName string) error {
	row := model.EncryptedMessage{
		ID:               uuid.NewString(),
		CommunicationID:  comm.ID,
		SharedID:         sharedID,
		SequenceNumber:   comm.MessageCount,
		Message:          msg,
		SenderSecretName: senderSecretName,
		SendDate:         time.Now(),
		DeliveryState:    model.DeliveryStateSending,
	}
	blob, err := o.msgCodec.Seal(row)
	if err != nil {
		return fmt.Errorf("orchestration: encode message: %w", err)
	}
	if err := o.messages.CreateMessage(ctx, row.ID, row.SharedID, blob); err != nil {
		return fmt.Errorf("orchestration: store message: %w", err)
	}
	return nil
}

func membersSlice(members map[string]struct{}) []string {
	out := make([]string, 0, len(members))
	for m := range members {
		out = append(out, m)
	}
	return out
}
