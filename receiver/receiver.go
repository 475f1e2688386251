// Package receiver declares the UI event-receiver collaborator (spec §6).
// Every notification is fire-and-forget from the core's perspective; the
// delegate is expected to return quickly or hand off to its own queue, the
// way the teacher's Handler interface never blocks the mux loop.
package receiver

import "github.com/veilcore/sessioncore/model"

// Receiver is notified of state changes the core makes on the embedder's
// behalf. A nil Receiver is a configuration error (sessionerr.ErrReceiverDelegateNotSet).
type Receiver interface {
	CreatedMessage(msg model.EncryptedMessage)
	UpdatedMessage(msg model.EncryptedMessage)
	DeletedMessage(id string)

	CreateContact(contact model.ContactModel)
	UpdateContact(contact model.ContactModel)
	ContactMetadataChanged(secretName string, metadata []byte)

	UpdatedCommunication(comm model.BaseCommunication, members []string)

	// NewDeviceRequest fires when a device-linking flow surfaces a
	// candidate configuration for operator approval.
	NewDeviceRequest(cfg model.UserDeviceConfiguration)
}
