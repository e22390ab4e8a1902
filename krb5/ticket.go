// SPDX-License-Identifier: Apache-2.0

package krb5

import (
	"time"

	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/golang-auth/go-gssapi-krb5"
)

// ServiceCredential is a ticket for a service along with its session key.
type ServiceCredential struct {
	Client     *Name
	Server     *Name
	Ticket     messages.Ticket
	SessionKey types.EncryptionKey
	EndTime    time.Time // zero if not known
}

// AcceptedRequest is the outcome of validating an initiator's request.
type AcceptedRequest struct {
	Ticket         messages.Ticket
	Client         *Name
	Server         *Name
	Authenticator  types.Authenticator
	MutualRequired bool
	EndTime        time.Time
}

// TicketService performs the Kerberos protocol exchanges on behalf of the
// mechanism.  Implementations update the AuthContext as they go: keys, sequence
// numbers and the authenticator time.
type TicketService interface {
	// AcquireServiceCredential obtains a ticket for target using the initiator
	// credential.
	AcquireServiceCredential(cred *Credential, target *Name, lifetime time.Duration) (*ServiceCredential, error)

	// BuildAuthenticator creates an AP-REQ for the service credential carrying the
	// supplied checksum, and records the local sequence number and authenticator time.
	BuildAuthenticator(ac *AuthContext, sc *ServiceCredential, cksum types.Checksum, flags gssapi.ContextFlag) ([]byte, error)

	// ReadAndValidateRequest decodes and verifies an AP-REQ using the acceptor
	// keys.  acceptor may be nil to allow any principal in the keytab.
	ReadAndValidateRequest(ac *AuthContext, req []byte, acceptor *Name, keys *keytab.Keytab) (*AcceptedRequest, error)

	// BuildReply creates the AP-REP for a validated request.
	BuildReply(ac *AuthContext) ([]byte, error)

	// ValidateReply checks the acceptor's AP-REP and records its sequence number
	// and subkey.
	ValidateReply(ac *AuthContext, rep []byte) error

	// GenerateSubkey returns a fresh key of the same type as the session key.
	GenerateSubkey(sessionKey types.EncryptionKey) (types.EncryptionKey, error)

	// RequestForwardedTicket returns a KRB-CRED holding a forwardable ticket
	// granting ticket for delegation to target.
	RequestForwardedTicket(ac *AuthContext, cred *Credential, target *Name) ([]byte, error)

	// ImportForwardedTicket stores the credentials in a KRB-CRED into cache and
	// returns their client principal.
	ImportForwardedTicket(ac *AuthContext, cache *MemoryCCache, data []byte) (*Name, error)
}
