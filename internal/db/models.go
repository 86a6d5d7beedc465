// Package db defines persistence models for consentdesk.
package db

// Role identifies what kind of principal a credential belongs to.
type Role string

const (
	RoleProvider Role = "provider"
	RoleSeeker   Role = "seeker"
	RoleAdmin    Role = "admin"
)

// Credential is a login identity. The password hash is opaque to this
// package; hashing lives in internal/auth.
type Credential struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         Role
	CreatedAt    int64
}

// Provider is the profile of a data owner, one-to-one with a credential.
type Provider struct {
	ID           int64
	CredentialID int64
	FirstName    string
	MiddleName   string
	LastName     string
	Email        string
	MobileNo     string
	PublicKey    string
	IsActive     bool
	CreatedAt    int64
}

// Seeker is the profile of a data consumer, one-to-one with a credential.
type Seeker struct {
	ID             int64
	CredentialID   int64
	Name           string
	OrgType        string
	RegistrationNo string
	Email          string
	ContactNo      string
	Address        string
	PublicKey      string
	IsActive       bool
	CreatedAt      int64
}

// Admin is the profile of an administrator account.
type Admin struct {
	ID           int64
	CredentialID int64
	Name         string
	Email        string
	IsActive     bool
	CreatedAt    int64
}

// BacklogStatus is the lifecycle of a signup awaiting an admin decision.
type BacklogStatus string

const (
	BacklogPending  BacklogStatus = "pending"
	BacklogApproved BacklogStatus = "approved"
	BacklogRejected BacklogStatus = "rejected"
)

// ProviderBacklog stages a provider signup until an admin decides it.
// Rows are never deleted; the decision flips Status exactly once.
type ProviderBacklog struct {
	ID           int64
	Username     string
	PasswordHash string
	FirstName    string
	MiddleName   string
	LastName     string
	Email        string
	MobileNo     string
	PublicKey    string
	Status       BacklogStatus
	CreatedAt    int64
	DecidedAt    *int64
}

// SeekerBacklog stages a seeker signup until an admin decides it.
type SeekerBacklog struct {
	ID             int64
	Username       string
	PasswordHash   string
	Name           string
	OrgType        string
	RegistrationNo string
	Email          string
	ContactNo      string
	Address        string
	PublicKey      string
	Status         BacklogStatus
	CreatedAt      int64
	DecidedAt      *int64
}

// ItemType distinguishes inline text payloads from blob-backed files.
type ItemType string

const (
	ItemText ItemType = "text"
	ItemFile ItemType = "file"
)

// DataItem is an encrypted payload owned by a provider. Text items carry
// the ciphertext inline; file items reference the blob store. WrappedKey is
// the item's symmetric key wrapped under the system public key, or nil for
// items stored unencrypted.
type DataItem struct {
	ID         int64
	ProviderID int64
	Name       string
	Type       ItemType
	Ciphertext []byte
	BlobRef    string
	WrappedKey []byte
	IsActive   bool
	CreatedAt  int64
}

// ConsentStatus is the stored consent state. There is no stored expired or
// exhausted state; those are evaluated lazily at access time.
type ConsentStatus string

const (
	ConsentPending  ConsentStatus = "pending"
	ConsentApproved ConsentStatus = "approved"
	ConsentRejected ConsentStatus = "rejected"
)

// Consent gates one (seeker, data item) access relationship.
// WrappedKeyForSeeker is set only on approval of an encrypted item.
// Nil ExpiresAt means no expiry; nil MaxAccessCount means unlimited.
type Consent struct {
	ID                  int64
	DataItemID          int64
	SeekerID            int64
	ProviderID          int64
	Status              ConsentStatus
	WrappedKeyForSeeker []byte
	RequestedAt         int64
	ApprovedAt          *int64
	ExpiresAt           *int64
	AccessCount         int64
	MaxAccessCount      *int64
}

// HistoryEntry is one immutable row of the consent audit trail.
// ActorID is nil for system actions.
type HistoryEntry struct {
	ID        string
	ConsentID int64
	Action    string
	ActorID   *int64
	ActorRole string
	Details   string
	CreatedAt int64
}
