// Package account implements the promotion pipeline: signups are staged
// in a backlog, and an administrator's decision turns an entry into a
// live credential plus profile, exactly once.
package account

import (
	"context"
	"log/slog"
	"time"

	"consentdesk/internal/cerr"
	"consentdesk/internal/db"
	"consentdesk/internal/keys"
	"consentdesk/internal/validate"
)

// PasswordHasher is the hashing collaborator; the pipeline never sees
// plaintext past Submit.
type PasswordHasher interface {
	Hash(password string) (string, error)
}

// ProviderSignup is the input to SubmitProvider.
type ProviderSignup struct {
	Username   string
	Password   string
	FirstName  string
	MiddleName string
	LastName   string
	Email      string
	MobileNo   string
	PublicKey  string
}

// SeekerSignup is the input to SubmitSeeker.
type SeekerSignup struct {
	Username       string
	Password       string
	Name           string
	OrgType        string
	RegistrationNo string
	Email          string
	ContactNo      string
	Address        string
	PublicKey      string
}

// Pipeline stages signups and promotes them on an admin's decision.
type Pipeline struct {
	store  *db.DB
	hasher PasswordHasher
	log    *slog.Logger
	now    func() time.Time
}

func NewPipeline(store *db.DB, hasher PasswordHasher, log *slog.Logger) *Pipeline {
	return &Pipeline{store: store, hasher: hasher, log: log, now: time.Now}
}

// SubmitProvider stages a provider signup as a pending backlog entry.
// Uniqueness is probed here and re-checked at decision time; only the
// decision-time check is authoritative.
func (p *Pipeline) SubmitProvider(ctx context.Context, s ProviderSignup) (int64, error) {
	if err := validateCommon(s.Username, s.Password, s.Email, s.PublicKey); err != nil {
		return 0, err
	}
	if s.FirstName == "" || s.LastName == "" {
		return 0, cerr.Validation("first and last name are required")
	}
	if err := p.checkUnique(ctx, s.Username, s.Email, db.RoleProvider); err != nil {
		return 0, err
	}
	hash, err := p.hasher.Hash(s.Password)
	if err != nil {
		return 0, err
	}
	id, err := p.store.CreateProviderBacklog(ctx, db.ProviderBacklog{
		Username:     s.Username,
		PasswordHash: hash,
		FirstName:    s.FirstName,
		MiddleName:   s.MiddleName,
		LastName:     s.LastName,
		Email:        s.Email,
		MobileNo:     s.MobileNo,
		PublicKey:    s.PublicKey,
	})
	if err != nil {
		return 0, err
	}
	p.log.Info("provider signup staged", "backlog_id", id, "username", s.Username)
	return id, nil
}

// SubmitSeeker stages a seeker signup as a pending backlog entry.
func (p *Pipeline) SubmitSeeker(ctx context.Context, s SeekerSignup) (int64, error) {
	if err := validateCommon(s.Username, s.Password, s.Email, s.PublicKey); err != nil {
		return 0, err
	}
	if s.Name == "" {
		return 0, cerr.Validation("organization name is required")
	}
	if err := p.checkUnique(ctx, s.Username, s.Email, db.RoleSeeker); err != nil {
		return 0, err
	}
	hash, err := p.hasher.Hash(s.Password)
	if err != nil {
		return 0, err
	}
	id, err := p.store.CreateSeekerBacklog(ctx, db.SeekerBacklog{
		Username:       s.Username,
		PasswordHash:   hash,
		Name:           s.Name,
		OrgType:        s.OrgType,
		RegistrationNo: s.RegistrationNo,
		Email:          s.Email,
		ContactNo:      s.ContactNo,
		Address:        s.Address,
		PublicKey:      s.PublicKey,
	})
	if err != nil {
		return 0, err
	}
	p.log.Info("seeker signup staged", "backlog_id", id, "username", s.Username)
	return id, nil
}

// DecideProvider settles a pending provider backlog entry. Approval
// re-checks uniqueness against the live tables: an entry staged before a
// collision existed is flipped to rejected instead of promoted. The
// credential and profile are created in one transaction; only the backlog
// flip after that commit can leave the stores inconsistent, and that case
// is surfaced as such.
func (p *Pipeline) DecideProvider(ctx context.Context, backlogID int64, approve bool) error {
	entry, ok, err := p.store.GetProviderBacklogByID(ctx, backlogID)
	if err != nil {
		return err
	}
	if !ok {
		return cerr.NotFound("backlog entry not found")
	}
	if entry.Status != db.BacklogPending {
		return cerr.Conflict("backlog entry already decided")
	}

	if !approve {
		return p.flipOrConflict(ctx, p.store.DecideProviderBacklog, backlogID, db.BacklogRejected)
	}

	if err := p.recheckLive(ctx, entry.Username, entry.Email, db.RoleProvider); err != nil {
		if flipErr := p.flipOrConflict(ctx, p.store.DecideProviderBacklog, backlogID, db.BacklogRejected); flipErr != nil {
			return flipErr
		}
		p.log.Warn("provider promotion rejected on collision", "backlog_id", backlogID, "username", entry.Username)
		return err
	}

	credID, providerID, err := p.store.CreateProviderWithCredential(ctx, entry.Username, entry.PasswordHash, db.Provider{
		FirstName:  entry.FirstName,
		MiddleName: entry.MiddleName,
		LastName:   entry.LastName,
		Email:      entry.Email,
		MobileNo:   entry.MobileNo,
		PublicKey:  entry.PublicKey,
	})
	if err != nil {
		return err
	}

	if err := p.flipOrConflict(ctx, p.store.DecideProviderBacklog, backlogID, db.BacklogApproved); err != nil {
		p.log.Error("backlog flip failed after promotion", "backlog_id", backlogID, "credential_id", credID, "error", err)
		return cerr.Inconsistent("provider promoted but backlog entry not settled")
	}
	p.log.Info("provider promoted", "backlog_id", backlogID, "credential_id", credID, "provider_id", providerID)
	return nil
}

// DecideSeeker is the seeker counterpart of DecideProvider.
func (p *Pipeline) DecideSeeker(ctx context.Context, backlogID int64, approve bool) error {
	entry, ok, err := p.store.GetSeekerBacklogByID(ctx, backlogID)
	if err != nil {
		return err
	}
	if !ok {
		return cerr.NotFound("backlog entry not found")
	}
	if entry.Status != db.BacklogPending {
		return cerr.Conflict("backlog entry already decided")
	}

	if !approve {
		return p.flipOrConflict(ctx, p.store.DecideSeekerBacklog, backlogID, db.BacklogRejected)
	}

	if err := p.recheckLive(ctx, entry.Username, entry.Email, db.RoleSeeker); err != nil {
		if flipErr := p.flipOrConflict(ctx, p.store.DecideSeekerBacklog, backlogID, db.BacklogRejected); flipErr != nil {
			return flipErr
		}
		p.log.Warn("seeker promotion rejected on collision", "backlog_id", backlogID, "username", entry.Username)
		return err
	}

	credID, seekerID, err := p.store.CreateSeekerWithCredential(ctx, entry.Username, entry.PasswordHash, db.Seeker{
		Name:           entry.Name,
		OrgType:        entry.OrgType,
		RegistrationNo: entry.RegistrationNo,
		Email:          entry.Email,
		ContactNo:      entry.ContactNo,
		Address:        entry.Address,
		PublicKey:      entry.PublicKey,
	})
	if err != nil {
		return err
	}

	if err := p.flipOrConflict(ctx, p.store.DecideSeekerBacklog, backlogID, db.BacklogApproved); err != nil {
		p.log.Error("backlog flip failed after promotion", "backlog_id", backlogID, "credential_id", credID, "error", err)
		return cerr.Inconsistent("seeker promoted but backlog entry not settled")
	}
	p.log.Info("seeker promoted", "backlog_id", backlogID, "credential_id", credID, "seeker_id", seekerID)
	return nil
}

// SetActiveStatus toggles a profile's active flag. It deliberately does
// not touch the profile's data items or outstanding consents.
func (p *Pipeline) SetActiveStatus(ctx context.Context, role db.Role, profileID int64, active bool) error {
	var done bool
	var err error
	switch role {
	case db.RoleProvider:
		done, err = p.store.SetProviderActive(ctx, profileID, active)
	case db.RoleSeeker:
		done, err = p.store.SetSeekerActive(ctx, profileID, active)
	default:
		return cerr.Validation("role must be provider or seeker")
	}
	if err != nil {
		return err
	}
	if !done {
		return cerr.NotFound("profile not found")
	}
	p.log.Info("active status changed", "role", role, "profile_id", profileID, "active", active)
	return nil
}

func (p *Pipeline) flipOrConflict(ctx context.Context, decide func(context.Context, int64, db.BacklogStatus) (bool, error), id int64, to db.BacklogStatus) error {
	done, err := decide(ctx, id, to)
	if err != nil {
		return err
	}
	if !done {
		return cerr.Conflict("backlog entry already decided")
	}
	return nil
}

// checkUnique is the submit-time probe across credentials, both backlog
// tables, and the matching email scopes.
func (p *Pipeline) checkUnique(ctx context.Context, username, email string, role db.Role) error {
	taken, err := p.store.UsernameExists(ctx, username)
	if err != nil {
		return err
	}
	if taken {
		return cerr.Conflict("username %q is taken", username)
	}
	return p.checkEmail(ctx, email, role, true)
}

// recheckLive re-probes uniqueness at decision time against the live
// tables only; the entry being decided is itself in the backlog, so the
// backlog scope is excluded here.
func (p *Pipeline) recheckLive(ctx context.Context, username, email string, role db.Role) error {
	if _, ok, err := p.store.GetCredentialByUsername(ctx, username); err != nil {
		return err
	} else if ok {
		return cerr.Conflict("username %q is taken", username)
	}
	return p.checkEmail(ctx, email, role, false)
}

func (p *Pipeline) checkEmail(ctx context.Context, email string, role db.Role, includeBacklog bool) error {
	var taken bool
	var err error
	switch role {
	case db.RoleProvider:
		taken, err = p.store.ProviderEmailExists(ctx, email)
		if err == nil && !taken && includeBacklog {
			taken, err = p.store.ProviderBacklogEmailExists(ctx, email)
		}
	case db.RoleSeeker:
		taken, err = p.store.SeekerEmailExists(ctx, email)
		if err == nil && !taken && includeBacklog {
			taken, err = p.store.SeekerBacklogEmailExists(ctx, email)
		}
	}
	if err != nil {
		return err
	}
	if taken {
		return cerr.Conflict("email %q is taken", email)
	}
	return nil
}

func validateCommon(username, password, email, publicKey string) error {
	if err := validate.Username(username); err != nil {
		return cerr.Validation("%s", err)
	}
	if err := validate.Password(password); err != nil {
		return cerr.Validation("%s", err)
	}
	if err := validate.Email(email); err != nil {
		return cerr.Validation("%s", err)
	}
	if publicKey != "" {
		if _, err := keys.ParsePublicKey(publicKey); err != nil {
			return cerr.Validation("public key: %s", err)
		}
	}
	return nil
}
