package registry

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/seu-repo/ocpi-hub/internal/domain"
)

type partyVersions struct {
	mu      sync.RWMutex
	refs    map[domain.VersionID]string
	details map[domain.VersionID]*domain.VersionDetails
}

// VersionRegistry tracks, per party, which protocol versions it supports and
// where each version's module endpoints live.
type VersionRegistry struct {
	parties sync.Map // party key -> *partyVersions
	log     *zap.Logger
}

func NewVersionRegistry(log *zap.Logger) *VersionRegistry {
	return &VersionRegistry{log: log}
}

func (r *VersionRegistry) partyFor(identity domain.PartyIdentity) *partyVersions {
	v, _ := r.parties.LoadOrStore(identity.Key(), &partyVersions{
		refs:    make(map[domain.VersionID]string),
		details: make(map[domain.VersionID]*domain.VersionDetails),
	})
	return v.(*partyVersions)
}

// PublishVersions records the discovery list of a party.
func (r *VersionRegistry) PublishVersions(identity domain.PartyIdentity, versions map[domain.VersionID]string) {
	pv := r.partyFor(identity)
	pv.mu.Lock()
	for id, url := range versions {
		pv.refs[id] = url
	}
	pv.mu.Unlock()
}

// PublishVersionDetails records the module endpoints for one version of a
// party. Records with duplicate module identifiers are rejected.
func (r *VersionRegistry) PublishVersionDetails(identity domain.PartyIdentity, version domain.VersionID, details *domain.VersionDetails) error {
	if err := details.Validate(); err != nil {
		return fmt.Errorf("version registry: %w", err)
	}
	pv := r.partyFor(identity)
	pv.mu.Lock()
	pv.details[version] = details
	pv.mu.Unlock()

	r.log.Debug("Published version details",
		zap.String("party", identity.Key()),
		zap.String("version", string(version)),
		zap.Int("endpoints", len(details.Endpoints)),
	)
	return nil
}

// Resolve returns the module endpoints of a party for one version, or
// ErrNotFound when that version was never discovered.
func (r *VersionRegistry) Resolve(identity domain.PartyIdentity, version domain.VersionID) (*domain.VersionDetails, error) {
	v, ok := r.parties.Load(identity.Key())
	if !ok {
		return nil, fmt.Errorf("version registry: party %s: %w", identity.Key(), ErrNotFound)
	}
	pv := v.(*partyVersions)
	pv.mu.RLock()
	defer pv.mu.RUnlock()
	details, ok := pv.details[version]
	if !ok {
		return nil, fmt.Errorf("version registry: party %s version %s: %w", identity.Key(), version, ErrNotFound)
	}
	return details, nil
}

// SupportedVersions returns the version ids a party published, unordered.
func (r *VersionRegistry) SupportedVersions(identity domain.PartyIdentity) []domain.VersionID {
	v, ok := r.parties.Load(identity.Key())
	if !ok {
		return nil
	}
	pv := v.(*partyVersions)
	pv.mu.RLock()
	defer pv.mu.RUnlock()
	ids := make([]domain.VersionID, 0, len(pv.refs))
	for id := range pv.refs {
		ids = append(ids, id)
	}
	return ids
}

// DiscoveryURL returns the version-details URL a party published for one
// version id.
func (r *VersionRegistry) DiscoveryURL(identity domain.PartyIdentity, version domain.VersionID) (string, error) {
	v, ok := r.parties.Load(identity.Key())
	if !ok {
		return "", fmt.Errorf("version registry: party %s: %w", identity.Key(), ErrNotFound)
	}
	pv := v.(*partyVersions)
	pv.mu.RLock()
	defer pv.mu.RUnlock()
	url, ok := pv.refs[version]
	if !ok {
		return "", fmt.Errorf("version registry: party %s version %s: %w", identity.Key(), version, ErrNotFound)
	}
	return url, nil
}

// Forget drops everything recorded for a party.
func (r *VersionRegistry) Forget(identity domain.PartyIdentity) {
	r.parties.Delete(identity.Key())
}

// NegotiateVersion selects the highest mutually supported version by the
// version ids' natural ordering. It is deterministic and yields the same
// outcome regardless of which side initiates. An empty intersection fails
// with ErrVersionMismatch.
func NegotiateVersion(ours, theirs []domain.VersionID) (domain.VersionID, error) {
	mine := make(map[domain.VersionID]bool, len(ours))
	for _, v := range ours {
		mine[v] = true
	}

	var best domain.VersionID
	found := false
	for _, v := range theirs {
		if !mine[v] {
			continue
		}
		if !found || domain.CompareVersions(v, best) > 0 {
			best = v
			found = true
		}
	}
	if !found {
		return "", ErrVersionMismatch
	}
	return best, nil
}
