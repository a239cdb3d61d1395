package domain

import (
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleCPO   Role = "CPO"
	RoleEMSP  Role = "EMSP"
	RoleHub   Role = "HUB"
	RoleNAP   Role = "NAP"
	RoleNSP   Role = "NSP"
	RoleSCSP  Role = "SCSP"
	RoleOther Role = "OTHER"
)

// PartyIdentity identifies one logical OCPI participant in one role.
// A single deployment may host several identities side by side.
type PartyIdentity struct {
	CountryCode string `json:"country_code"`
	PartyID     string `json:"party_id"`
	Role        Role   `json:"role"`
}

// Key returns the canonical map key for this identity.
func (p PartyIdentity) Key() string {
	return strings.ToUpper(p.CountryCode) + "*" + strings.ToUpper(p.PartyID) + "*" + string(p.Role)
}

func (p PartyIdentity) String() string {
	return p.Key()
}

func (p PartyIdentity) Validate() error {
	if len(p.CountryCode) != 2 {
		return fmt.Errorf("party identity: country code must be 2 characters, got %q", p.CountryCode)
	}
	if len(p.PartyID) != 3 {
		return fmt.Errorf("party identity: party id must be 3 characters, got %q", p.PartyID)
	}
	if p.Role == "" {
		return fmt.Errorf("party identity: role is required")
	}
	return nil
}

type BusinessDetails struct {
	Name    string `json:"name"`
	Website string `json:"website,omitempty"`
	Logo    string `json:"logo,omitempty"`
}

type ConnectionStatus string

const (
	ConnectionOnline      ConnectionStatus = "ONLINE"
	ConnectionOffline     ConnectionStatus = "OFFLINE"
	ConnectionUnspecified ConnectionStatus = "UNSPECIFIED"
)

type PartyStatus string

const (
	PartyEnabled  PartyStatus = "ENABLED"
	PartyDisabled PartyStatus = "DISABLED"
)

// TOTPConfig holds the per-direction one-time-password settings a peer may
// require on top of the static access token.
type TOTPConfig struct {
	Secret    string `json:"secret"`
	Digits    int    `json:"digits"`
	PeriodSec int    `json:"period_sec"`
	Algorithm string `json:"algorithm"`
}

// RemoteParty is one registered relationship between the local system and one
// external party, for one protocol version.
type RemoteParty struct {
	Identity        PartyIdentity   `json:"identity"`
	BusinessDetails BusinessDetails `json:"business_details"`

	// LocalToken is what the peer must present to us; RemoteToken is what we
	// present to the peer.
	LocalToken  AccessToken `json:"local_token"`
	RemoteToken string      `json:"remote_token"`

	LocalTOTP  *TOTPConfig `json:"local_totp,omitempty"`
	RemoteTOTP *TOTPConfig `json:"remote_totp,omitempty"`

	VersionsURL      string      `json:"versions_url"`
	RemoteVersionIDs []VersionID `json:"remote_version_ids"`
	SelectedVersion  VersionID   `json:"selected_version"`

	ConnectionStatus ConnectionStatus `json:"connection_status"`
	Status           PartyStatus      `json:"status"`

	// ClientCertCN optionally pins the peer to a client certificate subject
	// when the fronting transport does mTLS.
	ClientCertCN string `json:"client_cert_cn,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the registry key for this relationship, unique per
// (remote identity, protocol version).
func (rp *RemoteParty) Key() string {
	return RemotePartyKey(rp.Identity, rp.SelectedVersion)
}

func RemotePartyKey(identity PartyIdentity, version VersionID) string {
	return identity.Key() + "@" + string(version)
}

// Credentials is the payload exchanged during the registration handshake.
type Credentials struct {
	Token string            `json:"token"`
	URL   string            `json:"url"`
	Roles []CredentialsRole `json:"roles"`
}

type CredentialsRole struct {
	Role            Role            `json:"role"`
	CountryCode     string          `json:"country_code"`
	PartyID         string          `json:"party_id"`
	BusinessDetails BusinessDetails `json:"business_details"`
}

// Validate checks the structural requirements of a credentials payload. A
// payload failing here aborts the whole registration.
func (c *Credentials) Validate() error {
	if c.Token == "" {
		return fmt.Errorf("credentials: token is required")
	}
	if c.URL == "" {
		return fmt.Errorf("credentials: versions url is required")
	}
	if len(c.Roles) == 0 {
		return fmt.Errorf("credentials: at least one role is required")
	}
	for i, r := range c.Roles {
		identity := PartyIdentity{CountryCode: r.CountryCode, PartyID: r.PartyID, Role: r.Role}
		if err := identity.Validate(); err != nil {
			return fmt.Errorf("credentials: role %d: %w", i, err)
		}
	}
	return nil
}

// PrimaryIdentity returns the identity of the first role in the payload,
// which OCPI treats as the owning party of the credentials exchange.
func (c *Credentials) PrimaryIdentity() PartyIdentity {
	r := c.Roles[0]
	return PartyIdentity{CountryCode: r.CountryCode, PartyID: r.PartyID, Role: r.Role}
}
