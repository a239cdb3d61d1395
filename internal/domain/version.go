package domain

import (
	"fmt"

	masterminds "github.com/Masterminds/semver/v3"
)

// VersionID is an OCPI protocol version identifier. The values are not strict
// semver ("2.2") but parse leniently for ordering purposes.
type VersionID string

const (
	Version211 VersionID = "2.1.1"
	Version22  VersionID = "2.2"
	Version221 VersionID = "2.2.1"
	Version23  VersionID = "2.3"
	Version30  VersionID = "3.0"
)

// AllVersions lists every protocol version this codebase knows about, in
// ascending order.
var AllVersions = []VersionID{Version211, Version22, Version221, Version23, Version30}

// CompareVersions returns -1, 0 or 1 ordering a before/equal/after b by the
// version ids' natural (numeric) ordering. Unparseable ids sort first.
func CompareVersions(a, b VersionID) int {
	va, errA := masterminds.NewVersion(string(a))
	vb, errB := masterminds.NewVersion(string(b))
	if errA != nil || errB != nil {
		switch {
		case errA != nil && errB != nil:
			return 0
		case errA != nil:
			return -1
		default:
			return 1
		}
	}
	return va.Compare(vb)
}

type ModuleID string

const (
	ModuleCredentials      ModuleID = "credentials"
	ModuleLocations        ModuleID = "locations"
	ModuleTariffs          ModuleID = "tariffs"
	ModuleSessions         ModuleID = "sessions"
	ModuleCDRs             ModuleID = "cdrs"
	ModuleCommands         ModuleID = "commands"
	ModuleTokens           ModuleID = "tokens"
	ModuleChargingProfiles ModuleID = "chargingprofiles"
	ModuleHubClientInfo    ModuleID = "hubclientinfo"
	ModuleVersions         ModuleID = "versions"
)

type InterfaceRole string

const (
	InterfaceSender   InterfaceRole = "SENDER"
	InterfaceReceiver InterfaceRole = "RECEIVER"
)

// VersionRef is one entry of the version discovery list.
type VersionRef struct {
	Version VersionID `json:"version"`
	URL     string    `json:"url"`
}

type VersionEndpoint struct {
	Module ModuleID      `json:"identifier"`
	Role   InterfaceRole `json:"role,omitempty"`
	URL    string        `json:"url"`
}

// VersionDetails is the set of module endpoints one party publishes for one
// protocol version. Module identifiers are unique within one record.
type VersionDetails struct {
	Version   VersionID         `json:"version"`
	Endpoints []VersionEndpoint `json:"endpoints"`
}

// EndpointFor returns the URL for a module, preferring an exact interface-role
// match when the version distinguishes roles.
func (vd *VersionDetails) EndpointFor(module ModuleID, role InterfaceRole) (string, error) {
	var fallback string
	for _, ep := range vd.Endpoints {
		if ep.Module != module {
			continue
		}
		if ep.Role == role || ep.Role == "" {
			return ep.URL, nil
		}
		fallback = ep.URL
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", fmt.Errorf("version %s: no endpoint for module %q", vd.Version, module)
}

// Validate rejects records with duplicate module/role pairs.
func (vd *VersionDetails) Validate() error {
	seen := make(map[string]bool, len(vd.Endpoints))
	for _, ep := range vd.Endpoints {
		key := string(ep.Module) + "/" + string(ep.Role)
		if seen[key] {
			return fmt.Errorf("version %s: duplicate endpoint for module %q", vd.Version, ep.Module)
		}
		seen[key] = true
	}
	return nil
}

// Capabilities is the small per-version descriptor that parameterizes the
// otherwise version-agnostic state machine.
type Capabilities struct {
	// Base64Token marks versions whose Authorization token is sent
	// base64-encoded on the wire.
	Base64Token bool
	// RoledEndpoints marks versions whose endpoints carry a SENDER/RECEIVER
	// interface role.
	RoledEndpoints bool
	// Modules lists the module identifiers the version defines.
	Modules []ModuleID
}

var versionCapabilities = map[VersionID]Capabilities{
	Version211: {
		Modules: []ModuleID{ModuleCredentials, ModuleLocations, ModuleTariffs, ModuleSessions, ModuleCDRs, ModuleCommands, ModuleTokens},
	},
	Version22: {
		Base64Token:    true,
		RoledEndpoints: true,
		Modules:        []ModuleID{ModuleCredentials, ModuleLocations, ModuleTariffs, ModuleSessions, ModuleCDRs, ModuleCommands, ModuleTokens, ModuleChargingProfiles, ModuleHubClientInfo},
	},
	Version221: {
		Base64Token:    true,
		RoledEndpoints: true,
		Modules:        []ModuleID{ModuleCredentials, ModuleLocations, ModuleTariffs, ModuleSessions, ModuleCDRs, ModuleCommands, ModuleTokens, ModuleChargingProfiles, ModuleHubClientInfo},
	},
	Version23: {
		Base64Token:    true,
		RoledEndpoints: true,
		Modules:        []ModuleID{ModuleCredentials, ModuleLocations, ModuleTariffs, ModuleSessions, ModuleCDRs, ModuleCommands, ModuleTokens, ModuleChargingProfiles, ModuleHubClientInfo},
	},
	Version30: {
		Base64Token:    true,
		RoledEndpoints: true,
		Modules:        []ModuleID{ModuleCredentials, ModuleLocations, ModuleTariffs, ModuleSessions, ModuleCDRs, ModuleCommands, ModuleTokens, ModuleChargingProfiles, ModuleHubClientInfo},
	},
}

// CapabilitiesFor returns the capability descriptor for a version. Unknown
// versions get the newest descriptor, which is the conservative choice for
// token handling.
func CapabilitiesFor(version VersionID) Capabilities {
	if caps, ok := versionCapabilities[version]; ok {
		return caps
	}
	return versionCapabilities[Version221]
}

// SupportsModule reports whether the version defines the given module.
func (c Capabilities) SupportsModule(module ModuleID) bool {
	for _, m := range c.Modules {
		if m == module {
			return true
		}
	}
	return false
}
