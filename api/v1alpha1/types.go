package v1alpha1

import (
	"encoding/json"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Finalizer is the deletion gate the operator places on every mesh device.
// The registry keeps a deleted device until the finalizer is removed.
const Finalizer = "btmesh-operator"

// Section names used inside device spec and status.
const (
	// SectionBtMesh holds the mesh spec (device UUID) and the provisioning status.
	SectionBtMesh = "btmesh"
	// SectionAliases is the spec key holding the device alias list.
	SectionAliases = "aliases"
)

// Condition types for mesh devices
const (
	// ConditionProvisioned indicates the device joined the mesh and is configured
	ConditionProvisioned = "Provisioned"
	// ConditionProvisioning indicates provisioning is requested or in progress
	ConditionProvisioning = "Provisioning"
)

// Condition reasons
const (
	ReasonProvisioned         = "Provisioned"
	ReasonProvisioning        = "Provisioning"
	ReasonProvisioningFailed  = "ProvisioningFailed"
	ReasonProvisioningPending = "Pending"
	ReasonReset               = "Reset"
)

// Metadata is the registry object metadata. It carries the standard object
// fields (name, finalizers, deletion timestamp, resource version) plus the
// owning application.
type Metadata struct {
	metav1.ObjectMeta `json:",inline"`

	// Application the device belongs to
	Application string `json:"application"`
}

// Device is a device record in the registry.
type Device struct {
	metav1.TypeMeta `json:",inline"`
	Metadata        `json:"metadata"`

	// Spec holds the desired state sections, keyed by section name
	// +optional
	Spec Sections `json:"spec,omitempty"`

	// Status holds the observed state sections, keyed by section name
	// +optional
	Status Sections `json:"status,omitempty"`
}

// BtMeshSpec declares that a device participates in the mesh.
type BtMeshSpec struct {
	// Device is the mesh device UUID advertised in the unprovisioned beacon
	Device string `json:"device"`
}

// Sections is an open set of JSON documents keyed by section name. Sections
// this package does not know are preserved untouched.
type Sections map[string]json.RawMessage

// Has reports whether the named section is present.
func (s Sections) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Decode decodes the named section into out. It returns false when the
// section is absent.
func (s Sections) Decode(name string, out any) (bool, error) {
	raw, ok := s[name]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("failed to decode section %q: %w", name, err)
	}
	return true, nil
}

// Set encodes v into the named section.
func (s *Sections) Set(name string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode section %q: %w", name, err)
	}
	if *s == nil {
		*s = Sections{}
	}
	(*s)[name] = raw
	return nil
}

// IsDeleting reports whether the device carries a deletion marker.
func (d *Device) IsDeleting() bool {
	return d.DeletionTimestamp != nil
}

// MeshSpec returns the mesh spec of the device. ok is false when the device
// does not participate in the mesh.
func (d *Device) MeshSpec() (spec *BtMeshSpec, ok bool, err error) {
	spec = &BtMeshSpec{}
	ok, err = d.Spec.Decode(SectionBtMesh, spec)
	if !ok || err != nil {
		return nil, ok, err
	}
	return spec, true, nil
}

// MeshStatus returns the provisioning status of the device. ok is false when
// no status was recorded yet.
func (d *Device) MeshStatus() (status *BtMeshStatus, ok bool, err error) {
	status = &BtMeshStatus{}
	ok, err = d.Status.Decode(SectionBtMesh, status)
	if !ok || err != nil {
		return nil, ok, err
	}
	return status, true, nil
}

// SetMeshStatus records the provisioning status on the device.
func (d *Device) SetMeshStatus(status *BtMeshStatus) error {
	return d.Status.Set(SectionBtMesh, status)
}

// Aliases returns the alias list from the spec. Entries that are not strings
// are skipped.
func (d *Device) Aliases() []string {
	raw, ok := d.Spec[SectionAliases]
	if !ok {
		return nil
	}
	var values []any
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil
	}
	aliases := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			aliases = append(aliases, s)
		}
	}
	return aliases
}

// AddAlias adds alias to the spec alias list unless it is already present.
// It returns true if the list changed.
func (d *Device) AddAlias(alias string) (bool, error) {
	aliases := d.Aliases()
	for _, existing := range aliases {
		if existing == alias {
			return false, nil
		}
	}
	if err := d.Spec.Set(SectionAliases, append(aliases, alias)); err != nil {
		return false, err
	}
	return true, nil
}
