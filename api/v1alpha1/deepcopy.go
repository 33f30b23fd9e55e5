package v1alpha1

import (
	"encoding/json"

	"k8s.io/apimachinery/pkg/runtime"
)

// DeepCopyInto copies the receiver into out.
func (in Sections) DeepCopyInto(out *Sections) {
	if in == nil {
		*out = nil
		return
	}
	copied := make(Sections, len(in))
	for k, v := range in {
		if v == nil {
			copied[k] = nil
			continue
		}
		copied[k] = append(json.RawMessage(nil), v...)
	}
	*out = copied
}

// DeepCopyInto copies the receiver into out.
func (in *Metadata) DeepCopyInto(out *Metadata) {
	*out = *in
	in.ObjectMeta.DeepCopyInto(&out.ObjectMeta)
}

// DeepCopyInto copies the receiver into out.
func (in *Device) DeepCopyInto(out *Device) {
	*out = *in
	out.TypeMeta = in.TypeMeta
	in.Metadata.DeepCopyInto(&out.Metadata)
	in.Spec.DeepCopyInto(&out.Spec)
	in.Status.DeepCopyInto(&out.Status)
}

// DeepCopy returns a deep copy of the device.
func (in *Device) DeepCopy() *Device {
	if in == nil {
		return nil
	}
	out := new(Device)
	in.DeepCopyInto(out)
	return out
}

// DeepCopyObject implements runtime.Object.
func (in *Device) DeepCopyObject() runtime.Object {
	if c := in.DeepCopy(); c != nil {
		return c
	}
	return nil
}
