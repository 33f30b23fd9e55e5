package mesh

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Address is a 16-bit mesh address.
type Address uint16

// Unicast range for element addresses.
const (
	UnassignedAddress Address = 0x0000
	MinUnicastAddress Address = 0x0001
	MaxUnicastAddress Address = 0x7fff
)

// IsUnicast reports whether a is a valid element address.
func (a Address) IsUnicast() bool {
	return a >= MinUnicastAddress && a <= MaxUnicastAddress
}

func (a Address) String() string {
	return fmt.Sprintf("0x%04x", uint16(a))
}

// ModelID identifies a SIG model.
type ModelID uint16

// SIG models used by the gateway.
const (
	ConfigServer         ModelID = 0x0000
	ConfigClient         ModelID = 0x0001
	GenericOnOffServer   ModelID = 0x1000
	GenericBatteryServer ModelID = 0x100c
	SensorSetupServer    ModelID = 0x1101
)

var modelNames = map[ModelID]string{
	ConfigServer:         "ConfigurationServer",
	ConfigClient:         "ConfigurationClient",
	GenericOnOffServer:   "GenericOnOffServer",
	GenericBatteryServer: "GenericBatteryServer",
	SensorSetupServer:    "SensorSetupServer",
}

func (m ModelID) String() string {
	if name, ok := modelNames[m]; ok {
		return name
	}
	return fmt.Sprintf("Model(0x%04x)", uint16(m))
}

// DefaultPublishLabel is the virtual label sensor and battery servers publish to.
var DefaultPublishLabel = uuid.MustParse("f0bfd803-cde1-8413-3096-f003ea4a3dc2")

// Resolution is the step resolution of a publish period.
type Resolution uint8

const (
	Resolution100ms Resolution = iota
	Resolution1s
	Resolution10s
	Resolution10m
)

var resolutionSteps = [...]time.Duration{
	Resolution100ms: 100 * time.Millisecond,
	Resolution1s:    time.Second,
	Resolution10s:   10 * time.Second,
	Resolution10m:   10 * time.Minute,
}

// PublishPeriod is the periodic publishing interval as steps of a resolution.
type PublishPeriod struct {
	Steps      uint8
	Resolution Resolution
}

// maxPeriodSteps is the largest value of the 6-bit steps field.
const maxPeriodSteps = 0x3f

// PeriodFromDuration encodes d, preferring one second steps.
func PeriodFromDuration(d time.Duration) (PublishPeriod, error) {
	if d == 0 {
		return PublishPeriod{}, nil
	}
	for _, r := range []Resolution{Resolution1s, Resolution100ms, Resolution10s, Resolution10m} {
		step := resolutionSteps[r]
		if d%step != 0 {
			continue
		}
		if steps := d / step; steps <= maxPeriodSteps {
			return PublishPeriod{Steps: uint8(steps), Resolution: r}, nil
		}
	}
	return PublishPeriod{}, fmt.Errorf("publish period %s cannot be represented", d)
}

// Duration returns the interval the period describes.
func (p PublishPeriod) Duration() time.Duration {
	return time.Duration(p.Steps) * resolutionSteps[p.Resolution&0x03]
}

// Byte returns the wire encoding: steps in bits 0-5, resolution in bits 6-7.
func (p PublishPeriod) Byte() byte {
	return p.Steps&maxPeriodSteps | byte(p.Resolution&0x03)<<6
}

// Retransmit controls how often a publication is repeated.
type Retransmit struct {
	Count         uint8
	IntervalSteps uint8
}

// Byte returns the wire encoding: count in bits 0-2, interval steps in bits 3-7.
func (r Retransmit) Byte() byte {
	return r.Count&0x07 | (r.IntervalSteps&0x1f)<<3
}

// Publication is the publish configuration of one model.
type Publication struct {
	Model      ModelID
	Label      uuid.UUID
	AppIndex   uint16
	Credential bool
	TTL        uint8
	Period     PublishPeriod
	Retransmit Retransmit
}

// DefaultTTL asks the node to use its own default TTL.
const DefaultTTL uint8 = 0xff
