package bluez

import (
	"sync"

	"github.com/go-logr/logr"
	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"

	"github.com/imamik/btmesh-provisioner/internal/mesh"
)

// D-Bus names of the mesh daemon and the interfaces the gateway uses.
const (
	busName     = "org.bluez.mesh"
	networkPath = dbus.ObjectPath("/org/bluez/mesh")

	ifaceNetwork       = "org.bluez.mesh.Network1"
	ifaceNode          = "org.bluez.mesh.Node1"
	ifaceManagement    = "org.bluez.mesh.Management1"
	ifaceApplication   = "org.bluez.mesh.Application1"
	ifaceProvisioner   = "org.bluez.mesh.Provisioner1"
	ifaceElement       = "org.bluez.mesh.Element1"
	ifaceObjectManager = "org.freedesktop.DBus.ObjectManager"

	errorFailed = "org.bluez.mesh.Error.Failed"
)

// model is the D-Bus representation of a SIG model entry, signature (qa{sv}).
type model struct {
	ID      uint16
	Options map[string]dbus.Variant
}

// application is the object tree exported to the daemon. Its handlers run on
// godbus goroutines and forward into the channels read by the sequencer.
type application struct {
	root        dbus.ObjectPath
	appPath     dbus.ObjectPath
	elementPath dbus.ObjectPath

	companyID uint16
	productID uint16
	versionID uint16
	crpl      uint16

	log logr.Logger

	mu          sync.Mutex
	nextAddress mesh.Address

	sendMu    sync.RWMutex
	closeOnce sync.Once
	done      chan struct{}
	outcomes  chan mesh.ProvisionerMessage
	elements  chan mesh.ElementMessage
}

func newApplication(cfg Config, log logr.Logger) *application {
	root := dbus.ObjectPath(cfg.Root)
	return &application{
		root:        root,
		appPath:     root + "/application",
		elementPath: root + "/ele00",
		companyID:   cfg.CompanyID,
		productID:   cfg.ProductID,
		versionID:   cfg.VersionID,
		crpl:        cfg.CRPL,
		log:         log,
		nextAddress: cfg.StartAddress,
		done:        make(chan struct{}),
		outcomes:    make(chan mesh.ProvisionerMessage, cfg.Buffer),
		elements:    make(chan mesh.ElementMessage, cfg.Buffer),
	}
}

func (a *application) applicationProperties() map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"CompanyID": dbus.MakeVariant(a.companyID),
		"ProductID": dbus.MakeVariant(a.productID),
		"VersionID": dbus.MakeVariant(a.versionID),
		"CRPL":      dbus.MakeVariant(a.crpl),
	}
}

func (a *application) elementProperties() map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"Index": dbus.MakeVariant(byte(0)),
		"Models": dbus.MakeVariant([]model{
			{ID: uint16(mesh.ConfigServer), Options: map[string]dbus.Variant{}},
			{ID: uint16(mesh.ConfigClient), Options: map[string]dbus.Variant{}},
		}),
		"VendorModels": dbus.MakeVariant([]struct {
			Vendor  uint16
			ID      uint16
			Options map[string]dbus.Variant
		}{}),
	}
}

// managedObjects describes the tree for ObjectManager.GetManagedObjects.
func (a *application) managedObjects() map[dbus.ObjectPath]map[string]map[string]dbus.Variant {
	return map[dbus.ObjectPath]map[string]map[string]dbus.Variant{
		a.appPath: {
			ifaceApplication: a.applicationProperties(),
			ifaceProvisioner: {},
		},
		a.elementPath: {
			ifaceElement: a.elementProperties(),
		},
	}
}

// allocate hands out count consecutive unicast addresses.
func (a *application) allocate(count uint8) (mesh.Address, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	first := a.nextAddress
	last := uint32(first) + uint32(count) - 1
	if count == 0 || !first.IsUnicast() || last > uint32(mesh.MaxUnicastAddress) {
		return 0, false
	}
	a.nextAddress = mesh.Address(last + 1)
	return first, true
}

func (a *application) sendOutcome(msg mesh.ProvisionerMessage) {
	a.sendMu.RLock()
	defer a.sendMu.RUnlock()
	select {
	case <-a.done:
		return
	default:
	}
	select {
	case a.outcomes <- msg:
	case <-a.done:
	}
}

func (a *application) sendElement(msg mesh.ElementMessage) {
	a.sendMu.RLock()
	defer a.sendMu.RUnlock()
	select {
	case <-a.done:
		return
	default:
	}
	select {
	case a.elements <- msg:
	case <-a.done:
	}
}

// close stops forwarding and closes both channels once no handler is sending.
func (a *application) close() {
	a.closeOnce.Do(func() {
		close(a.done)
		a.sendMu.Lock()
		close(a.outcomes)
		close(a.elements)
		a.sendMu.Unlock()
	})
}

// objectManager is exported at the application root.
type objectManager struct {
	app *application
}

func (o objectManager) GetManagedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, *dbus.Error) {
	return o.app.managedObjects(), nil
}

// provisioner is exported as Provisioner1 on the application object.
type provisioner struct {
	app *application
}

func (p provisioner) ScanResult(rssi int16, data []byte, _ map[string]dbus.Variant) *dbus.Error {
	p.app.log.V(1).Info("Unprovisioned beacon", "rssi", rssi, "length", len(data))
	return nil
}

func (p provisioner) RequestProvData(count uint8) (uint16, uint16, *dbus.Error) {
	address, ok := p.app.allocate(count)
	if !ok {
		return 0, 0, dbus.NewError(errorFailed, []interface{}{"unicast address range exhausted"})
	}
	p.app.log.Info("Assigned unicast address", "address", address.String(), "count", count)
	return 0, uint16(address), nil
}

func (p provisioner) AddNodeComplete(id []byte, unicast uint16, count uint8) *dbus.Error {
	device, err := uuid.FromBytes(id)
	if err != nil {
		return dbus.NewError(errorFailed, []interface{}{err.Error()})
	}
	p.app.sendOutcome(mesh.AddNodeComplete{UUID: device, Unicast: mesh.Address(unicast), Count: count})
	return nil
}

func (p provisioner) AddNodeFailed(id []byte, reason string) *dbus.Error {
	device, err := uuid.FromBytes(id)
	if err != nil {
		return dbus.NewError(errorFailed, []interface{}{err.Error()})
	}
	p.app.sendOutcome(mesh.AddNodeFailed{UUID: device, Reason: reason})
	return nil
}

// applicationHandler is exported as Application1. The gateway only attaches,
// so join callbacks are logged.
type applicationHandler struct {
	app *application
}

func (h applicationHandler) JoinComplete(token uint64) *dbus.Error {
	h.app.log.Info("Unexpected join completion", "token", token)
	return nil
}

func (h applicationHandler) JoinFailed(reason string) *dbus.Error {
	h.app.log.Info("Join failed", "reason", reason)
	return nil
}

// element is exported as Element1 on the element object.
type element struct {
	app *application
}

func (e element) MessageReceived(source, keyIndex uint16, _ dbus.Variant, data []byte) *dbus.Error {
	e.app.sendElement(mesh.ElementMessage{
		Source:   mesh.Address(source),
		NetIndex: keyIndex,
		Data:     append([]byte(nil), data...),
	})
	return nil
}

func (e element) DevKeyMessageReceived(source uint16, remote bool, netIndex uint16, data []byte) *dbus.Error {
	e.app.sendElement(mesh.ElementMessage{
		Source:   mesh.Address(source),
		Remote:   remote,
		NetIndex: netIndex,
		DevKey:   true,
		Data:     append([]byte(nil), data...),
	})
	return nil
}

func (e element) UpdateModelConfiguration(modelID uint16, _ map[string]dbus.Variant) *dbus.Error {
	e.app.log.V(1).Info("Model configuration updated", "model", mesh.ModelID(modelID).String())
	return nil
}

// exporter is the subset of *dbus.Conn used to publish the application tree.
type exporter interface {
	Export(v interface{}, path dbus.ObjectPath, iface string) error
}

type exportedObject struct {
	v     interface{}
	path  dbus.ObjectPath
	iface string
}

func (a *application) exports() []exportedObject {
	return []exportedObject{
		{objectManager{a}, a.root, ifaceObjectManager},
		{applicationHandler{a}, a.appPath, ifaceApplication},
		{provisioner{a}, a.appPath, ifaceProvisioner},
		{element{a}, a.elementPath, ifaceElement},
	}
}

func (a *application) export(conn exporter) error {
	for _, e := range a.exports() {
		if err := conn.Export(e.v, e.path, e.iface); err != nil {
			return err
		}
	}
	return nil
}

func (a *application) unexport(conn exporter) {
	for _, e := range a.exports() {
		_ = conn.Export(nil, e.path, e.iface)
	}
}

