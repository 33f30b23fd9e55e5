package bluez

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/prop"
	"github.com/google/uuid"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/imamik/btmesh-provisioner/internal/mesh"
)

// Config describes the gateway application registered with the daemon.
type Config struct {
	// Token identifies the provisioner node created with mesh-cfgclient.
	Token uint64
	// StartAddress is the first unicast address handed to new nodes.
	StartAddress mesh.Address
	// Root is the object path of the exported application tree.
	Root string

	CompanyID uint16
	ProductID uint16
	VersionID uint16
	CRPL      uint16

	// Buffer is the capacity of the outcome and element channels.
	Buffer int
}

// DefaultConfig returns the application identity used by the gateway.
func DefaultConfig() Config {
	return Config{
		StartAddress: 0x00aa,
		Root:         "/mesh/cfgclient",
		CompanyID:    0x05f1,
		ProductID:    0x0001,
		VersionID:    0x0001,
		CRPL:         0x7fff,
		Buffer:       16,
	}
}

// ParseToken parses a node token as printed by mesh-cfgclient (16 hex digits).
func ParseToken(s string) (uint64, error) {
	token, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimSpace(s), "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid node token: %w", err)
	}
	return token, nil
}

// caller invokes a method on a daemon object.
type caller interface {
	Call(ctx context.Context, path dbus.ObjectPath, method string, args ...interface{}) *dbus.Call
}

// busCaller sends method calls over a D-Bus connection.
type busCaller struct {
	conn *dbus.Conn
}

func (c busCaller) Call(ctx context.Context, path dbus.ObjectPath, method string, args ...interface{}) *dbus.Call {
	return c.conn.Object(busName, path).CallWithContext(ctx, method, 0, args...)
}

// Node is an attached provisioner node. It implements mesh.Node.
type Node struct {
	app      *application
	bus      caller
	conn     exporter
	nodePath dbus.ObjectPath
	log      logr.Logger
	closer   func() error
}

var _ mesh.Node = (*Node)(nil)

// Connect opens the system bus and attaches the gateway application.
func Connect(ctx context.Context, cfg Config) (*Node, error) {
	conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}
	node, err := Attach(ctx, conn, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	node.closer = conn.Close
	return node, nil
}

// Attach exports the application tree on conn and attaches to the node
// identified by cfg.Token.
func Attach(ctx context.Context, conn *dbus.Conn, cfg Config) (*Node, error) {
	logger := log.FromContext(ctx).WithName("bluez")
	app := newApplication(cfg, logger)

	if err := app.export(conn); err != nil {
		return nil, fmt.Errorf("failed to export application: %w", err)
	}
	if _, err := prop.Export(conn, app.appPath, prop.Map{
		ifaceApplication: staticProps(app.applicationProperties()),
	}); err != nil {
		app.unexport(conn)
		return nil, fmt.Errorf("failed to export application properties: %w", err)
	}
	if _, err := prop.Export(conn, app.elementPath, prop.Map{
		ifaceElement: staticProps(app.elementProperties()),
	}); err != nil {
		app.unexport(conn)
		return nil, fmt.Errorf("failed to export element properties: %w", err)
	}

	return attach(ctx, app, busCaller{conn: conn}, conn, cfg.Token)
}

func attach(ctx context.Context, app *application, bus caller, conn exporter, token uint64) (*Node, error) {
	var nodePath dbus.ObjectPath
	var configuration []elementConfig
	call := bus.Call(ctx, networkPath, ifaceNetwork+".Attach", app.root, token)
	if call.Err != nil {
		app.unexport(conn)
		return nil, fmt.Errorf("failed to attach node: %w", call.Err)
	}
	if err := call.Store(&nodePath, &configuration); err != nil {
		app.unexport(conn)
		return nil, fmt.Errorf("unexpected attach reply: %w", err)
	}

	app.log.Info("Attached to mesh node", "node", string(nodePath), "elements", len(configuration))
	return &Node{
		app:      app,
		bus:      bus,
		conn:     conn,
		nodePath: nodePath,
		log:      app.log,
	}, nil
}

// elementConfig is one entry of the configuration returned by Attach,
// signature (ya(qa{sv})).
type elementConfig struct {
	Index  byte
	Models []model
}

func staticProps(values map[string]dbus.Variant) map[string]*prop.Prop {
	props := make(map[string]*prop.Prop, len(values))
	for name, v := range values {
		props[name] = &prop.Prop{Value: v.Value(), Emit: prop.EmitFalse}
	}
	return props
}

// Outcomes returns provisioning outcomes reported by the daemon. The channel
// is closed by Unregister.
func (n *Node) Outcomes() <-chan mesh.ProvisionerMessage {
	return n.app.outcomes
}

// Elements returns messages received by the local element. The channel is
// closed by Unregister.
func (n *Node) Elements() <-chan mesh.ElementMessage {
	return n.app.elements
}

// AddNode asks the daemon to provision an unprovisioned device.
func (n *Node) AddNode(ctx context.Context, device uuid.UUID) error {
	call := n.bus.Call(ctx, n.nodePath, ifaceManagement+".AddNode", device[:], map[string]dbus.Variant{})
	if call.Err != nil {
		return fmt.Errorf("add node %s: %w", device, call.Err)
	}
	return nil
}

// Reset removes the node at address from the network.
func (n *Node) Reset(ctx context.Context, address mesh.Address) error {
	return n.devKeySend(ctx, "reset", address, mesh.EncodeNodeReset())
}

// AddAppKey sends an existing application key to the node at address.
func (n *Node) AddAppKey(ctx context.Context, address mesh.Address, appIndex, netIndex uint16) error {
	call := n.bus.Call(ctx, n.nodePath, ifaceNode+".AddAppKey",
		n.app.elementPath, uint16(address), appIndex, netIndex, false)
	if call.Err != nil {
		return &mesh.OperationError{Op: "add app key", Address: address, Err: call.Err}
	}
	return nil
}

// Bind binds an application key to a model on the node at address.
func (n *Node) Bind(ctx context.Context, address mesh.Address, appIndex uint16, model mesh.ModelID) error {
	return n.devKeySend(ctx, "bind "+model.String(), address, mesh.EncodeModelAppBind(address, appIndex, model))
}

// PubSet configures publication to a virtual label on the node at address.
func (n *Node) PubSet(ctx context.Context, address mesh.Address, pub mesh.Publication) error {
	return n.devKeySend(ctx, "pub-set "+pub.Model.String(), address, mesh.EncodeModelPubVirtualSet(address, pub))
}

func (n *Node) devKeySend(ctx context.Context, op string, address mesh.Address, data []byte) error {
	call := n.bus.Call(ctx, n.nodePath, ifaceNode+".DevKeySend",
		n.app.elementPath, uint16(address), true, uint16(0), map[string]dbus.Variant{}, data)
	if call.Err != nil {
		return &mesh.OperationError{Op: op, Address: address, Err: call.Err}
	}
	return nil
}

// Unregister removes the exported application and closes the outcome and
// element channels.
func (n *Node) Unregister(ctx context.Context) error {
	n.app.unexport(n.conn)
	n.app.close()
	n.log.Info("Unregistered mesh application")

	if n.closer == nil {
		return nil
	}
	if err := n.closer(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to close bus connection: %w", err)
	}
	return nil
}
