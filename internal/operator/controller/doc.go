// Package controller implements the device reconciler of the btmesh operator.
//
// The reconciler keeps registry devices and the mesh in agreement. A periodic
// sweep lists all devices of the application and, for each device with a
// btmesh section, places the finalizer, asks the gateway to provision devices
// that still need it and to reset devices that are being deleted. Status
// events reported by the gateway are applied to the device records as they
// arrive.
//
// The registry is the only store: the reconciler keeps no state between
// sweeps, so it converges from whatever the registry holds.
package controller
