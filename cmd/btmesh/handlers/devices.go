package handlers

import (
	"context"
	"fmt"
	"io"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/imamik/btmesh-provisioner/api/v1alpha1"
	"github.com/imamik/btmesh-provisioner/internal/ui/tui"
	"github.com/imamik/btmesh-provisioner/internal/util/async"
)

// maxParallelGets bounds concurrent registry reads of devices get.
const maxParallelGets = 4

// DevicesList prints the mesh devices of the configured application as a
// table.
func DevicesList(ctx context.Context, configPath string, out io.Writer) error {
	cfg, err := loadConfigFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateOperator(); err != nil {
		return fmt.Errorf("invalid registry configuration: %w", err)
	}

	devices, err := newRegistry(cfg).ListDevices(ctx, cfg.Application)
	if err != nil {
		return err
	}

	rows := deviceRows(devices)
	_, err = fmt.Fprintln(out, renderDeviceList(cfg.Application, rows))
	return err
}

// DevicesGet prints the named devices as YAML documents, in argument order.
func DevicesGet(ctx context.Context, configPath string, names []string, out io.Writer) error {
	cfg, err := loadConfigFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateOperator(); err != nil {
		return fmt.Errorf("invalid registry configuration: %w", err)
	}

	registry := newRegistry(cfg)
	devices := make([]*v1alpha1.Device, len(names))

	limiter := async.NewLimiter(maxParallelGets)
	for i, name := range names {
		limiter.Go(ctx, async.Task{Name: name, Func: func(ctx context.Context) error {
			device, err := registry.GetDevice(ctx, cfg.Application, name)
			if err != nil {
				return err
			}
			devices[i] = device
			return nil
		}})
	}
	if err := limiter.Wait(); err != nil {
		return err
	}

	for i, device := range devices {
		data, err := yaml.Marshal(device)
		if err != nil {
			return fmt.Errorf("failed to encode device %s: %w", names[i], err)
		}
		if i > 0 {
			if _, err := fmt.Fprintln(out, "---"); err != nil {
				return err
			}
		}
		if _, err := out.Write(data); err != nil {
			return err
		}
	}
	return nil
}

// runWatchTUI runs the device dashboard (for testing injection).
var runWatchTUI = tui.RunWatchTUI

// DevicesWatch shows a live dashboard of the mesh devices, refreshed every
// interval, until the user quits or ctx ends.
func DevicesWatch(ctx context.Context, configPath string, interval time.Duration) error {
	cfg, err := loadConfigFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateOperator(); err != nil {
		return fmt.Errorf("invalid registry configuration: %w", err)
	}
	if interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", interval)
	}

	registry := newRegistry(cfg)
	return runWatchTUI(ctx, cfg.Application, interval, func(ctx context.Context) ([]tui.DeviceRow, error) {
		devices, err := registry.ListDevices(ctx, cfg.Application)
		if err != nil {
			return nil, err
		}
		return deviceRows(devices), nil
	})
}
