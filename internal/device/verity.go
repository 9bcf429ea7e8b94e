package device

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

type verityDisabler interface {
	DisableVerity(ctx context.Context) (string, error)
}

// DisableVerity turns off dm-verity on d when it is enforcing, rebooting if
// the device asks for it. Transports without verity support are skipped.
func DisableVerity(ctx context.Context, logger *slog.Logger, d *Device) error {
	vd, ok := d.Transport.(verityDisabler)
	if !ok {
		return nil
	}
	mode, err := d.Transport.GetProp(ctx, "ro.boot.veritymode")
	if err != nil {
		return fmt.Errorf("%s: reading verity mode: %w", d.Serial, err)
	}
	if mode != "enforcing" {
		return nil
	}

	logger.Info("root", "device", d.Serial)
	if err := d.Transport.Root(ctx); err != nil {
		return fmt.Errorf("%s: root: %w", d.Serial, err)
	}

	logger.Info("disable-verity", "device", d.Serial)
	out, err := vd.DisableVerity(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", d.Serial, err)
	}
	logger.Info("disable-verity output", "device", d.Serial, "output", out)
	if !strings.Contains(out, "disabled on /") {
		return fmt.Errorf("%s: adb disable-verity failed:\n%s", d, out)
	}

	if strings.Contains(out, "reboot your device") {
		logger.Info("reboot", "device", d.Serial)
		if err := d.Transport.Reboot(ctx); err != nil {
			return fmt.Errorf("%s: reboot: %w", d.Serial, err)
		}
		logger.Info("wait-for-device", "device", d.Serial)
		if err := d.Transport.WaitUntilReady(ctx); err != nil {
			return fmt.Errorf("%s: waiting for device: %w", d.Serial, err)
		}
	}
	return nil
}
