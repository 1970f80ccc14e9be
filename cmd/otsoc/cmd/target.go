package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/OpenTraceLab/OpenTraceSoC/pkg/config"
	"github.com/OpenTraceLab/OpenTraceSoC/pkg/debug"
	"github.com/OpenTraceLab/OpenTraceSoC/pkg/jtag"
	"github.com/OpenTraceLab/OpenTraceSoC/pkg/soc"
)

// lockDir holds the per-adapter lock files.
var lockDir = os.TempDir()

// target is an attached session plus whatever backs it.
type target struct {
	session *debug.Session
	sim     *soc.SoC
	lock    *flock.Flock
}

// openTarget attaches to the target described by prof. For the simulator
// the DMA self-test stands in for any program the core is started at.
func openTarget(ctx context.Context, prof *config.Target, console io.Writer) (*target, error) {
	t := &target{}
	var adapter jtag.Adapter

	switch prof.Adapter.Kind {
	case config.AdapterSimulator:
		mem, err := prof.MemoryMap()
		if err != nil {
			return nil, fmt.Errorf("memory map: %w", err)
		}
		sim, err := soc.New(soc.Config{
			Memory:     mem,
			IdleCycles: prof.Link.IdleCycles,
			EOCAddress: prof.Link.EOCAddress,
			Console:    console,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build simulator: %w", err)
		}
		sim.Hart().SetFallback(prof.Verifier().Main)
		t.sim = sim
		adapter = sim.Adapter()
		if verbose {
			fmt.Println("Using simulated SoC")
		}

	case config.AdapterCMSISDAP:
		id, err := jtag.FindUSBAdapter(jtag.VendorIDRaspberryPi, jtag.ProductIDCMSISDAP, prof.Adapter.Serial)
		if err != nil {
			return nil, fmt.Errorf("failed to find CMSIS-DAP adapter: %w", err)
		}
		lock, err := lockAdapter(prof.Adapter.Kind, id)
		if err != nil {
			return nil, err
		}
		t.lock = lock
		dap, err := jtag.NewCMSISDAPAdapter(id.VendorID, id.ProductID, id.Serial)
		if err != nil {
			t.Close()
			return nil, fmt.Errorf("failed to open CMSIS-DAP adapter %s: %w", id, err)
		}
		adapter = dap
		if desc := describeAdapter(dap); verbose && desc != "" {
			fmt.Println(desc)
		}

	default:
		return nil, fmt.Errorf("unknown adapter kind %q", prof.Adapter.Kind)
	}

	t.session = debug.NewSession(adapter, prof.DebugConfig())
	if err := t.session.ResetMaster(ctx); err != nil {
		t.Close()
		return nil, fmt.Errorf("reset target: %w", err)
	}
	if err := t.session.InitLink(ctx); err != nil {
		t.Close()
		return nil, fmt.Errorf("init debug link: %w", err)
	}
	fmt.Printf("Target: %s (IDCODE %s)\n", prof.Name, t.session.IDCode())
	return t, nil
}

// Close stops the simulator, releases the adapter and drops the lock.
func (t *target) Close() {
	if t.session != nil {
		t.session.Close()
	}
	if t.sim != nil {
		t.sim.Shutdown()
	}
	if t.lock != nil {
		t.lock.Unlock()
	}
}

// describeAdapter names the connected adapter, or returns "" when it
// cannot report its identity.
func describeAdapter(a jtag.Adapter) string {
	info, err := a.Info()
	if err != nil {
		return ""
	}
	return fmt.Sprintf("Connected to: %s (firmware %s)", info, info.Firmware)
}

// lockAdapter takes an exclusive lock so two otsoc processes never drive
// the same adapter. The lock is keyed on the device actually found, so naming
// it by serial or taking the first one both contend for the same file.
func lockAdapter(kind string, id jtag.USBAdapterID) (*flock.Flock, error) {
	name := "otsoc-" + kind + "-" + id.Key()
	lock := flock.New(filepath.Join(lockDir, name+".lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock adapter: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("adapter %s %s is in use by another otsoc (%s)", kind, id, lock.Path())
	}
	return lock, nil
}
