// Command vcored is the reference CLI around this module: it wires
// percpu.State, vcpu.VCpu and the flat demo guest-memory collaborator
// together, runs the world-switch loop and reports every
// exitreason.Reason it sees.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/alecthomas/kong"
	"golang.org/x/sync/errgroup"

	"github.com/shvisor/vcore/config"
	"github.com/shvisor/vcore/control"
	"github.com/shvisor/vcore/exitreason"
	"github.com/shvisor/vcore/hal"
	"github.com/shvisor/vcore/percpu"
	"github.com/shvisor/vcore/vcpu"
)

// cli is the top-level kong command tree.
type cli struct {
	Boot  bootCmd  `cmd:"" help:"Enable virtualization on one logical CPU, bind a vCPU and run it to completion or shutdown."`
	Probe probeCmd `cmd:"" help:"Check that /dev/kvm exposes the capabilities this core requires, without running a guest."`
}

// bootCmd runs a flat real-mode image until the guest requests
// shutdown, hits a fatal exit, or the step limit is reached.
type bootCmd struct {
	Image string `arg:"" type:"existingfile" help:"Flat real-mode image, loaded at guest-physical address 0."`

	Vendor    string `enum:"intel,amd" default:"intel" help:"Control-structure realization to use."`
	MemMB     int    `default:"64" help:"Guest memory size in MiB."`
	ExitPort  uint16 `default:"0x604" help:"I/O port the built-in shutdown convention watches."`
	ExitMagic uint32 `default:"0x2000" help:"Value on ExitPort that is classified as SystemDown."`
	MaxSteps  int    `default:"0" help:"Stop after this many Run iterations (0 = unbounded)."`
	VCPUs     int    `default:"1" help:"Number of vCPUs to bind against the same VM scope and run concurrently."`
}

func (b *bootCmd) Run() error {
	image, err := os.ReadFile(b.Image)
	if err != nil {
		return err
	}

	opts := config.Default()
	opts.ExitPort = b.ExitPort
	opts.ExitMagic = b.ExitMagic

	if b.Vendor == "amd" {
		opts.Vendor = control.VendorAMD
	}

	pcpu := percpu.New(0)
	if err := pcpu.HardwareEnable(); err != nil {
		return fmt.Errorf("vcored: enabling virtualization: %w", err)
	}
	defer pcpu.HardwareDisable()

	guest, err := newFlatGuestMemory(pcpu.VMFd(), b.MemMB<<20)
	if err != nil {
		return fmt.Errorf("vcored: mapping guest memory: %w", err)
	}

	if err := guest.LoadImage(image); err != nil {
		return err
	}

	mem := hal.NewKVMMemoryHAL()

	if b.VCPUs < 1 {
		b.VCPUs = 1
	}

	vcpus := make([]*vcpu.VCpu, b.VCPUs)

	for id := range vcpus {
		v := vcpu.New(id, opts.Vendor, mem, guest)
		v.SetExitPort(opts.ExitPort, opts.ExitMagic)
		v.SetPreemptionTimerValue(opts.PreemptionTimerValue)
		v.SetEntry(0)
		v.SetEPTRoot(guest.EPTRoot())

		if err := v.Bind(pcpu); err != nil {
			return fmt.Errorf("vcored: binding vCPU %d: %w", id, err)
		}
		defer v.Unbind()

		if err := v.Setup(); err != nil {
			return fmt.Errorf("vcored: setting up vCPU %d: %w", id, err)
		}

		vcpus[id] = v
	}

	// Every bound vCPU shares this VM scope's guest memory. g.Wait
	// returns once every vCPU loop has returned, with the first error
	// any of them reported; a shutdown or fatal exit on one vCPU does
	// not stop the others.
	var g errgroup.Group

	for _, v := range vcpus {
		v := v
		g.Go(func() error { return runVCPU(v, b.MaxSteps) })
	}

	return g.Wait()
}

// runVCPU drives one vCPU's world-switch loop, logging every exit
// that is not KindNothing, until a shutdown/fatal exit or b.MaxSteps
// is reached.
func runVCPU(v *vcpu.VCpu, maxSteps int) error {
	for step := 0; maxSteps == 0 || step < maxSteps; step++ {
		reason, err := v.Run()
		if err != nil {
			return fmt.Errorf("vcored: vcpu %d run: %w", v.ID(), err)
		}

		if reason.Kind == exitreason.KindNothing {
			continue
		}

		log.Printf("vcpu[%d] exit[%d]: %s", v.ID(), step, reason)

		if reason.Kind == exitreason.KindSystemDown || reason.Kind == exitreason.KindFailEntry {
			return nil
		}
	}

	return nil
}

// probeCmd enables and immediately disables virtualization on one
// logical CPU, the same capability preflight HardwareEnable performs,
// surfaced standalone for diagnosing a host before writing a boot
// image.
type probeCmd struct{}

func (p *probeCmd) Run() error {
	pcpu := percpu.New(0)
	if err := pcpu.HardwareEnable(); err != nil {
		return err
	}

	fmt.Printf("kvm api revision: %d\n", pcpu.RevisionID())

	return pcpu.HardwareDisable()
}

func main() {
	var c cli

	ctx := kong.Parse(&c,
		kong.Name("vcored"),
		kong.Description("Reference harness for the per-vCPU virtualization core."),
		kong.UsageOnError(),
	)

	ctx.FatalIfErrorf(ctx.Run())
}
