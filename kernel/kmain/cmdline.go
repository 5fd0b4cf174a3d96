package kmain

import (
	"strconv"

	"github.com/portasynthinca3/neutron-sub000/kernel/kfmt"
	"github.com/portasynthinca3/neutron-sub000/kernel/mm/dram"
	"github.com/portasynthinca3/neutron-sub000/kernel/mm/vmm"
	"github.com/portasynthinca3/neutron-sub000/kernel/mtask"
)

// Options holds the subsystem settings selected on the kernel command line.
type Options struct {
	Tasks     mtask.Config
	VMM       vmm.Config
	OOMPolicy dram.Policy
}

// ParseCmdLine builds the kernel options from the command line key-value
// pairs. Unknown keys are ignored; invalid values keep the default.
//
//	mtask.tasks=N     size of the task table
//	mtask.files=N     open files per task
//	mtask.allocs=N    page allocations per task
//	mtask.identmap=N  size of the identity map of tasks that request one
//	mtask.hz=N        TSC frequency
//	vmem.nopcid       do not tag address spaces with PCIDs
//	dram.oom=return   report heap exhaustion to callers instead of halting
func ParseCmdLine(cmdLine map[string]string) Options {
	opts := Options{
		Tasks:     mtask.DefaultConfig(),
		OOMPolicy: dram.PolicyHalt,
	}

	intOpts := []struct {
		key   string
		apply func(uint64)
	}{
		{"mtask.tasks", func(v uint64) { opts.Tasks.MaxTasks = int(v) }},
		{"mtask.files", func(v uint64) { opts.Tasks.MaxOpenFiles = int(v) }},
		{"mtask.allocs", func(v uint64) { opts.Tasks.MaxAllocations = int(v) }},
		{"mtask.identmap", func(v uint64) { opts.Tasks.IdentityMapSize = uintptr(v) }},
		{"mtask.hz", func(v uint64) { opts.Tasks.CPUHz = v }},
	}

	for _, opt := range intOpts {
		val, ok := cmdLine[opt.key]
		if !ok {
			continue
		}

		v, err := strconv.ParseUint(val, 0, 64)
		if err != nil || v == 0 {
			kfmt.Printf("[kmain] ignoring invalid value for %s: %s\n", opt.key, val)
			continue
		}
		opt.apply(v)
	}

	_, opts.VMM.DisablePCID = cmdLine["vmem.nopcid"]

	switch policy := cmdLine["dram.oom"]; policy {
	case "", "halt":
	case "return":
		opts.OOMPolicy = dram.PolicyReturn
	default:
		kfmt.Printf("[kmain] ignoring unknown dram.oom policy: %s\n", policy)
	}

	return opts
}
