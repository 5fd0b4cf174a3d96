package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"image/color"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fogleman/gg"
	"github.com/portasynthinca3/neutron-sub000/kernel/hal/efi"
	"github.com/portasynthinca3/neutron-sub000/kernel/kfmt"
	"github.com/portasynthinca3/neutron-sub000/kernel/kmain"
	"github.com/portasynthinca3/neutron-sub000/kernel/mm"
	"github.com/portasynthinca3/neutron-sub000/kernel/mtask"
	"golang.org/x/image/font/basicfont"
)

// Timeline geometry in pixels.
const (
	tickWidth  = 12
	rowHeight  = 18
	labelWidth = 120
	margin     = 8
)

var errTicks = errors.New("the number of ticks must be positive")

var palette = []color.RGBA{
	{R: 0x4e, G: 0x79, B: 0xa7, A: 0xff},
	{R: 0xf2, G: 0x8e, B: 0x2b, A: 0xff},
	{R: 0xe1, G: 0x57, B: 0x59, A: 0xff},
	{R: 0x76, G: 0xb7, B: 0xb2, A: 0xff},
	{R: 0x59, G: 0xa1, B: 0x4f, A: 0xff},
	{R: 0xed, G: 0xc9, B: 0x48, A: 0xff},
	{R: 0xb0, G: 0x7a, B: 0xa1, A: 0xff},
	{R: 0x9c, G: 0x75, B: 0x5f, A: 0xff},
}

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[schedplot] error: %s\n", err.Error())
	os.Exit(1)
}

// timelineRow describes one task of the plot.
type timelineRow struct {
	uid      uint64
	name     string
	priority uint8
}

// timeline records which task held the CPU during each timer tick.
type timeline struct {
	rows  []timelineRow
	ticks []uint64
}

func parsePriorities(list string) ([]uint8, error) {
	var priorities []uint8
	for _, field := range strings.Split(list, ",") {
		if field = strings.TrimSpace(field); field == "" {
			continue
		}

		prio, err := strconv.ParseUint(field, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid priority %q", field)
		}
		priorities = append(priorities, uint8(prio))
	}

	if len(priorities) == 0 {
		return nil, errors.New("at least one task priority is required")
	}
	return priorities, nil
}

// recordTimeline boots a kernel, adds one task per priority next to the
// kernel task and lets the timer fire the requested number of times.
func recordTimeline(priorities []uint8, ticks int, kernelLog io.Writer) (*timeline, error) {
	if ticks <= 0 {
		return nil, errTicks
	}

	cfg := efi.DefaultConfig()
	cfg.RAMSize = 16 * mm.Mb
	cfg.CmdLine = fmt.Sprintf("mtask.tasks=%d dram.oom=return", len(priorities)+1)

	kfmt.SetOutputSink(kernelLog)

	machine, kerr := efi.Boot(cfg)
	if kerr != nil {
		return nil, kerr
	}

	sys, kerr := kmain.Init(machine)
	if kerr != nil {
		return nil, kerr
	}

	tl := &timeline{rows: []timelineRow{{uid: sys.KernelUID, name: "kernel", priority: 1}}}
	for i, prio := range priorities {
		name := fmt.Sprintf("task%d", i)
		uid, kerr := sys.Tasks.CreateTask(mtask.TaskSpec{
			Name:      name,
			Priority:  prio,
			StackSize: 0x1000,
			Start:     true,
		})
		if kerr != nil {
			return nil, kerr
		}
		tl.rows = append(tl.rows, timelineRow{uid: uid, name: name, priority: prio})
	}

	for i := 0; i < ticks; i++ {
		machine.Core.Idle()
		tl.ticks = append(tl.ticks, sys.Tasks.CurrentUID())
	}

	return tl, nil
}

// share returns the number of ticks each row ran for.
func (tl *timeline) share() map[uint64]int {
	counts := make(map[uint64]int)
	for _, uid := range tl.ticks {
		counts[uid]++
	}
	return counts
}

func (tl *timeline) render() *gg.Context {
	var (
		width  = labelWidth + len(tl.ticks)*tickWidth + 2*margin
		height = len(tl.rows)*rowHeight + 2*margin
		counts = tl.share()
	)

	dc := gg.NewContext(width, height)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	dc.SetFontFace(basicfont.Face7x13)

	for rowIndex, row := range tl.rows {
		y := float64(margin + rowIndex*rowHeight)

		dc.SetRGB(0, 0, 0)
		dc.DrawStringAnchored(fmt.Sprintf("%s p%d %d", row.name, row.priority, counts[row.uid]), margin, y+rowHeight/2, 0, 0.5)

		dc.SetColor(palette[rowIndex%len(palette)])
		for tick, uid := range tl.ticks {
			if uid != row.uid {
				continue
			}
			dc.DrawRectangle(float64(margin+labelWidth+tick*tickWidth), y+2, tickWidth-1, rowHeight-4)
			dc.Fill()
		}
	}

	return dc
}

func runTool() error {
	taskList := flag.String("tasks", "4,1", "comma-separated priorities of the tasks to schedule")
	ticks := flag.Int("ticks", 40, "the number of timer ticks to record")
	output := flag.String("out", "sched.png", "the PNG file to write the timeline to")
	verbose := flag.Bool("v", false, "print the kernel log to STDERR")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, "schedplot: render which task holds the CPU on every scheduler tick\n\n")
		fmt.Fprint(os.Stderr, "Usage: schedplot [options]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	priorities, err := parsePriorities(*taskList)
	if err != nil {
		return err
	}

	var kernelLog io.Writer = &bytes.Buffer{}
	if *verbose {
		kernelLog = os.Stderr
	}

	tl, err := recordTimeline(priorities, *ticks, kernelLog)
	if err != nil {
		return err
	}

	return tl.render().SavePNG(*output)
}

func main() {
	if err := runTool(); err != nil {
		exit(err)
	}
}
