package main

import (
	"fmt"

	"github.com/fatih/color"
	"golang.org/x/exp/slices"

	"beaconview/pkg/beacon"
	"beaconview/pkg/crunch"
	"beaconview/pkg/flatten"
)

func displayProcesses(processes map[uint32]beacon.ProcessInfo) {
	if len(processes) == 0 {
		color.Red("No process list available yet")
		return
	}

	pids := make([]uint32, 0, len(processes))
	var paddingComm int
	for pid, p := range processes {
		pids = append(pids, pid)
		if n := len(p.Comm); n > paddingComm {
			paddingComm = n
		}
	}
	slices.Sort(pids)

	for _, pid := range pids {
		p := processes[pid]
		fmt.Printf("%s %7d %s %c %8d KB\n",
			color.CyanString("%7d", p.PID),
			p.PPID,
			color.GreenString("%-*s", paddingComm, p.Comm),
			p.State,
			p.RSSKB,
		)
	}
}

func displayRead(pos crunch.Position, data []byte, f *flatten.Flattener) {
	if pos.RegionName != "" {
		fmt.Printf("%s %s\n", color.YellowString("region:"), pos.RegionName)
	}
	fmt.Printf("%s flat=0x%x va=0x%x pa=0x%x (%d regions, %d MB flat)\n",
		color.YellowString("position:"),
		pos.FlatAddr, pos.VirtualAddr, pos.PhysicalAddr,
		len(f.Regions()), f.FlatSize()/(1<<20))

	for base := 0; base < len(data); base += 16 {
		end := base + 16
		if end > len(data) {
			end = len(data)
		}
		line := data[base:end]

		fmt.Print(color.CyanString("%08x  ", pos.FlatAddr+uint64(base)))
		for i, b := range line {
			if i == 8 {
				fmt.Print(" ")
			}
			fmt.Printf("%02x ", b)
		}
		for i := len(line); i < 16; i++ {
			if i == 8 {
				fmt.Print(" ")
			}
			fmt.Print("   ")
		}
		fmt.Print(" |")
		for _, b := range line {
			if b >= 0x20 && b < 0x7f {
				fmt.Printf("%c", b)
			} else {
				fmt.Print(".")
			}
		}
		fmt.Println("|")
	}
}
