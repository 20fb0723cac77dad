package main

import (
	goflag "flag"
	"os"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/pflag"

	"beaconview/pkg/beacon"
	"beaconview/pkg/crunch"
	"beaconview/pkg/flatten"
	"beaconview/pkg/guestmap"
	"beaconview/pkg/physmem"
	"beaconview/pkg/translate"
)

var (
	memFile       string
	camera        int
	targetPID     uint32
	mapsFile      string
	flatOffset    uint64
	length        int
	listProcesses bool
	waitDiscovery time.Duration
)

func init() {
	pflag.StringVarP(&memFile, "mem-file", "m", "/tmp/haywire-vm-mem", "guest memory-backend file")
	pflag.IntVarP(&camera, "camera", "c", 1, "camera slot to use (1 or 2)")
	pflag.Uint32VarP(&targetPID, "pid", "p", 0, "guest process id (0 for interactive picker)")
	pflag.StringVar(&mapsFile, "maps-file", "", "optional maps capture to build the flat space from")
	pflag.Uint64VarP(&flatOffset, "offset", "o", 0, "flat offset to read from")
	pflag.IntVarP(&length, "length", "n", 256, "bytes to read")
	pflag.BoolVarP(&listProcesses, "list", "l", false, "list guest processes and exit")
	pflag.DurationVar(&waitDiscovery, "wait", 10*time.Second, "how long to wait for the guest companion")

	pflag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	pflag.Parse()
}

func main() {
	region, err := beacon.OpenRegion(memFile)
	if err != nil {
		glog.Errorf("Failed to open shared region: %v", err)
		os.Exit(1)
	}
	defer region.Close()

	reader := beacon.NewReader(region)
	if !waitForDiscovery(reader) {
		glog.Errorf("No discovery page after %s; is the companion running in the guest?", waitDiscovery)
		os.Exit(1)
	}

	if listProcesses {
		displayProcesses(reader.AllProcessInfo())
		return
	}

	pid := targetPID
	if pid == 0 {
		if pid, err = pickProcess(reader); err != nil {
			glog.Errorf("Process selection failed: %v", err)
			os.Exit(1)
		}
	}

	if !reader.SetCameraFocus(camera, pid) {
		glog.Errorf("Failed to point camera %d at pid %d", camera, pid)
		os.Exit(1)
	}
	glog.Infof("Camera %d focused on pid %d", camera, pid)

	flattener, ok := buildFlattener(reader, pid)
	if !ok {
		glog.Errorf("No memory map available for pid %d", pid)
		os.Exit(1)
	}

	translator := translate.New(reader, translate.WithCameras(camera))
	translator.SetFocus(pid)
	translator.UpdateFromBeacon(pid)

	phys, err := physmem.Open(memFile)
	if err != nil {
		glog.Errorf("Failed to open physical source: %v", err)
		os.Exit(1)
	}
	defer phys.Close()

	cr := crunch.NewReader()
	cr.SetFlattener(flattener)
	cr.SetTranslator(translator)
	cr.SetPhysicalMemory(phys)
	cr.SetTargetPID(pid)

	buf := make([]byte, length)
	n := cr.ReadCrunched(flatOffset, buf)
	pos, _ := cr.PositionInfo(flatOffset)
	displayRead(pos, buf[:n], flattener)
}

// waitForDiscovery polls for the companion's discovery page. The guest
// side may simply not have started yet; that is a retry, not an error.
func waitForDiscovery(reader *beacon.Reader) bool {
	deadline := time.Now().Add(waitDiscovery)
	for {
		if reader.FindDiscovery() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(500 * time.Millisecond)
	}
}

// buildFlattener prefers a maps capture when one was given, otherwise
// waits for the camera to publish the section list for pid.
func buildFlattener(reader *beacon.Reader, pid uint32) (*flatten.Flattener, bool) {
	var input []flatten.MapRegion

	if mapsFile != "" {
		regions, err := guestmap.ParseFile(mapsFile)
		if err != nil {
			glog.Errorf("Failed to parse maps file: %v", err)
			return nil, false
		}
		for _, r := range regions {
			if !r.Readable() {
				continue
			}
			input = append(input, flatten.MapRegion{Start: r.Start, End: r.End, Name: r.Name})
		}
	} else {
		// Give the companion a few cycles to capture the new focus.
		for i := 0; i < 20 && input == nil; i++ {
			time.Sleep(250 * time.Millisecond)
			reader.Refresh()
			for _, s := range reader.CameraSections(camera, pid) {
				input = append(input, flatten.MapRegion{Start: s.VAStart, End: s.VAEnd, Name: s.Path})
			}
		}
	}

	if len(input) == 0 {
		return nil, false
	}
	f := &flatten.Flattener{}
	f.Build(input)
	return f, true
}
