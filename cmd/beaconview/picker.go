package main

import (
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"
	"golang.org/x/exp/slices"

	"beaconview/pkg/beacon"
)

func pickProcess(reader *beacon.Reader) (uint32, error) {
	infos := reader.AllProcessInfo()
	if len(infos) == 0 {
		return 0, fmt.Errorf("no process list available yet")
	}

	entries := make([]beacon.ProcessInfo, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, info)
	}
	slices.SortFunc(entries, func(a, b beacon.ProcessInfo) bool { return a.PID < b.PID })

	sel := promptui.Select{
		Label: "<SELECT PROCESS>",
		Items: entries,
		Size:  16,
		Templates: &promptui.SelectTemplates{
			Label:    "{{ . }}",
			Active:   "> [{{ .PID }}] {{ .Comm | green }}",
			Inactive: "  [{{ .PID }}] {{ .Comm }}",
			Selected: "Process > [{{ .PID }}] {{ .Comm | green }}",
			Details: `
──────────────────── Process ────────────────────
{{ "Comm:" | faint }}	{{ .Comm }}
{{ "PID:" | faint }}	{{ .PID | cyan }}
{{ "PPID:" | faint }}	{{ .PPID }}
{{ "RSS:" | faint }}	{{ .RSSKB }} KB`,
		},
		Searcher: func(input string, index int) bool {
			return strings.Contains(entries[index].Comm, input) ||
				strings.Contains(fmt.Sprint(entries[index].PID), input)
		},
	}

	idx, _, err := sel.Run()
	if err != nil {
		return 0, err
	}
	return entries[idx].PID, nil
}
