package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	fwagent "github.com/httprunner/fwagent"
	"github.com/httprunner/fwagent/pkg/cmdlog"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	formatText = "text"
	formatYAML = "yaml"
	formatJSON = "json"
)

func checkFormat(format string) error {
	switch format {
	case formatText, formatYAML, formatJSON:
		return nil
	}
	return &fwagent.UsageError{Err: errors.Errorf("unknown format %q, want text|yaml|json", format)}
}

func renderPlan(w io.Writer, plan fwagent.Plan, format string) error {
	switch format {
	case formatYAML, formatJSON:
		return encode(w, plan, format)
	}
	if plan.DeviceCount() == 0 {
		_, err := fmt.Fprintln(w, "no devices to update")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tPOOL\tDEVICE\tSLOT")
	n := 0
	for _, pool := range plan.Pools {
		for _, dev := range pool.Devices {
			n++
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", n, pool.Name, dev.Device, dev.Slot)
		}
	}
	return tw.Flush()
}

func renderHistory(w io.Writer, entries []cmdlog.Entry, format string) error {
	switch format {
	case formatYAML, formatJSON:
		if entries == nil {
			entries = []cmdlog.Entry{}
		}
		return encode(w, entries, format)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tKIND\tOUTCOME\tEXIT\tDURATION\tCOMMAND")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			e.StartedAt.Local().Format(time.DateTime),
			e.Kind,
			e.Outcome,
			e.ExitStatus,
			time.Duration(e.DurationMS)*time.Millisecond,
			e.Command,
		)
	}
	return tw.Flush()
}

func encode(w io.Writer, v any, format string) error {
	if format == formatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(v), "encode json")
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return errors.Wrap(err, "encode yaml")
	}
	return errors.Wrap(enc.Close(), "encode yaml")
}
