// avctl is the CLI for the avcontrold venue A/V control daemon.
//
// Commands:
//
//	avctl up        Start avcontrold daemon
//	avctl down      Stop avcontrold daemon
//	avctl status    Show daemon and fleet status
//	avctl devices   List devices
//	avctl on/off    Power devices, groups, or the whole venue
//	avctl schedule  Inspect and edit the automation schedule
//	avctl alerts    Show recent monitoring alerts
//	avctl logs      Show the action log
//	avctl report    Show or generate a daily report
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/venuelab/avcontrold/internal/actionlog"
	"github.com/venuelab/avcontrold/internal/client"
	"github.com/venuelab/avcontrold/internal/orchestrator"
	"github.com/venuelab/avcontrold/internal/proto"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "up":
		cmdUp()
	case "down":
		cmdDown()
	case "status":
		cmdStatus()
	case "devices":
		cmdDevices()
	case "device":
		cmdDevice()
	case "on":
		cmdPower(true)
	case "off":
		cmdPower(false)
	case "lamptime":
		cmdLampTime()
	case "mute", "unmute":
		cmdShutter(os.Args[1])
	case "blank", "unblank":
		cmdShutter(os.Args[1])
	case "schedule":
		cmdSchedule()
	case "sweep":
		cmdSweep()
	case "alerts":
		cmdAlerts()
	case "logs":
		cmdLogs()
	case "report":
		cmdReport()
	case "reload":
		cmdReload()
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`Usage: avctl <command> [options]

Commands:
  up                        Start avcontrold daemon
  down                      Stop avcontrold daemon
  status                    Show daemon and fleet status
  devices [--all]           List enabled devices (--all includes disabled)
  device <id>               Show one device and query its power state
  on  [<id> | --group <g> | --all]   Turn on
  off [<id> | --group <g> | --all]   Turn off
  lamptime <id>             Show a projector's lamp hours
  mute/unmute <id>          Engage or release AV mute
  blank/unblank <id>        Blank or restore the picture
  schedule [show|enable|disable|set|exclude|trigger]
  sweep                     Run a health sweep now
  alerts [-n N]             Show recent alerts
  logs [<device-id>] [--date YYYY-MM-DD]
  report <date> [--generate]
  reload                    Reload daemon config from disk

Examples:
  avctl on proj-foyer
  avctl off --group main-hall
  avctl on --all
  avctl schedule set --on 08:30 --off 21:00
  avctl schedule exclude add 2026-12-25
  avctl schedule trigger daily_turn_on
  avctl report 2026-08-24 --generate`)
}

func pidFilePath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".avcontrold", "data", "avcontrold.pid")
}

func newClient() *client.Client {
	if addr := os.Getenv("AVCTL_ADDR"); addr != "" {
		return client.NewTCP(addr)
	}
	return client.NewDefault()
}

func isDaemonRunning() bool {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func cmdUp() {
	if isDaemonRunning() {
		fmt.Println("avcontrold is already running")
		return
	}

	// Find avcontrold binary next to this binary
	exe, _ := os.Executable()
	daemonBin := filepath.Join(filepath.Dir(exe), "avcontrold")
	if _, err := os.Stat(daemonBin); err != nil {
		fatal("avcontrold binary not found at %s", daemonBin)
	}

	cmd := exec.Command(daemonBin)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		fatal("start avcontrold: %v", err)
	}

	for i := 0; i < 10; i++ {
		time.Sleep(200 * time.Millisecond)
		if isDaemonRunning() {
			fmt.Printf("avcontrold started (pid %d)\n", cmd.Process.Pid)
			return
		}
	}
	fatal("avcontrold did not start within timeout")
}

func cmdDown() {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		fmt.Println("avcontrold is not running")
		return
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		fmt.Println("avcontrold is not running (invalid pid file)")
		return
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		fmt.Println("avcontrold is not running")
		return
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		fatal("send SIGTERM: %v", err)
	}
	fmt.Printf("avcontrold stopping (pid %d)\n", pid)

	for i := 0; i < 50; i++ {
		if !isDaemonRunning() {
			fmt.Println("avcontrold stopped")
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	fatal("avcontrold did not stop within timeout")
}

func cmdStatus() {
	if !isDaemonRunning() && os.Getenv("AVCTL_ADDR") == "" {
		fmt.Println("avcontrold: not running")
		return
	}
	ctx := context.Background()
	c := newClient()

	h, err := c.Health(ctx)
	if err != nil {
		fatal("get health: %v", err)
	}
	fmt.Printf("avcontrold: %s (%s), %d devices\n", h.Status, h.Version, h.Devices)

	sum, err := c.MonitorSummary(ctx)
	if err != nil {
		fmt.Printf("monitoring: %v\n", err)
		return
	}
	fmt.Printf("last sweep: %s  online %d  degraded %d  offline %d  (rate %.0f%%)\n",
		sum.Time.Local().Format("15:04:05"), sum.Online, sum.Degraded, sum.Offline, sum.OnlineRate*100)
	for _, rec := range sum.Records {
		if rec.State == "online" {
			continue
		}
		fmt.Printf("  %-20s %-10s %s\n", rec.DeviceID, rec.State, rec.Message)
	}
}

func cmdDevices() {
	all := len(os.Args) > 2 && os.Args[2] == "--all"
	devs, err := newClient().ListDevices(context.Background(), !all)
	if err != nil {
		fatal("list devices: %v", err)
	}
	fmt.Printf("%-20s %-24s %-14s %-14s %-16s %s\n", "ID", "NAME", "GROUP", "FAMILY", "IP", "ENABLED")
	for _, d := range devs {
		enabled := "yes"
		if !d.Enabled {
			enabled = "no (" + d.ReasonDisabled + ")"
		}
		fmt.Printf("%-20s %-24s %-14s %-14s %-16s %s\n", d.ID, d.Name, d.Group, d.Family, d.IP, enabled)
	}
}

func cmdDevice() {
	if len(os.Args) < 3 {
		fatal("usage: avctl device <id>")
	}
	id := os.Args[2]
	ctx := context.Background()
	c := newClient()

	d, err := c.GetDevice(ctx, id)
	if err != nil {
		fatal("get device: %v", err)
	}
	fmt.Printf("%s (%s)\n", d.Name, d.ID)
	fmt.Printf("  group:  %s\n", d.Group)
	fmt.Printf("  family: %s\n", d.Family)
	fmt.Printf("  addr:   %s:%d\n", d.IP, d.EffectivePort())
	if !d.Enabled {
		fmt.Printf("  disabled: %s\n", d.ReasonDisabled)
	}

	res, err := c.DeviceStatus(ctx, id)
	if err != nil {
		fatal("query status: %v", err)
	}
	if res.Success {
		fmt.Printf("  state:  %s (%dms)\n", res.Message, res.ElapsedMS)
	} else {
		fmt.Printf("  state:  unknown (%s: %s)\n", res.Kind, res.Err)
	}
}

func cmdPower(on bool) {
	verb := "off"
	if on {
		verb = "on"
	}
	args := os.Args[2:]
	if len(args) == 0 {
		fatal("usage: avctl %s [<id> | --group <g> | --all]", verb)
	}
	ctx := context.Background()
	c := newClient()

	switch args[0] {
	case "--all":
		printReport(mustBatch(onOffAll(ctx, c, on)))
	case "--group":
		if len(args) < 2 {
			fatal("--group requires a group id")
		}
		printReport(mustBatch(onOffGroup(ctx, c, on, args[1])))
	default:
		var res *orchestrator.DeviceResult
		var err error
		if on {
			res, err = c.DeviceOn(ctx, args[0])
		} else {
			res, err = c.DeviceOff(ctx, args[0])
		}
		if err != nil {
			fatal("turn %s: %v", verb, err)
		}
		if res.Success {
			fmt.Printf("%s: %s ok (%d attempts, %dms)\n", args[0], verb, res.Attempts, res.ElapsedMS)
		} else {
			fmt.Printf("%s: %s FAILED after %d attempts: %s %s\n", args[0], verb, res.Attempts, res.Kind, res.Err)
			os.Exit(1)
		}
	}
}

func onOffAll(ctx context.Context, c *client.Client, on bool) (*orchestrator.ExecutionReport, error) {
	if on {
		return c.AllOn(ctx)
	}
	return c.AllOff(ctx)
}

func onOffGroup(ctx context.Context, c *client.Client, on bool, group string) (*orchestrator.ExecutionReport, error) {
	if on {
		return c.GroupOn(ctx, group)
	}
	return c.GroupOff(ctx, group)
}

func mustBatch(rep *orchestrator.ExecutionReport, err error) *orchestrator.ExecutionReport {
	if err != nil {
		fatal("batch action: %v", err)
	}
	return rep
}

func printReport(rep *orchestrator.ExecutionReport) {
	fmt.Printf("%s: %d/%d succeeded (%s, %dms)\n", rep.Action, rep.Succeeded, rep.Total, rep.Status, rep.ElapsedMS)
	for _, r := range rep.Results {
		mark := "ok"
		if !r.Success {
			mark = fmt.Sprintf("FAILED (%s: %s)", r.Kind, r.Err)
		}
		fmt.Printf("  %-20s %-14s %s\n", r.DeviceID, r.Group, mark)
	}
	if rep.Status != "success" {
		os.Exit(1)
	}
}

func cmdLampTime() {
	if len(os.Args) < 3 {
		fatal("usage: avctl lamptime <id>")
	}
	res, err := newClient().LampTime(context.Background(), os.Args[2])
	if err != nil {
		fatal("lamp time: %v", err)
	}
	if !res.Success {
		fatal("lamp time query failed: %s %s", res.Kind, res.Err)
	}
	fmt.Println(res.Message)
}

func cmdShutter(verb string) {
	if len(os.Args) < 3 {
		fatal("usage: avctl %s <id>", verb)
	}
	ctx := context.Background()
	c := newClient()
	id := os.Args[2]

	var res *proto.Result
	var err error
	switch verb {
	case "mute":
		res, err = c.Mute(ctx, id, true)
	case "unmute":
		res, err = c.Mute(ctx, id, false)
	case "blank":
		res, err = c.Blank(ctx, id, true)
	case "unblank":
		res, err = c.Blank(ctx, id, false)
	}
	if err != nil {
		fatal("%s: %v", verb, err)
	}
	if !res.Success {
		fatal("%s failed: %s %s", verb, res.Kind, res.Err)
	}
	fmt.Printf("%s: %s ok\n", id, verb)
}

func cmdSchedule() {
	ctx := context.Background()
	c := newClient()
	sub := "show"
	if len(os.Args) > 2 {
		sub = os.Args[2]
	}

	switch sub {
	case "show":
		scheduleShow(ctx, c)
	case "enable":
		if err := c.EnableSchedule(ctx); err != nil {
			fatal("enable schedule: %v", err)
		}
		fmt.Println("schedule enabled")
	case "disable":
		if err := c.DisableSchedule(ctx); err != nil {
			fatal("disable schedule: %v", err)
		}
		fmt.Println("schedule disabled")
	case "set":
		scheduleSet(ctx, c, os.Args[3:])
	case "exclude":
		scheduleExclude(ctx, c, os.Args[3:])
	case "trigger":
		if len(os.Args) < 4 {
			fatal("usage: avctl schedule trigger <job>")
		}
		if err := c.TriggerJob(ctx, os.Args[3]); err != nil {
			fatal("trigger job: %v", err)
		}
		fmt.Printf("job %s triggered\n", os.Args[3])
	default:
		fatal("unknown schedule subcommand: %s", sub)
	}
}

func scheduleShow(ctx context.Context, c *client.Client) {
	s, err := c.GetSchedule(ctx)
	if err != nil {
		fatal("get schedule: %v", err)
	}
	state := "disabled"
	if s.Settings.Enabled {
		state = "enabled"
	}
	fmt.Printf("schedule: %s, on %s off %s\n", state, s.Settings.TurnOnTime, s.Settings.TurnOffTime)
	if len(s.Settings.ExcludedDates) > 0 {
		fmt.Printf("excluded: %s\n", strings.Join(s.Settings.ExcludedDates, ", "))
	}
	for _, j := range s.Jobs {
		next := "-"
		if !j.Next.IsZero() {
			next = j.Next.Local().Format("Mon 15:04")
		}
		last := "-"
		if !j.Last.IsZero() {
			last = j.Last.Local().Format("Mon 15:04")
		}
		fmt.Printf("  %-18s next %-12s last %s\n", j.Name, next, last)
	}
}

func scheduleSet(ctx context.Context, c *client.Client, args []string) {
	s, err := c.GetSchedule(ctx)
	if err != nil {
		fatal("get schedule: %v", err)
	}
	settings := s.Settings
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--on":
			i++
			if i >= len(args) {
				fatal("--on requires a HH:MM time")
			}
			settings.TurnOnTime = args[i]
		case "--off":
			i++
			if i >= len(args) {
				fatal("--off requires a HH:MM time")
			}
			settings.TurnOffTime = args[i]
		default:
			fatal("unknown flag: %s", args[i])
		}
	}
	if _, err := c.UpdateSchedule(ctx, settings); err != nil {
		fatal("update schedule: %v", err)
	}
	fmt.Printf("schedule updated: on %s off %s\n", settings.TurnOnTime, settings.TurnOffTime)
}

func scheduleExclude(ctx context.Context, c *client.Client, args []string) {
	if len(args) < 2 {
		fatal("usage: avctl schedule exclude <add|remove> <YYYY-MM-DD>")
	}
	switch args[0] {
	case "add":
		if err := c.AddExcludedDate(ctx, args[1]); err != nil {
			fatal("add excluded date: %v", err)
		}
		fmt.Printf("excluded %s\n", args[1])
	case "remove":
		if err := c.RemoveExcludedDate(ctx, args[1]); err != nil {
			fatal("remove excluded date: %v", err)
		}
		fmt.Printf("removed %s\n", args[1])
	default:
		fatal("usage: avctl schedule exclude <add|remove> <YYYY-MM-DD>")
	}
}

func cmdSweep() {
	sum, err := newClient().Sweep(context.Background())
	if err != nil {
		fatal("sweep: %v", err)
	}
	fmt.Printf("sweep: online %d  degraded %d  offline %d  (rate %.0f%%)\n",
		sum.Online, sum.Degraded, sum.Offline, sum.OnlineRate*100)
	for _, rec := range sum.Records {
		fmt.Printf("  %-20s %-10s ping %dms  %s\n", rec.DeviceID, rec.State, rec.PingMS, rec.Message)
	}
	for _, a := range sum.Alerts {
		fmt.Printf("  ALERT [%s] %s: %s\n", a.Severity, a.Type, a.Message)
	}
}

func cmdAlerts() {
	n := 20
	if len(os.Args) > 3 && os.Args[2] == "-n" {
		v, err := strconv.Atoi(os.Args[3])
		if err != nil {
			fatal("invalid count: %s", os.Args[3])
		}
		n = v
	}
	alerts, err := newClient().Alerts(context.Background(), n)
	if err != nil {
		fatal("get alerts: %v", err)
	}
	if len(alerts) == 0 {
		fmt.Println("no alerts")
		return
	}
	for _, a := range alerts {
		dev := a.DeviceID
		if dev == "" {
			dev = "-"
		}
		fmt.Printf("%s  %-8s %-18s %-20s %s\n",
			a.Time.Local().Format("2006-01-02 15:04:05"), a.Severity, a.Type, dev, a.Message)
	}
}

func cmdLogs() {
	ctx := context.Background()
	c := newClient()
	args := os.Args[2:]

	var deviceID, date string
	for i := 0; i < len(args); i++ {
		if args[i] == "--date" {
			i++
			if i >= len(args) {
				fatal("--date requires YYYY-MM-DD")
			}
			date = args[i]
		} else {
			deviceID = args[i]
		}
	}

	var entries []actionlog.Entry
	var err error
	if deviceID != "" {
		entries, err = c.DeviceLogs(ctx, deviceID, 0)
	} else {
		entries, err = c.Logs(ctx, date)
	}
	if err != nil {
		fatal("get logs: %v", err)
	}
	if len(entries) == 0 {
		fmt.Println("no log entries")
		return
	}
	for _, e := range entries {
		mark := "ok"
		if !e.Success {
			mark = "FAIL " + e.Kind
		}
		fmt.Printf("%s  %-20s %-10s try %d  %-18s %dms  %s\n",
			e.Timestamp.Local().Format("15:04:05"), e.DeviceID, e.Action, e.Attempt, mark, e.ElapsedMS, e.Err)
	}
}

func cmdReport() {
	if len(os.Args) < 3 {
		fatal("usage: avctl report <YYYY-MM-DD> [--generate]")
	}
	date := os.Args[2]
	generate := len(os.Args) > 3 && os.Args[3] == "--generate"

	ctx := context.Background()
	c := newClient()

	var rep *client.DailyReport
	var err error
	if generate {
		rep, err = c.GenerateDailyReport(ctx, date)
	} else {
		rep, err = c.DailyReport(ctx, date)
	}
	if err != nil {
		fatal("daily report: %v", err)
	}
	fmt.Print(rep.Body)
}

func cmdReload() {
	res, err := newClient().Reload(context.Background())
	if err != nil {
		fatal("reload: %v", err)
	}
	fmt.Printf("config reloaded: %d devices\n", res.Devices)
}
