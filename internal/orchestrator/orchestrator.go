// Package orchestrator fans device actions out across the inventory:
// bounded parallelism inside a group, groups strictly in priority order,
// every attempt retried under the configured policy.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/venuelab/avcontrold/internal/device"
	"github.com/venuelab/avcontrold/internal/proto"
	"github.com/venuelab/avcontrold/internal/registry"
	"github.com/venuelab/avcontrold/internal/retry"
)

// Action names a device operation.
type Action string

const (
	ActionTurnOn  Action = "turn_on"
	ActionTurnOff Action = "turn_off"
	ActionStatus  Action = "status"
)

// Triggers identify what initiated an execution.
const (
	TriggerSchedule = "scheduled"
	TriggerManual   = "manual"
	TriggerAPI      = "api"
	TriggerStartup  = "startup" // misfire catch-up after a restart
)

// DefaultParallelLimit bounds concurrent device operations daemon-wide.
const DefaultParallelLimit = 10

// DeviceResult is the terminal outcome of one device under one action.
type DeviceResult struct {
	DeviceID  string          `json:"device_id"`
	Name      string          `json:"name"`
	Group     string          `json:"group"`
	Family    device.Family   `json:"family"`
	Action    Action          `json:"action"`
	Success   bool            `json:"success"`
	Attempts  int             `json:"attempts"`
	Message   string          `json:"message,omitempty"`
	Response  string          `json:"response,omitempty"`
	Kind      proto.ErrorKind `json:"error_kind,omitempty"`
	Err       string          `json:"error,omitempty"`
	ElapsedMS int64           `json:"elapsed_ms"`
	Timestamp time.Time       `json:"timestamp"`
}

// ExecutionReport aggregates one batch execution.
type ExecutionReport struct {
	Action    Action         `json:"action"`
	Trigger   string         `json:"trigger"`
	Target    string         `json:"target"`
	Start     time.Time      `json:"start"`
	End       time.Time      `json:"end"`
	ElapsedMS int64          `json:"elapsed_ms"`
	Total     int            `json:"total"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Status    string         `json:"status"` // success, partial, failed
	Results   []DeviceResult `json:"results"`
}

// Recorder receives every finished device result with its attempt trail.
// Implemented by the action log; nil disables recording.
type Recorder interface {
	Record(res DeviceResult, attempts []retry.Attempt)
}

// Sink receives finished execution reports. Implemented by the report
// generator; nil disables report files.
type Sink interface {
	RecordExecution(rep *ExecutionReport)
}

// Orchestrator executes actions against the registry inventory.
type Orchestrator struct {
	reg      *registry.Registry
	adapters map[device.Family]proto.Adapter
	policy   retry.Policy
	sem      *semaphore.Weighted
	recorder Recorder
	sink     Sink
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder attaches a per-attempt recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithSink attaches an execution report sink.
func WithSink(s Sink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

// WithParallelLimit overrides the daemon-wide concurrency bound.
func WithParallelLimit(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// New builds an orchestrator over the given registry and adapter set.
func New(reg *registry.Registry, adapters map[device.Family]proto.Adapter, policy retry.Policy, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		reg:      reg,
		adapters: adapters,
		policy:   policy.Normalize(),
		sem:      semaphore.NewWeighted(DefaultParallelLimit),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Semaphore exposes the shared concurrency bound so the monitor's sweep
// competes for the same slots as command execution.
func (o *Orchestrator) Semaphore() *semaphore.Weighted {
	return o.sem
}

func (o *Orchestrator) adapter(f device.Family) (proto.Adapter, error) {
	a, ok := o.adapters[f]
	if !ok {
		return nil, fmt.Errorf("no adapter for family %q", f)
	}
	return a, nil
}

// op maps an action to a single-attempt adapter call.
func op(a proto.Adapter, dev *device.Device, action Action) (retry.Op, error) {
	switch action {
	case ActionTurnOn:
		return func(ctx context.Context) proto.Result { return a.PowerOn(ctx, dev) }, nil
	case ActionTurnOff:
		return func(ctx context.Context) proto.Result { return a.PowerOff(ctx, dev) }, nil
	case ActionStatus:
		return func(ctx context.Context) proto.Result { return a.Status(ctx, dev) }, nil
	default:
		return nil, fmt.Errorf("unknown action %q", action)
	}
}

// skippedResult marks a passive device as handled without contact.
func skippedResult(dev *device.Device, action Action) DeviceResult {
	return DeviceResult{
		DeviceID:  dev.ID,
		Name:      dev.Name,
		Group:     dev.Group,
		Family:    dev.Family,
		Action:    action,
		Success:   true,
		Attempts:  0,
		Message:   "skipped (no direct control)",
		Timestamp: time.Now(),
	}
}

// runDevice executes one action against one device under the retry
// policy. A panic inside an adapter is confined to this device and
// surfaces as an INTERNAL failure.
func (o *Orchestrator) runDevice(ctx context.Context, dev *device.Device, action Action) (res DeviceResult) {
	res = DeviceResult{
		DeviceID:  dev.ID,
		Name:      dev.Name,
		Group:     dev.Group,
		Family:    dev.Family,
		Action:    action,
		Timestamp: time.Now(),
	}
	var attempts []retry.Attempt
	defer func() {
		if r := recover(); r != nil {
			log.Printf("orchestrator: panic on device %s: %v", dev.ID, r)
			res.Success = false
			res.Kind = proto.KindInternal
			res.Err = fmt.Sprintf("panic: %v", r)
		}
		if o.recorder != nil {
			o.recorder.Record(res, attempts)
		}
	}()

	a, err := o.adapter(dev.Family)
	if err != nil {
		res.Kind = proto.KindInternal
		res.Err = err.Error()
		return res
	}
	attempt, err := op(a, dev, action)
	if err != nil {
		res.Kind = proto.KindInternal
		res.Err = err.Error()
		return res
	}

	policy := o.policy
	if action == ActionStatus {
		// Status queries are observational; one attempt, no backoff.
		policy.MaxAttempts = 1
	}

	f := retry.Run(ctx, policy, attempt)
	attempts = f.Attempts
	res.Success = f.Success
	res.Attempts = len(f.Attempts)
	res.Message = f.Result.Message
	res.Response = f.Result.Response
	res.Kind = f.Kind
	res.Err = f.Err
	res.ElapsedMS = f.ElapsedMS
	return res
}

// ActOnDevice executes one action against one device by id. Passive
// devices acknowledge power actions without contact.
func (o *Orchestrator) ActOnDevice(ctx context.Context, id string, action Action, trigger string) (DeviceResult, error) {
	snap := o.reg.Snapshot()
	dev, err := snap.Device(id)
	if err != nil {
		return DeviceResult{}, err
	}
	if !dev.Family.Controllable() && action != ActionStatus {
		res := skippedResult(dev, action)
		if o.recorder != nil {
			o.recorder.Record(res, nil)
		}
		return res, nil
	}
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return DeviceResult{}, err
	}
	defer o.sem.Release(1)
	return o.runDevice(ctx, dev, action), nil
}

// lampTimer is implemented by adapters that can report lamp hours.
type lampTimer interface {
	LampTime(ctx context.Context, dev *device.Device) proto.Result
}

// LampTime queries accumulated lamp hours on devices whose protocol
// supports it. Single attempt, no retry.
func (o *Orchestrator) LampTime(ctx context.Context, id string) (proto.Result, error) {
	snap := o.reg.Snapshot()
	dev, err := snap.Device(id)
	if err != nil {
		return proto.Result{}, err
	}
	a, err := o.adapter(dev.Family)
	if err != nil {
		return proto.Result{}, err
	}
	lt, ok := a.(lampTimer)
	if !ok {
		return proto.Result{}, fmt.Errorf("device %s (%s) does not report lamp time", id, dev.Family)
	}
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return proto.Result{}, err
	}
	defer o.sem.Release(1)
	return lt.LampTime(ctx, dev), nil
}

// shutterer is implemented by adapters that can mute or blank the
// picture without cutting power.
type shutterer interface {
	MuteOn(ctx context.Context, dev *device.Device) proto.Result
	MuteOff(ctx context.Context, dev *device.Device) proto.Result
	BlankOn(ctx context.Context, dev *device.Device) proto.Result
	BlankOff(ctx context.Context, dev *device.Device) proto.Result
}

// Mute engages or releases AV mute on devices whose protocol supports
// it. Single attempt, no retry.
func (o *Orchestrator) Mute(ctx context.Context, id string, on bool) (proto.Result, error) {
	return o.shutter(ctx, id, func(s shutterer, dev *device.Device) proto.Result {
		if on {
			return s.MuteOn(ctx, dev)
		}
		return s.MuteOff(ctx, dev)
	})
}

// Blank blanks or restores the picture on devices whose protocol
// supports it. Single attempt, no retry.
func (o *Orchestrator) Blank(ctx context.Context, id string, on bool) (proto.Result, error) {
	return o.shutter(ctx, id, func(s shutterer, dev *device.Device) proto.Result {
		if on {
			return s.BlankOn(ctx, dev)
		}
		return s.BlankOff(ctx, dev)
	})
}

func (o *Orchestrator) shutter(ctx context.Context, id string, fn func(shutterer, *device.Device) proto.Result) (proto.Result, error) {
	snap := o.reg.Snapshot()
	dev, err := snap.Device(id)
	if err != nil {
		return proto.Result{}, err
	}
	a, err := o.adapter(dev.Family)
	if err != nil {
		return proto.Result{}, err
	}
	s, ok := a.(shutterer)
	if !ok {
		return proto.Result{}, fmt.Errorf("device %s (%s) has no AV mute control", id, dev.Family)
	}
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return proto.Result{}, err
	}
	defer o.sem.Release(1)
	return fn(s, dev), nil
}

// runBatch executes action over devices with bounded parallelism, or
// serially when parallel is false. Results keep the input order.
func (o *Orchestrator) runBatch(ctx context.Context, devices []*device.Device, action Action, parallel bool) []DeviceResult {
	results := make([]DeviceResult, len(devices))

	if !parallel {
		for i, dev := range devices {
			if err := o.sem.Acquire(ctx, 1); err != nil {
				results[i] = cancelled(dev, action, err)
				continue
			}
			results[i] = o.runDevice(ctx, dev, action)
			o.sem.Release(1)
		}
		return results
	}

	var wg sync.WaitGroup
	for i, dev := range devices {
		if err := o.sem.Acquire(ctx, 1); err != nil {
			results[i] = cancelled(dev, action, err)
			continue
		}
		wg.Add(1)
		go func(i int, dev *device.Device) {
			defer wg.Done()
			defer o.sem.Release(1)
			results[i] = o.runDevice(ctx, dev, action)
		}(i, dev)
	}
	wg.Wait()
	return results
}

func cancelled(dev *device.Device, action Action, err error) DeviceResult {
	return DeviceResult{
		DeviceID:  dev.ID,
		Name:      dev.Name,
		Group:     dev.Group,
		Family:    dev.Family,
		Action:    action,
		Kind:      proto.KindCancelled,
		Err:       err.Error(),
		Timestamp: time.Now(),
	}
}

// report folds device results into an execution report.
func report(action Action, trigger, target string, start time.Time, results []DeviceResult) *ExecutionReport {
	rep := &ExecutionReport{
		Action:  action,
		Trigger: trigger,
		Target:  target,
		Start:   start,
		End:     time.Now(),
		Total:   len(results),
		Results: results,
	}
	rep.ElapsedMS = rep.End.Sub(start).Milliseconds()
	for _, r := range results {
		if r.Success {
			rep.Succeeded++
		} else {
			rep.Failed++
		}
	}
	switch {
	case rep.Total == 0 || rep.Succeeded == rep.Total:
		rep.Status = "success"
	case float64(rep.Succeeded) >= 0.8*float64(rep.Total):
		rep.Status = "partial"
	default:
		rep.Status = "failed"
	}
	return rep
}

func (o *Orchestrator) emit(rep *ExecutionReport) *ExecutionReport {
	log.Printf("orchestrator: %s %s target=%s %d/%d ok status=%s in %dms",
		rep.Trigger, rep.Action, rep.Target, rep.Succeeded, rep.Total, rep.Status, rep.ElapsedMS)
	if o.sink != nil {
		o.sink.RecordExecution(rep)
	}
	return rep
}

// ActOnGroup executes one action against every enabled device of a
// group, honouring the group's parallel flag.
func (o *Orchestrator) ActOnGroup(ctx context.Context, groupID string, action Action, trigger string) (*ExecutionReport, error) {
	snap := o.reg.Snapshot()
	grp, err := snap.Group(groupID)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	devices := batchable(snap.ByGroup(groupID), action)
	results := o.runBatch(ctx, devices, action, grp.Parallel)
	return o.emit(report(action, trigger, "group:"+groupID, start, results)), nil
}

// ActOnAll executes one action across the whole inventory, group by
// group in ascending priority. A group must finish before the next
// one starts. Passive devices are left out of power batches.
func (o *Orchestrator) ActOnAll(ctx context.Context, action Action, trigger string) *ExecutionReport {
	snap := o.reg.Snapshot()
	start := time.Now()
	var results []DeviceResult
	for _, grp := range snap.GroupsByPriority() {
		devices := batchable(snap.ByGroup(grp.ID), action)
		if len(devices) == 0 {
			continue
		}
		results = append(results, o.runBatch(ctx, devices, action, grp.Parallel)...)
	}
	return o.emit(report(action, trigger, "all", start, results))
}

// ActOnFamily executes one action against every enabled device of a
// protocol family.
func (o *Orchestrator) ActOnFamily(ctx context.Context, f device.Family, action Action, trigger string) *ExecutionReport {
	snap := o.reg.Snapshot()
	start := time.Now()
	devices := batchable(snap.ByFamily(f), action)
	results := o.runBatch(ctx, devices, action, true)
	return o.emit(report(action, trigger, "family:"+string(f), start, results))
}

// batchable filters a device list down to the ones a batch action
// touches: enabled, and for power actions, controllable.
func batchable(devices []*device.Device, action Action) []*device.Device {
	out := make([]*device.Device, 0, len(devices))
	for _, d := range devices {
		if !d.Enabled {
			continue
		}
		if action != ActionStatus && !d.Family.Controllable() {
			continue
		}
		out = append(out, d)
	}
	return out
}
