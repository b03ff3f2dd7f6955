package player

import (
	"context"
	"errors"
	"time"

	"dvbrx/internal/source"
)

// ErrStopped is returned for requests posted after the loop exited.
var ErrStopped = errors.New("player stopped")

type requestKind int

const (
	reqTune requestKind = iota
	reqRestart
	reqStatus
	reqHotplug
	reqQuit
)

type request struct {
	kind   requestKind
	band   source.Band
	values map[string]source.ParamValue
	action string
	reply  chan response
}

type response struct {
	report Report
	err    error
}

// Report is a point-in-time view of the receiver.
type Report struct {
	Kind     source.Kind
	Band     source.Band
	Values   map[string]source.ParamValue
	Valid    bool
	State    source.CoreState
	Status   source.Snapshot
	Media    source.Media
	Playing  bool
	Autoplay bool
	Watchdog WatchdogReport
}

// WatchdogReport describes the restart scheduler.
type WatchdogReport struct {
	Pending bool
	Delay   time.Duration
}

func (p *Player) call(ctx context.Context, req request) (Report, error) {
	req.reply = make(chan response, 1)
	if err := p.requests.Send(req); err != nil {
		return Report{}, ErrStopped
	}
	select {
	case resp := <-req.reply:
		return resp.report, resp.err
	case <-p.done:
		return Report{}, ErrStopped
	case <-ctx.Done():
		return Report{}, ctx.Err()
	}
}

// Tune switches to band with values applied and returns the new report.
func (p *Player) Tune(ctx context.Context, band source.Band, values map[string]source.ParamValue) (Report, error) {
	return p.call(ctx, request{kind: reqTune, band: band, values: values})
}

// Restart restarts the active source.
func (p *Player) Restart(ctx context.Context) (Report, error) {
	return p.call(ctx, request{kind: reqRestart})
}

// Status returns the current report.
func (p *Player) Status(ctx context.Context) (Report, error) {
	return p.call(ctx, request{kind: reqStatus})
}

// HardwareChanged is a hotplug callback; it may be called from any goroutine.
func (p *Player) HardwareChanged(action, dev string) {
	_ = p.requests.Send(request{kind: reqHotplug, action: action})
}
