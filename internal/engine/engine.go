package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"merakihec/internal/config"
	"merakihec/internal/data"
	"merakihec/internal/event"
	"merakihec/internal/fetcher"
	"merakihec/internal/metrics"
	"merakihec/internal/syslog"
)

// Endpoints builds vendor API URLs. *meraki.Client implements it.
type Endpoints interface {
	OrganizationsURL() string
	NetworksURL(orgID string) string
	DeviceStatusesURL(orgID string) string
	DevicesURL(orgID string) string
	UplinksLossAndLatencyURL(orgID string) string
	DeviceUplinkURL(networkID, serial string) string
	DevicePerformanceURL(networkID, serial string) string
	DeviceLossAndLatencyURL(networkID, serial string) string
	DeviceClientsURL(serial string) string
	SyslogServersURL(networkID string) string
}

// Sink receives shaped event batches. output.Sink implementations satisfy it.
type Sink interface {
	Send(ctx context.Context, events []event.Event) error
}

// Stage names used in logs, progress lines and metrics labels.
const (
	StageNetworks    = "networks"
	StageStatuses    = "device_statuses"
	StageDevices     = "devices"
	StageDeviceInfo  = "device_details"
	StageLossLatency = "loss_latency"
	StageClients     = "clients"
	StageOrgLoss     = "org_loss_latency"
	StageSyslog      = "syslog"
)

// Deps is the process-wide state a run needs. Nothing in the engine reaches
// for globals.
type Deps struct {
	Logger    *slog.Logger
	Exec      fetcher.Doer
	Validator *fetcher.Validator
	Walker    *fetcher.Walker
	API       Endpoints
	Sink      Sink
	Metrics   *metrics.Metrics
	Aborter   *Aborter
	Reporter  Reporter
	Now       func() time.Time
	SessionID string
}

type Options struct {
	OrgID   string
	PerPage int
	Threads int

	Index  string
	Source string

	ModelPrefix string
	Uplinks     []string
	LossIP      string

	// ClientTimespan is the lookback for client queries.
	ClientTimespan time.Duration

	Window     WindowPolicy
	WindowSpan time.Duration
	WindowLag  time.Duration

	// SampleNetworks and SampleDevices cap the items processed. 0 means all.
	SampleNetworks int
	SampleDevices  int
}

func OptionsFromConfig(cfg *config.Config) (Options, error) {
	if cfg == nil {
		return Options{}, errors.New("config is nil")
	}
	policy, err := ParseWindowPolicy(cfg.Window.Policy)
	if err != nil {
		return Options{}, err
	}
	o := Options{
		OrgID:          cfg.Meraki.OrgID,
		PerPage:        cfg.Meraki.PerPage,
		Threads:        cfg.Runtime.Threads,
		Index:          cfg.HEC.Index,
		Source:         cfg.HEC.Source,
		ModelPrefix:    cfg.Devices.ModelPrefix,
		Uplinks:        append([]string(nil), cfg.Devices.Uplinks...),
		LossIP:         cfg.Devices.LossIP,
		ClientTimespan: time.Duration(cfg.Window.Timespan) * time.Second,
		Window:         policy,
		WindowSpan:     cfg.Window.SpanDuration(),
		WindowLag:      cfg.Window.LagDuration(),
	}
	if cfg.Sample.Enabled {
		o.SampleNetworks = cfg.Sample.Networks
		o.SampleDevices = cfg.Sample.Devices
	}
	return o, nil
}

type Engine struct {
	deps   Deps
	opts   Options
	sched  *Scheduler
	events event.Builder
}

func New(deps Deps, opts Options) (*Engine, error) {
	if deps.Exec == nil {
		return nil, errors.New("engine: executor is nil")
	}
	if deps.Validator == nil {
		return nil, errors.New("engine: validator is nil")
	}
	if deps.API == nil {
		return nil, errors.New("engine: endpoints are nil")
	}
	if deps.Aborter == nil {
		return nil, errors.New("engine: aborter is nil")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Walker == nil {
		deps.Walker = fetcher.NewWalker(deps.Exec, deps.Validator, deps.Logger)
	}
	if deps.Reporter == nil {
		deps.Reporter = nopReporter{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.SessionID == "" {
		deps.SessionID = uuid.NewString()
	}
	if opts.Threads <= 0 {
		opts.Threads = 1
	}

	sched, err := NewScheduler(opts.Threads, deps.Logger,
		WithAbort(deps.Aborter.Abort),
		WithItemObserver(deps.Metrics),
		WithProgress(deps.Reporter),
	)
	if err != nil {
		return nil, err
	}
	return &Engine{
		deps:   deps,
		opts:   opts,
		sched:  sched,
		events: event.Builder{Index: opts.Index, Source: opts.Source},
	}, nil
}

// Run executes the full collection pipeline and ends the run through the
// Aborter: DONE on success, INCOMPLETE on any stage failure or interrupt.
func (e *Engine) Run(ctx context.Context) error {
	return e.finish(e.run(ctx))
}

// RunLoss fetches the org-wide uplink loss and latency over a lagged window
// and forwards it as one batch.
func (e *Engine) RunLoss(ctx context.Context) error {
	return e.finish(e.orgLossLatency(ctx))
}

func (e *Engine) finish(err error) error {
	if err != nil {
		reason := "Run failed: " + err.Error()
		if errors.Is(err, context.Canceled) {
			reason = "Interrupted. Stopped dispatching work."
		}
		e.deps.Aborter.Abort(reason)
		return err
	}
	if !e.deps.Aborter.Finish() {
		return errors.New("run was aborted")
	}
	return nil
}

var errNoOrg = errors.New("org id is required (see `merakihec orgs`)")

func (e *Engine) run(ctx context.Context) error {
	if e.opts.OrgID == "" {
		return errNoOrg
	}
	log := e.deps.Logger.With("session_id", e.deps.SessionID, "org_id", e.opts.OrgID)
	log.Info("Starting collection.", "threads", e.opts.Threads)

	networks, err := e.networks(ctx)
	if err != nil {
		return err
	}
	if len(networks) == 0 {
		log.Warn("No networks found. Nothing else to collect.")
		return nil
	}

	lookup, err := e.statuses(ctx)
	if err != nil {
		return err
	}

	devices, err := e.devices(ctx, networks)
	if err != nil {
		return err
	}

	if err := e.stage(ctx, StageDeviceInfo, len(devices), func() (int, error) {
		return Run(ctx, e.sched, StageDeviceInfo, devices, func(ctx context.Context, it DeviceItem) error {
			return e.deviceDetails(ctx, it, lookup)
		})
	}); err != nil {
		return err
	}

	prefixed := filterByModelPrefix(devices, e.opts.ModelPrefix)
	window, err := e.opts.Window.Compute(e.deps.Now(), e.opts.WindowSpan, e.opts.WindowLag)
	if err != nil {
		return err
	}
	if err := e.stage(ctx, StageLossLatency, len(prefixed), func() (int, error) {
		return Run(ctx, e.sched, StageLossLatency, prefixed, func(ctx context.Context, it DeviceItem) error {
			return e.deviceLossLatency(ctx, it, window)
		})
	}); err != nil {
		return err
	}

	return e.stage(ctx, StageClients, len(devices), func() (int, error) {
		return Run(ctx, e.sched, StageClients, devices, e.deviceClients)
	})
}

// stage runs one fan-out stage with its banner, timing and summary line.
func (e *Engine) stage(ctx context.Context, name string, total int, fn func() (int, error)) error {
	e.deps.Reporter.Stage("Processing %s for %d item(s)...", name, total)
	start := e.deps.Now()
	completed, err := fn()
	elapsed := e.deps.Now().Sub(start)
	e.deps.Metrics.ObserveStage(name, elapsed)
	e.deps.Logger.Info("Stage finished.", "stage", name, "total", total, "completed", completed, "failed", total-completed, "elapsed_seconds", elapsed.Seconds())
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return ctx.Err()
}

func (e *Engine) networks(ctx context.Context) ([]NetworkItem, error) {
	defer e.timeStage(StageNetworks)()
	e.deps.Reporter.Stage("Getting networks...")

	res := e.deps.Exec.Execute(ctx, fetcher.Request{URL: e.deps.API.NetworksURL(e.opts.OrgID)})
	recs, vres := e.deps.Validator.List(res)
	if !vres.OK() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if vres.Empty() {
			return nil, nil
		}
		return nil, fmt.Errorf("get networks: %w", vres.Err)
	}
	recs = limit(recs, e.opts.SampleNetworks)
	e.deps.Reporter.Printf("Found %d network(s).", len(recs))
	e.deps.Logger.Info("Got networks.", "request_id", vres.RequestID, "network_count", len(recs))

	events := e.shape(event.KindNetwork, recs, vres.RequestID, event.Network)
	if err := e.forward(ctx, event.KindNetwork, events); err != nil {
		return nil, err
	}
	return networkItems(recs), nil
}

func (e *Engine) statuses(ctx context.Context) (event.StatusLookup, error) {
	defer e.timeStage(StageStatuses)()
	e.deps.Reporter.Stage("Getting device statuses...")

	res := e.deps.Exec.Execute(ctx, fetcher.Request{URL: e.deps.API.DeviceStatusesURL(e.opts.OrgID)})
	recs, vres := e.deps.Validator.List(res)
	if !vres.OK() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e.deps.Logger.Warn("No device statuses. Devices are sent without status.", "request_id", vres.RequestID, "kind", vres.Kind.String(), "error", vres.Err)
		return event.StatusLookup{}, nil
	}
	e.deps.Logger.Info("Got device statuses.", "request_id", vres.RequestID, "device_status_count", len(recs))
	return event.NewStatusLookup(recs), nil
}

func (e *Engine) devices(ctx context.Context, networks []NetworkItem) ([]DeviceItem, error) {
	defer e.timeStage(StageDevices)()
	e.deps.Reporter.Stage("Getting devices...")

	recs, res := e.deps.Walker.Walk(ctx, e.deps.API.DevicesURL(e.opts.OrgID), nil, e.opts.PerPage, false)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !res.OK() && !res.Empty() {
		e.deps.Logger.Warn("Device list is incomplete.", "request_id", res.RequestID, "kind", res.Kind.String(), "error", res.Err, "device_count", len(recs))
	}

	var keep map[string]struct{}
	if e.opts.SampleNetworks > 0 {
		keep = make(map[string]struct{}, len(networks))
		for _, n := range networks {
			keep[n.NetworkID] = struct{}{}
		}
	}
	items, skipped := deviceItems(recs, keep)
	if skipped > 0 {
		e.deps.Logger.Warn("Skipped devices without serial or network id.", "skipped", skipped)
	}
	items = limit(items, e.opts.SampleDevices)
	e.deps.Reporter.Printf("Found %d device(s).", len(items))
	e.deps.Logger.Info("Got devices.", "request_id", res.RequestID, "device_count", len(items))
	return items, nil
}

func (e *Engine) deviceDetails(ctx context.Context, it DeviceItem, lookup event.StatusLookup) error {
	log := e.deps.Logger.With("network_id", it.NetworkID, "device_serial", it.Serial)
	parts := event.DeviceParts{Statuses: lookup}

	res := e.deps.Exec.Execute(ctx, fetcher.Request{URL: e.deps.API.DeviceUplinkURL(it.NetworkID, it.Serial), GiveUp: true})
	uplinks, vres := e.deps.Validator.List(res)
	if err := ctx.Err(); err != nil {
		return err
	}
	requestID := vres.RequestID
	if vres.OK() {
		parts.Uplinks = uplinks
	} else {
		log.Warn("No uplinks for device.", "request_id", vres.RequestID, "kind", vres.Kind.String(), "error", vres.Err)
	}

	if hasModelPrefix(it.Model, e.opts.ModelPrefix) {
		log.Debug("Getting device performance.", "model", it.Model)
		res := e.deps.Exec.Execute(ctx, fetcher.Request{URL: e.deps.API.DevicePerformanceURL(it.NetworkID, it.Serial), GiveUp: true})
		perf, vres := e.deps.Validator.Object(res)
		if err := ctx.Err(); err != nil {
			return err
		}
		if vres.OK() {
			parts.Performance = perf
		} else {
			log.Warn("No performance for device.", "request_id", vres.RequestID, "kind", vres.Kind.String(), "error", vres.Err)
		}
	}

	body := event.Stamp(event.Device(it.Record, parts), e.deps.SessionID, requestID)
	ev, err := e.events.New(event.KindDevice, body, time.Time{})
	if err != nil {
		return err
	}
	return e.forward(ctx, event.KindDevice, []event.Event{ev})
}

func (e *Engine) deviceLossLatency(ctx context.Context, it DeviceItem, w Window) error {
	log := e.deps.Logger.With("network_id", it.NetworkID, "device_serial", it.Serial)
	var events []event.Event
	for _, uplink := range e.opts.Uplinks {
		params := w.Params()
		params.Set("uplink", uplink)
		if e.opts.LossIP != "" {
			params.Set("ip", e.opts.LossIP)
		}
		res := e.deps.Exec.Execute(ctx, fetcher.Request{
			URL:    e.deps.API.DeviceLossAndLatencyURL(it.NetworkID, it.Serial),
			Params: params,
			GiveUp: true,
		})
		series, vres := e.deps.Validator.List(res)
		if err := ctx.Err(); err != nil {
			return err
		}
		if !vres.OK() {
			if !vres.Empty() {
				log.Warn("No loss and latency for uplink.", "uplink", uplink, "request_id", vres.RequestID, "kind", vres.Kind.String(), "error", vres.Err)
			}
			continue
		}

		meta := data.Record{"networkId": it.NetworkID, "serial": it.Serial, "uplink": uplink}
		if e.opts.LossIP != "" {
			meta["ip"] = e.opts.LossIP
		}
		samples, skipped := event.FlattenSeries(meta, series)
		if skipped > 0 {
			log.Warn("Skipped loss and latency entries without timestamp.", "uplink", uplink, "skipped", skipped)
		}
		events = append(events, e.shapeSamples(samples, vres.RequestID)...)
	}
	return e.forward(ctx, event.KindLossLatency, events)
}

func (e *Engine) deviceClients(ctx context.Context, it DeviceItem) error {
	params := url.Values{}
	if e.opts.ClientTimespan > 0 {
		params.Set("timespan", strconv.FormatInt(int64(e.opts.ClientTimespan/time.Second), 10))
	}
	res := e.deps.Exec.Execute(ctx, fetcher.Request{URL: e.deps.API.DeviceClientsURL(it.Serial), Params: params, GiveUp: true})
	clients, vres := e.deps.Validator.List(res)
	if err := ctx.Err(); err != nil {
		return err
	}
	if !vres.OK() {
		if vres.Empty() {
			return nil
		}
		return fmt.Errorf("get clients for %s: %w", it.Serial, vres.Err)
	}
	e.deps.Logger.Debug("Got clients.", "request_id", vres.RequestID, "device_serial", it.Serial, "client_count", len(clients))

	events := e.shape(event.KindClient, clients, vres.RequestID, func(r data.Record) data.Record {
		return event.Client(r, it.NetworkID, it.Serial)
	})
	return e.forward(ctx, event.KindClient, events)
}

func (e *Engine) orgLossLatency(ctx context.Context) error {
	if e.opts.OrgID == "" {
		return errNoOrg
	}
	defer e.timeStage(StageOrgLoss)()
	e.deps.Reporter.Stage("Getting org-wide uplink loss and latency...")

	w, err := WindowLagged.Compute(e.deps.Now(), e.opts.WindowSpan, e.opts.WindowLag)
	if err != nil {
		return err
	}
	res := e.deps.Exec.Execute(ctx, fetcher.Request{URL: e.deps.API.UplinksLossAndLatencyURL(e.opts.OrgID), Params: w.Params()})
	parents, vres := e.deps.Validator.List(res)
	if !vres.OK() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if vres.Empty() {
			e.deps.Logger.Info("No loss and latency data to send.", "request_id", vres.RequestID)
			return nil
		}
		return fmt.Errorf("get uplinks loss and latency: %w", vres.Err)
	}
	e.deps.Logger.Info("Got device stats.", "request_id", vres.RequestID, "device_stats_count", len(parents))

	var events []event.Event
	for _, parent := range parents {
		samples, skipped := event.FlattenLossLatency(parent)
		if skipped > 0 {
			e.deps.Logger.Warn("Skipped loss and latency entries.", "serial", parent.Text("serial"), "skipped", skipped)
		}
		events = append(events, e.shapeSamples(samples, vres.RequestID)...)
	}
	e.deps.Reporter.Printf("Sending %d loss and latency event(s).", len(events))
	return e.forward(ctx, event.KindLossLatency, events)
}

// ListOrganizations returns the organizations visible to the API key.
func (e *Engine) ListOrganizations(ctx context.Context) ([]data.Record, error) {
	res := e.deps.Exec.Execute(ctx, fetcher.Request{URL: e.deps.API.OrganizationsURL(), GiveUp: true})
	orgs, vres := e.deps.Validator.List(res)
	if !vres.OK() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if vres.Empty() {
			return nil, nil
		}
		return nil, fmt.Errorf("list organizations: %w", vres.Err)
	}
	return orgs, nil
}

// ConfigureSyslog points every network of the organization at target and
// ends the run through the Aborter.
func (e *Engine) ConfigureSyslog(ctx context.Context, target syslog.Target) error {
	if err := target.Validate(); err != nil {
		return err
	}
	return e.finish(e.configureSyslog(ctx, target))
}

func (e *Engine) configureSyslog(ctx context.Context, target syslog.Target) error {
	if e.opts.OrgID == "" {
		return errNoOrg
	}
	e.deps.Reporter.Stage("Getting networks...")
	res := e.deps.Exec.Execute(ctx, fetcher.Request{URL: e.deps.API.NetworksURL(e.opts.OrgID)})
	recs, vres := e.deps.Validator.List(res)
	if !vres.OK() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if vres.Empty() {
			return nil
		}
		return fmt.Errorf("get networks: %w", vres.Err)
	}
	networks := networkItems(limit(recs, e.opts.SampleNetworks))
	e.deps.Reporter.Printf("Found %d network(s).", len(networks))
	e.deps.Logger.Info("Setting syslog server for each network.", "host", target.Host, "port", target.Port, "roles", target.Roles)

	return e.stage(ctx, StageSyslog, len(networks), func() (int, error) {
		return Run(ctx, e.sched, StageSyslog, networks, func(ctx context.Context, n NetworkItem) error {
			return e.networkSyslog(ctx, n, target)
		})
	})
}

func (e *Engine) networkSyslog(ctx context.Context, n NetworkItem, target syslog.Target) error {
	log := e.deps.Logger.With("network_id", n.NetworkID, "network_name", n.Name)
	endpoint := e.deps.API.SyslogServersURL(n.NetworkID)

	res := e.deps.Exec.Execute(ctx, fetcher.Request{URL: endpoint, GiveUp: true})
	vres := e.deps.Validator.Validate(res, fetcher.ShapeList)
	if err := ctx.Err(); err != nil {
		return err
	}
	if !vres.OK() {
		return fmt.Errorf("get syslog servers: %w", vres.Err)
	}
	existing, err := syslog.Decode(vres.Body)
	if err != nil {
		return err
	}

	plan := syslog.Reconcile(existing, target)
	log.Debug("Reconciled syslog servers.", "existing", len(existing), "kept", plan.Kept, "removed", plan.Removed, "replaced", plan.Replaced)

	body, err := syslog.Payload(plan.Servers)
	if err != nil {
		return err
	}
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	put := e.deps.Exec.Execute(ctx, fetcher.Request{Method: http.MethodPut, URL: endpoint, Header: header, Body: body, GiveUp: true})
	if !put.Delivered() {
		return fmt.Errorf("put syslog servers (status %d): %w", put.StatusCode, put.Err)
	}
	log.Info("Set syslog server.", "request_id", put.RequestID, "status", put.StatusCode, "host", target.Host, "port", target.Port)
	return nil
}

// shape builds one event per record. Records that shape to an empty body
// are logged and dropped.
func (e *Engine) shape(kind event.Kind, recs []data.Record, requestID string, fn func(data.Record) data.Record) []event.Event {
	out := make([]event.Event, 0, len(recs))
	for _, r := range recs {
		if len(r) == 0 {
			e.deps.Logger.Warn("Dropped empty record.", "sourcetype", string(kind), "request_id", requestID)
			continue
		}
		ev, err := e.events.New(kind, event.Stamp(fn(r), e.deps.SessionID, requestID), time.Time{})
		if err != nil {
			e.deps.Logger.Warn("Dropped record.", "sourcetype", string(kind), "request_id", requestID, "error", err)
			continue
		}
		out = append(out, ev)
	}
	return out
}

func (e *Engine) shapeSamples(samples []event.Sample, requestID string) []event.Event {
	out := make([]event.Event, 0, len(samples))
	for _, s := range samples {
		ev, err := e.events.New(event.KindLossLatency, event.Stamp(s.Body, e.deps.SessionID, requestID), s.Time)
		if err != nil {
			e.deps.Logger.Warn("Dropped sample.", "request_id", requestID, "error", err)
			continue
		}
		out = append(out, ev)
	}
	return out
}

func (e *Engine) forward(ctx context.Context, kind event.Kind, events []event.Event) error {
	if len(events) == 0 {
		return nil
	}
	if e.deps.Sink == nil {
		return errors.New("no sink configured")
	}
	if err := e.deps.Sink.Send(ctx, events); err != nil {
		return fmt.Errorf("forward %d %s event(s): %w", len(events), kind, err)
	}
	e.deps.Metrics.AddEvents(string(kind), len(events))
	return nil
}

func (e *Engine) timeStage(name string) func() {
	start := e.deps.Now()
	return func() { e.deps.Metrics.ObserveStage(name, e.deps.Now().Sub(start)) }
}
