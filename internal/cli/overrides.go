package cli

import (
	"github.com/spf13/pflag"

	"merakihec/internal/config"
	"merakihec/internal/flags"
)

// overrides holds flag values. Only flags the user actually set are copied
// onto the loaded config, so file values survive unset flags.
type overrides struct {
	orgID      string
	baseURL    string
	authScheme string
	rate       float64

	hecURL string
	index  string
	gzip   bool
	dryRun bool

	threads    int
	timeout    float64
	errorLimit int
	insecure   bool

	timespan     int
	windowPolicy string
	modelPrefix  string
	sample       bool

	logFile         string
	logLevel        string
	metricsTextfile string

	host       string
	port       int
	removeHost string
	roles      []string
}

var defaults = config.New()

func (o *overrides) addAPIFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.orgID, flags.FlagOrgID, "", "Meraki organization id (list them with: merakihec orgs)")
	fs.StringVar(&o.baseURL, flags.FlagBaseURL, defaults.Meraki.BaseURL, "Meraki API base URL")
	fs.StringVar(&o.authScheme, flags.FlagAuthScheme, defaults.Meraki.AuthScheme, "How the API key is sent: header|bearer")
	fs.Float64Var(&o.rate, flags.FlagRate, defaults.Meraki.RatePerSecond, "Max Meraki requests per second across all workers (0 = unlimited)")
	fs.IntVar(&o.threads, flags.FlagThreads, defaults.Runtime.Threads, "Worker threads per fan-out stage")
	fs.Float64Var(&o.timeout, flags.FlagTimeout, defaults.Runtime.Timeout, "Per-request timeout in seconds")
	fs.IntVar(&o.errorLimit, flags.FlagErrorLimit, defaults.Runtime.ErrorLimit, "Abort the run after this many transient errors")
	fs.BoolVar(&o.insecure, flags.FlagInsecure, false, "Skip TLS certificate verification")
	fs.StringVar(&o.logFile, flags.FlagLogFile, "", "Rotated JSON log file (default: JSON to stderr)")
	fs.StringVar(&o.logLevel, flags.FlagLogLevel, defaults.Log.Level, "Log level: debug|info|warn|error")
	fs.StringVar(&o.metricsTextfile, flags.FlagMetricsTextfile, "", "Write run metrics to this node_exporter textfile")
}

func (o *overrides) addHECFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.hecURL, flags.FlagHECURL, "", "HTTP Event Collector URL (path defaults to "+config.DefaultHECPath+")")
	fs.StringVar(&o.index, flags.FlagIndex, defaults.HEC.Index, "Destination index")
	fs.BoolVar(&o.gzip, flags.FlagGzip, false, "Gzip event batches")
	fs.BoolVar(&o.dryRun, flags.FlagDryRun, false, "Write events to stdout as NDJSON instead of posting them")
}

func (o *overrides) addCollectionFlags(fs *pflag.FlagSet) {
	fs.IntVar(&o.timespan, flags.FlagTimespan, defaults.Window.Timespan, "Client lookback in seconds; match the cron interval")
	fs.StringVar(&o.windowPolicy, flags.FlagWindowPolicy, defaults.Window.Policy, "Loss/latency window end: now|hour|lagged")
	fs.StringVar(&o.modelPrefix, flags.FlagModelPrefix, defaults.Devices.ModelPrefix, "Model prefix of devices that get performance and loss/latency fetches")
	fs.BoolVar(&o.sample, flags.FlagSample, false, "Only process the sample.networks/sample.devices first items")
}

func (o *overrides) addSyslogFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.host, flags.FlagHost, "", "Syslog server host to configure on every network")
	fs.IntVar(&o.port, flags.FlagPort, defaults.Syslog.Port, "Syslog server port")
	fs.StringVar(&o.removeHost, flags.FlagRemoveHost, "", "Syslog server host to remove from every network")
	fs.StringSliceVar(&o.roles, flags.FlagRole, nil, "Syslog role (repeatable; comma-separated accepted)")
}

// apply copies every flag set on the command line onto cfg.
func (o *overrides) apply(fs *pflag.FlagSet, cfg *config.Config) {
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case flags.FlagOrgID:
			cfg.Meraki.OrgID = o.orgID
		case flags.FlagBaseURL:
			cfg.Meraki.BaseURL = o.baseURL
		case flags.FlagAuthScheme:
			cfg.Meraki.AuthScheme = o.authScheme
		case flags.FlagRate:
			cfg.Meraki.RatePerSecond = o.rate
		case flags.FlagHECURL:
			cfg.HEC.URL = o.hecURL
		case flags.FlagIndex:
			cfg.HEC.Index = o.index
		case flags.FlagGzip:
			cfg.HEC.Gzip = o.gzip
		case flags.FlagDryRun:
			cfg.HEC.DryRun = o.dryRun
		case flags.FlagThreads:
			cfg.Runtime.Threads = o.threads
		case flags.FlagTimeout:
			cfg.Runtime.Timeout = o.timeout
		case flags.FlagErrorLimit:
			cfg.Runtime.ErrorLimit = o.errorLimit
		case flags.FlagInsecure:
			cfg.Runtime.InsecureSkipVerify = o.insecure
		case flags.FlagTimespan:
			cfg.Window.Timespan = o.timespan
		case flags.FlagWindowPolicy:
			cfg.Window.Policy = o.windowPolicy
		case flags.FlagModelPrefix:
			cfg.Devices.ModelPrefix = o.modelPrefix
		case flags.FlagSample:
			cfg.Sample.Enabled = o.sample
		case flags.FlagLogFile:
			cfg.Log.Path = o.logFile
		case flags.FlagLogLevel:
			cfg.Log.Level = o.logLevel
		case flags.FlagMetricsTextfile:
			cfg.Metrics.Textfile = o.metricsTextfile
		case flags.FlagHost:
			cfg.Syslog.Host = o.host
		case flags.FlagPort:
			cfg.Syslog.Port = o.port
		case flags.FlagRemoveHost:
			cfg.Syslog.RemoveHost = o.removeHost
		case flags.FlagRole:
			cfg.Syslog.Roles = append([]string(nil), o.roles...)
		}
	})
}
