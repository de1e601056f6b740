package config

const (
	defaultWorkDir             = "~/.local/share/casewatch/work"
	defaultStateDir            = "~/.local/share/casewatch"
	defaultStatusFile          = "inference.json"
	defaultPollIntervalSeconds = 3
	defaultProgressBucket      = 1
	defaultTopK                = 3
	defaultClassifierTimeout   = 60
	defaultServiceBind         = "127.0.0.1:8982"
	defaultServiceDBName       = "jobs.db"
	defaultMaxUploadMB         = 32
	defaultRESTBaseURL         = "http://127.0.0.1:8080"
	defaultRESTServicePath     = "nuix-restful-service/svc"
	defaultRESTLicenseType     = "enterprise-workstation"
	defaultRESTWorkers         = 2
	defaultRESTRequestsPerSec  = 10
	defaultRESTTimeoutSeconds  = 60
	defaultRESTReadySeconds    = 120
	defaultRESTAsyncPollSecs   = 10
	defaultExportSubfolder     = "export_{id}"
	defaultExportTagFormat     = "export|{year}.{month}.{day}|pg{page}"
	defaultExportTagQuery      = `tag:"{export_tag}"`
	defaultExportWorkers       = 2
	defaultExportPageSize      = 100
	defaultNtfyTimeoutSeconds  = 10
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

var defaultExtensions = []string{".jpg", ".jpeg"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir:    defaultWorkDir,
			StateDir:   defaultStateDir,
			StatusFile: defaultStatusFile,
		},
		Monitor: Monitor{
			PollIntervalSeconds: defaultPollIntervalSeconds,
			Dedup:               true,
			ProgressBucket:      defaultProgressBucket,
			AtomicWrites:        true,
		},
		Classifier: Classifier{
			TopK:           defaultTopK,
			TimeoutSeconds: defaultClassifierTimeout,
			Extensions:     append([]string(nil), defaultExtensions...),
		},
		Service: Service{
			Bind:        defaultServiceBind,
			MaxUploadMB: defaultMaxUploadMB,
		},
		REST: REST{
			BaseURL:             defaultRESTBaseURL,
			ServicePath:         defaultRESTServicePath,
			LicenseType:         defaultRESTLicenseType,
			Workers:             defaultRESTWorkers,
			RequestsPerSecond:   defaultRESTRequestsPerSec,
			TimeoutSeconds:      defaultRESTTimeoutSeconds,
			ReadyTimeoutSeconds: defaultRESTReadySeconds,
			AsyncPollSeconds:    defaultRESTAsyncPollSecs,
		},
		Export: Export{
			Subfolder: defaultExportSubfolder,
			TagFormat: defaultExportTagFormat,
			TagQuery:  defaultExportTagQuery,
			Workers:   defaultExportWorkers,
			PageSize:  defaultExportPageSize,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNtfyTimeoutSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
