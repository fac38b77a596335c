package constants

// Layers

const (
	LayerBronze = "bronze"
	LayerSilver = "silver"
	LayerGold   = "gold"
)

// Components

const (
	ChanSize                     = 20000
	StatsCaptureFrequencySeconds = 5
	TimeFormatYearSeconds        = "20060102T150405" // used for human readable file names
	TimeFormatYearSecondsRegex   = "[0-9]{4}[0-9]{2}[0-9]{2}T[0-9]{6}"
	TimeFormatYearSecondsTZ      = "20060102T150405-0700" // a format that round-trips through SQL Server and Snowflake
	DedupStatusFieldName         = "#dedupStatus"
	ScdStatusFieldName           = "#scdStatus"
	ValidationErrorsFieldName    = "#validationErrors"
	TableFieldName               = "#table" // gold rows: dimension snapshots carry "dim_<name>", fact rows carry nothing.
	DedupValueWinner             = "W"
	DedupValueLoser              = "L"
	ScdValueUnchanged            = "U"
	ScdValueNewKey               = "N"
	ScdValueNewVersion           = "V"
)

// Batches

const (
	BatchStatusPending    = "pending"
	BatchStatusInProgress = "in_progress"
	BatchStatusCompleted  = "completed"
	BatchStatusFailed     = "failed"
)

// Field-error policies applied on behalf of the normalizer's caller.

const (
	ErrorPolicyDrop       = "drop"
	ErrorPolicyQuarantine = "quarantine"
	ErrorPolicyFail       = "fail"
)

// Environment and connections

const (
	EnvVarPrefix              = "STRATA" // prefix for environment variables
	EnvVarLogLevel            = EnvVarPrefix + "_LOG_LEVEL"
	ConnectionTypeMemory      = "memory"
	ConnectionTypeSqlServer   = "sqlserver"
	ConnectionTypeSnowflake   = "snowflake"
	KeyResolverRetriesDefault = 3
	StoreBatchSizeDefault     = 1000
)
