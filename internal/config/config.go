// Package config defines the run parameters for a benchmark and the
// loading/validation pipeline around them. Parameters are read once at
// startup from defaults, an optional YAML file, and environment
// variables, then validated; after that they are treated as read-only
// by every phase of the run.
package config

import (
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/parabench/parabench/pkg/xerrors"
)

// Parameters is the complete configuration for a benchmark run.
type Parameters struct {
	Run       RunConfig       `yaml:"run"`
	Data      DataConfig      `yaml:"data"`
	Access    AccessConfig    `yaml:"access"`
	Stonewall StonewallConfig `yaml:"stonewall"`
	Verify    VerifyConfig    `yaml:"verify"`
	Metadata  MetadataConfig  `yaml:"metadata"`
}

// RunConfig represents run-level settings
type RunConfig struct {
	API               string `yaml:"api"`
	TestDir           string `yaml:"test_dir"`
	TestFileName      string `yaml:"test_file_name"`
	NumTasks          int    `yaml:"num_tasks"`
	Repetitions       int    `yaml:"repetitions"`
	InterTestDelaySec int    `yaml:"inter_test_delay_sec"`
	IntraTestBarriers bool   `yaml:"intra_test_barriers"`
	KeepFile          bool   `yaml:"keep_file"`
	UseExistingFile   bool   `yaml:"use_existing_file"`
	LogLevel          string `yaml:"log_level"`
	RandomSeed        int    `yaml:"random_seed"`
}

// DataConfig represents the bulk-transfer settings
type DataConfig struct {
	BlockSize         int64  `yaml:"block_size"`
	TransferSize      int64  `yaml:"transfer_size"`
	SegmentCount      int64  `yaml:"segment_count"`
	QueueDepth        int    `yaml:"queue_depth"`
	DirectIO          bool   `yaml:"direct_io"`
	Fsync             bool   `yaml:"fsync"`
	FsyncPerWrite     bool   `yaml:"fsync_per_write"`
	SingleXferAttempt bool   `yaml:"single_xfer_attempt"`
	PacketType        string `yaml:"packet_type"` // "timestamp" or "offset"
	TimeStampSig      int    `yaml:"time_stamp_signature"`
}

// AccessConfig represents access-pattern settings
type AccessConfig struct {
	FilePerProc        bool `yaml:"file_per_proc"`
	RandomOffset       bool `yaml:"random_offset"`
	ReorderTasks       bool `yaml:"reorder_tasks"`
	ReorderTasksRandom bool `yaml:"reorder_tasks_random"`
	ReorderRandomSeed  int  `yaml:"reorder_random_seed"`
	TaskOffset         int  `yaml:"task_offset"`
}

// StonewallConfig represents stonewalling and run-time limits
type StonewallConfig struct {
	DeadlineSec        int    `yaml:"deadline_sec"`
	WearOut            bool   `yaml:"wear_out"`
	WearOutIterations  uint64 `yaml:"wear_out_iterations"`
	MaxTimeDurationMin int    `yaml:"max_time_duration_min"`
}

// VerifyConfig represents which phases run and how results are checked
type VerifyConfig struct {
	WriteFile  bool `yaml:"write_file"`
	ReadFile   bool `yaml:"read_file"`
	CheckWrite bool `yaml:"check_write"`
	CheckRead  bool `yaml:"check_read"`
	FatalErr   bool `yaml:"fatal_mismatch"`
}

// MetadataConfig represents the metadata (tree) benchmark settings
type MetadataConfig struct {
	Enabled          bool  `yaml:"enabled"`
	Items            int64 `yaml:"items"`
	ItemsPerDir      int64 `yaml:"items_per_dir"`
	BranchFactor     int   `yaml:"branch_factor"`
	Depth            int   `yaml:"depth"`
	LeafOnly         bool  `yaml:"leaf_only"`
	UniqueDirPerTask bool  `yaml:"unique_dir_per_task"`
	DirsOnly         bool  `yaml:"dirs_only"`
	FilesOnly        bool  `yaml:"files_only"`
	WriteBytes       int64 `yaml:"write_bytes"`
	ReadBytes        int64 `yaml:"read_bytes"`
	SyncFile         bool  `yaml:"sync_file"`
	MakeNode         bool  `yaml:"make_node"`
	RenameDirs       bool  `yaml:"rename_dirs"`
	RandomSeed       int   `yaml:"random_seed"`
	StonewallSec     int   `yaml:"stonewall_sec"`
}

const (
	// PacketTimestamp fills buffers with rank/sequence words.
	PacketTimestamp = "timestamp"
	// PacketOffset additionally stamps file offsets into the buffer.
	PacketOffset = "offset"
)

// NewDefault returns parameters matching the conventional single-rank,
// 1 MiB block / 256 KiB transfer POSIX run.
func NewDefault() *Parameters {
	return &Parameters{
		Run: RunConfig{
			API:               "posix",
			TestDir:           ".",
			TestFileName:      "testFile",
			NumTasks:          1,
			Repetitions:       1,
			IntraTestBarriers: true,
			LogLevel:          "INFO",
		},
		Data: DataConfig{
			BlockSize:    1 << 20,
			TransferSize: 256 << 10,
			SegmentCount: 1,
			QueueDepth:   1,
			PacketType:   PacketTimestamp,
		},
		Access: AccessConfig{
			TaskOffset: 1,
		},
		Verify: VerifyConfig{
			WriteFile: true,
			ReadFile:  true,
		},
		Metadata: MetadataConfig{
			Items:        1000,
			ItemsPerDir:  1000,
			BranchFactor: 1,
			Depth:        0,
		},
	}
}

// LoadFromFile loads parameters from a YAML file on top of the
// receiver's current values.
func (p *Parameters) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return xerrors.Wrap(err, xerrors.KindConfiguration, "loading parameters").WithOp("config.load")
	}

	if err := yaml.Unmarshal(data, p); err != nil {
		return xerrors.Wrap(err, xerrors.KindConfiguration, "loading parameters").WithOp("config.load")
	}

	return nil
}

// SaveToFile writes the parameters to a YAML file.
func (p *Parameters) SaveToFile(filename string) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return xerrors.Wrap(err, xerrors.KindConfiguration, "saving parameters").WithOp("config.save")
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return xerrors.Wrap(err, xerrors.KindConfiguration, "saving parameters").WithOp("config.save")
	}
	return nil
}

// LoadFromEnv overrides parameters from PARABENCH_* environment
// variables.
func (p *Parameters) LoadFromEnv() error {
	if val := os.Getenv("PARABENCH_API"); val != "" {
		p.Run.API = val
	}
	if val := os.Getenv("PARABENCH_TEST_DIR"); val != "" {
		p.Run.TestDir = val
	}
	if val := os.Getenv("PARABENCH_TEST_FILE"); val != "" {
		p.Run.TestFileName = val
	}
	if val := os.Getenv("PARABENCH_LOG_LEVEL"); val != "" {
		p.Run.LogLevel = val
	}
	if val := os.Getenv("PARABENCH_NUM_TASKS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			p.Run.NumTasks = n
		}
	}
	if val := os.Getenv("PARABENCH_BLOCK_SIZE"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			p.Data.BlockSize = n
		}
	}
	if val := os.Getenv("PARABENCH_TRANSFER_SIZE"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			p.Data.TransferSize = n
		}
	}
	if val := os.Getenv("PARABENCH_SEGMENT_COUNT"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			p.Data.SegmentCount = n
		}
	}
	if val := os.Getenv("PARABENCH_QUEUE_DEPTH"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			p.Data.QueueDepth = n
		}
	}
	if val := os.Getenv("PARABENCH_DIRECT_IO"); val != "" {
		p.Data.DirectIO = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("PARABENCH_FILE_PER_PROC"); val != "" {
		p.Access.FilePerProc = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("PARABENCH_STONEWALL_SEC"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			p.Stonewall.DeadlineSec = n
		}
	}
	return nil
}

// Validate checks the parameters for internal consistency. Violations
// return a ConfigurationError naming the offending field.
func (p *Parameters) Validate() error {
	bad := func(msg string) error {
		return xerrors.New(xerrors.KindConfiguration, msg).WithOp("config.validate")
	}

	if p.Run.API == "" {
		return bad("api must not be empty")
	}
	if p.Run.NumTasks < 1 {
		return bad("num_tasks must be >= 1")
	}
	if p.Run.Repetitions < 1 {
		return bad("repetitions must be >= 1")
	}
	if p.Data.TransferSize <= 0 {
		return bad("transfer_size must be > 0")
	}
	if p.Data.BlockSize <= 0 {
		return bad("block_size must be > 0")
	}
	if p.Data.BlockSize%p.Data.TransferSize != 0 {
		return bad("block_size must be a multiple of transfer_size")
	}
	if p.Data.SegmentCount < 1 {
		return bad("segment_count must be >= 1")
	}
	if p.Data.QueueDepth < 1 {
		return bad("queue_depth must be >= 1")
	}
	if p.Data.PacketType != PacketTimestamp && p.Data.PacketType != PacketOffset {
		return bad("packet_type must be \"timestamp\" or \"offset\"")
	}
	if p.Verify.CheckWrite && !p.Verify.WriteFile {
		return bad("check_write requires write_file")
	}
	if p.Stonewall.DeadlineSec < 0 {
		return bad("stonewall deadline_sec must be >= 0")
	}
	if p.Metadata.Enabled {
		if p.Metadata.BranchFactor < 1 {
			return bad("branch_factor must be >= 1")
		}
		if p.Metadata.Depth < 0 {
			return bad("depth must be >= 0")
		}
		if p.Metadata.Items < 1 {
			return bad("items must be >= 1")
		}
		if p.Metadata.ItemsPerDir < 1 {
			return bad("items_per_dir must be >= 1")
		}
		if p.Metadata.DirsOnly && p.Metadata.FilesOnly {
			return bad("dirs_only and files_only are mutually exclusive")
		}
	}
	return nil
}

// TransfersPerBlock returns how many transfers make up one block.
func (p *Parameters) TransfersPerBlock() int64 {
	return p.Data.BlockSize / p.Data.TransferSize
}

// ExpectedAggFileSize returns the aggregate number of bytes a full
// write phase moves across all ranks.
func (p *Parameters) ExpectedAggFileSize() int64 {
	return p.Data.BlockSize * p.Data.SegmentCount * int64(p.Run.NumTasks)
}
