// Package config loads keeper configuration files.
//
// Files are YAML. Before decoding, a file is checked against an embedded CUE
// schema so that every problem is reported with its line and column.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/roach88/upkeep/internal/bitfield"
	"github.com/roach88/upkeep/internal/keeper"
	"github.com/roach88/upkeep/internal/maintain"
)

//go:embed schema.cue
var schemaCUE string

// Defaults for optional fields.
const (
	DefaultKeeper        = "default"
	DefaultDatabase      = "upkeep.db"
	DefaultTick          = 12 * time.Second
	DefaultBlocksPerTick = 1
)

// File is a decoded configuration file.
type File struct {
	Keeper     string  `yaml:"keeper"`
	Database   string  `yaml:"database"`
	Owner      string  `yaml:"owner"`
	Registry   string  `yaml:"registry"`
	Interval   uint64  `yaml:"interval"`
	BatchLimit uint64  `yaml:"batch_limit"`
	Mode       string  `yaml:"mode"`
	FieldBits  uint    `yaml:"field_bits"`
	Maintain   Command `yaml:"maintain"`
	Engine     Engine  `yaml:"engine"`
}

// Command configures the exec maintainer. An empty command selects the
// no-op maintainer.
type Command struct {
	Command []string      `yaml:"command"`
	Timeout time.Duration `yaml:"timeout"`
}

// Engine configures `upkeep run`.
type Engine struct {
	Tick               time.Duration `yaml:"tick"`
	BlocksPerTick      uint64        `yaml:"blocks_per_tick"`
	MaxPerformsPerTick int           `yaml:"max_performs_per_tick"`
}

// ValidationError is one schema violation.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

func (e ValidationError) String() string {
	if e.Line > 0 {
		return fmt.Sprintf("%d:%d: %s: %s", e.Line, e.Column, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// InvalidError is returned by Load and Parse when a file fails validation.
type InvalidError struct {
	Name   string
	Errors []ValidationError
}

func (e *InvalidError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.String()
	}
	return fmt.Sprintf("invalid config %s: %s", e.Name, strings.Join(msgs, "; "))
}

// Load reads, validates and decodes the file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(path, data)
}

// Parse validates and decodes data. name is used in error positions.
func Parse(name string, data []byte) (*File, error) {
	if errs := Validate(name, data); len(errs) > 0 {
		return nil, &InvalidError{Name: name, Errors: errs}
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", name, err)
	}
	f.applyDefaults()
	return &f, nil
}

// Validate checks data against the schema and returns every violation.
func Validate(name string, data []byte) []ValidationError {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		// The schema is embedded; failing to compile it is a build defect.
		panic("config: invalid embedded schema: " + err.Error())
	}

	file, err := cueyaml.Extract(name, data)
	if err != nil {
		return fromCUE(err)
	}
	value := ctx.BuildFile(file)
	if err := value.Err(); err != nil {
		return fromCUE(err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fromCUE(err)
	}
	return nil
}

func fromCUE(err error) []ValidationError {
	var out []ValidationError
	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{
			Field:   strings.Join(e.Path(), "."),
			Message: e.Error(),
		}
		if ve.Field == "" {
			ve.Field = "config"
		}
		for _, pos := range cueerrors.Positions(e) {
			// Prefer a position in the config file over one in the schema.
			if pos.Filename() != "schema.cue" {
				ve.Line = pos.Line()
				ve.Column = pos.Column()
				break
			}
		}
		out = append(out, ve)
	}
	return out
}

func (f *File) applyDefaults() {
	if f.Keeper == "" {
		f.Keeper = DefaultKeeper
	}
	if f.Database == "" {
		f.Database = DefaultDatabase
	}
	if f.BatchLimit == 0 {
		f.BatchLimit = keeper.DefaultBatchLimit
	}
	if f.Mode == "" {
		f.Mode = string(keeper.ModePerResource)
	}
	if f.FieldBits == 0 {
		f.FieldBits = bitfield.DefaultFieldBits
	}
	if f.Engine.Tick == 0 {
		f.Engine.Tick = DefaultTick
	}
	if f.Engine.BlocksPerTick == 0 {
		f.Engine.BlocksPerTick = DefaultBlocksPerTick
	}
	if f.Engine.MaxPerformsPerTick == 0 {
		f.Engine.MaxPerformsPerTick = 1
	}
}

// KeeperConfig returns the keeper configuration the file describes.
func (f *File) KeeperConfig() (keeper.Config, error) {
	if !common.IsHexAddress(f.Owner) {
		return keeper.Config{}, fmt.Errorf("owner %q is not an address", f.Owner)
	}
	mode, err := keeper.ParseMode(f.Mode)
	if err != nil {
		return keeper.Config{}, err
	}
	cfg := keeper.Config{
		Owner:      common.HexToAddress(f.Owner),
		Interval:   f.Interval,
		BatchLimit: f.BatchLimit,
		Mode:       mode,
		FieldBits:  f.FieldBits,
	}
	if err := cfg.Validate(); err != nil {
		return keeper.Config{}, err
	}
	return cfg, nil
}

// Maintainer returns the maintainer the file describes.
func (f *File) Maintainer() (keeper.Maintainer, error) {
	if len(f.Maintain.Command) == 0 {
		return maintain.Nop{}, nil
	}
	return maintain.NewExec(f.Maintain.Command, f.Maintain.Timeout)
}
