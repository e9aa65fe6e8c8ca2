// Package vdoconfig loads the handful of tunables this dedup core owns
// (entries-per-block, journal size, write policy) from a TOML file, the
// way cmd/berith/config.go loads berConfig.
package vdoconfig

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"unicode"

	"github.com/naoina/toml"

	"github.com/berithfoundation/vdocore/internal/recoveryjournal"
)

// tomlSettings keeps TOML keys identical to the Go struct field names,
// the same convention cmd/berith/config.go uses.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string { return key },
	FieldToKey:    func(rt reflect.Type, field string) string { return field },
	MissingField: func(rt reflect.Type, field string) error {
		link := ""
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see %s#%s", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

// WritePolicy mirrors recoveryjournal.WritePolicy as a TOML-friendly
// string so config files read "sync"/"async"/"async-unsafe" instead of
// a bare integer.
type WritePolicy string

const (
	Sync         WritePolicy = "sync"
	Async        WritePolicy = "async"
	AsyncUnsafe  WritePolicy = "async-unsafe"
)

func (w WritePolicy) toInternal() (recoveryjournal.WritePolicy, error) {
	switch w {
	case Sync, "":
		return recoveryjournal.SyncPolicy, nil
	case Async:
		return recoveryjournal.AsyncPolicy, nil
	case AsyncUnsafe:
		return recoveryjournal.AsyncUnsafePolicy, nil
	default:
		return 0, fmt.Errorf("vdoconfig: unknown write policy %q", w)
	}
}

// Config is the full set of tunables this core owns. Administrative
// configuration for the surrounding VDO target (device size, thread
// counts for unrelated subsystems, statistics endpoints) is out of
// scope; this struct only carries what the hash-lock engine and
// recovery journal themselves need to start up.
type Config struct {
	JournalSize      uint64      `toml:",omitempty"`
	EntriesPerBlock  uint16      `toml:",omitempty"`
	NumLogicalZones  int         `toml:",omitempty"`
	NumPhysicalZones int         `toml:",omitempty"`
	WritePolicy      WritePolicy `toml:",omitempty"`
	IndexMemoEntries uint64      `toml:",omitempty"`

	// HashZones is the number of hash-zone shards cmd/vdoharness splits
	// incoming writes across; the core's own packages treat zone count as
	// a property of whoever constructs them, not a tunable of spec.md.
	HashZones int `toml:",omitempty"`
}

// Default returns the tunables a fresh harness run uses absent a config
// file, sized for the interactive console rather than a production
// device.
func Default() Config {
	return Config{
		JournalSize:      2048,
		EntriesPerBlock:  311,
		NumLogicalZones:  1,
		NumPhysicalZones: 1,
		WritePolicy:      Sync,
		IndexMemoEntries: 4096,
		HashZones:        4,
	}
}

// RecoveryJournalPolicy translates the TOML-friendly write policy into
// the enum recoveryjournal.Config expects.
func (c Config) RecoveryJournalPolicy() (recoveryjournal.WritePolicy, error) {
	return c.WritePolicy.toInternal()
}

// Load reads and decodes a TOML file into cfg, starting from Default()
// for any field the file omits.
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(&cfg)
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(path + ", " + err.Error())
	}
	return cfg, err
}

// Dump renders cfg back to TOML, the counterpart to cmd/berith's
// `dumpconfig` command.
func Dump(w io.Writer, cfg Config) error {
	out, err := tomlSettings.Marshal(&cfg)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}
