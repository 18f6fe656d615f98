// Package config implements the configuration options from spec §6,
// loaded from YAML the way the teacher's goneb.go loads its own config
// file.
package config

import (
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/davidwed/libkazv/devicelist"
)

// megOlmTimeLimitFloorMs is the minimum accepted MegOlmTimeLimitMs: below
// this, rotation would trigger on almost every send, defeating the
// ratchet's whole reuse purpose.
const megOlmTimeLimitFloorMs = 3600000

// Options holds the engine-wide configuration enumerated in spec §6.
type Options struct {
	MegOlmTimeLimitMs    int64               `yaml:"megOlmTimeLimitMs"`
	MegOlmMessageLimit   int                 `yaml:"megOlmMessageLimit"`
	SyncIntervalMs       int                 `yaml:"syncIntervalMs"`
	VerificationStrategy devicelist.Strategy `yaml:"verificationStrategy"`
	DefaultDeviceName    string              `yaml:"defaultDeviceName"`
}

// Default returns the options with spec §6's stated defaults.
func Default() Options {
	return Options{
		MegOlmTimeLimitMs:    604800000,
		MegOlmMessageLimit:   100,
		SyncIntervalMs:       2000,
		VerificationStrategy: devicelist.TrustIfNeverVerified,
		DefaultDeviceName:    "libkazv",
	}
}

// Validate clamps MegOlmTimeLimitMs to its floor and fills in zero-valued
// fields with defaults, logging a warning when a clamp occurs.
func (o Options) Validate(log *logrus.Entry) Options {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if o.MegOlmTimeLimitMs != 0 && o.MegOlmTimeLimitMs < megOlmTimeLimitFloorMs {
		log.WithFields(logrus.Fields{
			"configured_ms": o.MegOlmTimeLimitMs,
			"floor_ms":      megOlmTimeLimitFloorMs,
		}).Warn("megOlmTimeLimitMs below floor, clamping")
		o.MegOlmTimeLimitMs = megOlmTimeLimitFloorMs
	}
	d := Default()
	if o.MegOlmTimeLimitMs == 0 {
		o.MegOlmTimeLimitMs = d.MegOlmTimeLimitMs
	}
	if o.MegOlmMessageLimit == 0 {
		o.MegOlmMessageLimit = d.MegOlmMessageLimit
	}
	if o.SyncIntervalMs == 0 {
		o.SyncIntervalMs = d.SyncIntervalMs
	}
	if o.DefaultDeviceName == "" {
		o.DefaultDeviceName = d.DefaultDeviceName
	}
	return o
}

// Load reads YAML configuration from path, starting from Default() so
// any field the file omits keeps its default value.
func Load(path string, log *logrus.Entry) (Options, error) {
	opts := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Options{}, err
	}
	if err := yaml.Unmarshal(raw, &opts); err != nil {
		return Options{}, err
	}
	return opts.Validate(log), nil
}
