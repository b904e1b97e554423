package rename

import (
	"regexp"
	"strings"

	"github.com/statspipe/statspipe"
	"github.com/statspipe/statspipe/logger"
	"github.com/statspipe/statspipe/plugins/processors"
)

// Rename rewrites sample names and tags before they reach the outputs.
type Rename struct {
	// Prefix and Postfix are glued onto the name with Separator.
	Prefix    string `toml:"name_prefix"`
	Postfix   string `toml:"name_postfix"`
	Separator string `toml:"separator"`

	// ReplaceChar substitutes characters outside [A-Za-z0-9_] in the name.
	ReplaceChar string `toml:"name_replace_char"`

	// HostTrim removes the listed suffixes from the "host" tag, e.g. a
	// domain shared by the whole fleet.
	HostTrim []string `toml:"name_host_trim"`

	// Replace rewrites individual tag values.
	Replace []replaceOpts `toml:"replace"`

	Log statspipe.Logger `toml:"-"`

	disallowed *regexp.Regexp
}

type replaceOpts struct {
	Tag string
	Old string
	New string
}

func (r *Rename) Init() error {
	if r.Log == nil {
		r.Log = logger.New("processors.rename")
	}
	if r.Separator == "" {
		r.Separator = "_"
	}
	if r.ReplaceChar != "" {
		r.disallowed = regexp.MustCompile(`[^A-Za-z0-9_]`)
	}
	return nil
}

func (r *Rename) Apply(in ...statspipe.Sample) []statspipe.Sample {
	for i := range in {
		r.processSample(&in[i])
	}
	return in
}

func (r *Rename) processSample(sample *statspipe.Sample) {
	name := sample.Metadata["name"]
	if name == "" {
		return
	}
	if r.disallowed != nil {
		name = r.disallowed.ReplaceAllString(name, r.ReplaceChar)
	}
	if r.Prefix != "" {
		name = r.Prefix + r.Separator + name
	}
	if r.Postfix != "" {
		name = name + r.Separator + r.Postfix
	}
	sample.Metadata["name"] = name

	if host, ok := sample.Metadata["host"]; ok {
		for _, suffix := range r.HostTrim {
			host = strings.TrimSuffix(host, suffix)
		}
		sample.Metadata["host"] = host
	}

	for _, op := range r.Replace {
		if v, ok := sample.Metadata[op.Tag]; ok && v == op.Old {
			sample.Metadata[op.Tag] = op.New
		}
	}
}

func init() {
	processors.Add("rename", func() statspipe.Processor {
		return &Rename{}
	})
}
