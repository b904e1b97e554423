package graphite

import (
	"bytes"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jpillora/backoff"

	"github.com/statspipe/statspipe"
	"github.com/statspipe/statspipe/config"
	"github.com/statspipe/statspipe/logger"
	"github.com/statspipe/statspipe/plugins/outputs"
)

// Graphite writes samples as plaintext lines ("path value timestamp") over
// TCP, with tags in the path ";key=value" form.
type Graphite struct {
	Address string `toml:"address"`

	// GlobalPrefix is glued in front of every path.
	GlobalPrefix string `toml:"global_prefix"`

	Timeout config.Duration `toml:"timeout"`

	// Reconnect backoff bounds.
	ReconnectDelay config.Duration `toml:"reconnect_delay"`
	BackoffFactor  float64         `toml:"backoff_factor"`
	BackoffMax     config.Duration `toml:"backoff_max"`

	Log statspipe.Logger `toml:"-"`

	conn net.Conn
	bo   *backoff.Backoff
}

func (g *Graphite) Init() error {
	if g.Log == nil {
		g.Log = logger.New("outputs.graphite")
	}
	g.bo = &backoff.Backoff{
		Min:    time.Duration(g.ReconnectDelay),
		Max:    time.Duration(g.BackoffMax),
		Factor: g.BackoffFactor,
		Jitter: true,
	}
	return nil
}

func (g *Graphite) Connect() error {
	conn, err := net.DialTimeout("tcp", g.Address, time.Duration(g.Timeout))
	if err != nil {
		return fmt.Errorf("connecting to graphite at %s: %w", g.Address, err)
	}
	g.conn = conn
	g.bo.Reset()
	return nil
}

func (g *Graphite) Close() error {
	if g.conn == nil {
		return nil
	}
	err := g.conn.Close()
	g.conn = nil
	return err
}

func (g *Graphite) Write(batch []statspipe.Sample) error {
	if g.conn == nil {
		// Lost the connection on a previous write; back off before
		// dialing again so a dead relay doesn't get hammered.
		time.Sleep(g.bo.Duration())
		if err := g.Connect(); err != nil {
			return err
		}
	}

	var buf bytes.Buffer
	for _, sample := range batch {
		g.serialize(&buf, sample)
	}

	g.conn.SetWriteDeadline(time.Now().Add(time.Duration(g.Timeout)))
	if _, err := g.conn.Write(buf.Bytes()); err != nil {
		g.conn.Close()
		g.conn = nil
		return fmt.Errorf("writing to graphite: %w", err)
	}
	return nil
}

func (g *Graphite) serialize(buf *bytes.Buffer, sample statspipe.Sample) {
	base := sample.Bucket + "." + sample.Name()
	if g.GlobalPrefix != "" {
		base = g.GlobalPrefix + "." + base
	}
	tags := tagSuffix(sample.Metadata)
	ts := int64(sample.Timestamp)

	if v, ok := sample.Values.Scalar(); ok {
		fmt.Fprintf(buf, "%s%s %s %d\n", base, tags, formatValue(v), ts)
		return
	}
	fields := sample.Values.Fields()
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(buf, "%s.%s%s %s %d\n", base, name, tags, formatValue(fields[name]), ts)
	}
}

// tagSuffix renders the non-name tags as the ";key=value" graphite form,
// sorted for stable paths.
func tagSuffix(metadata map[string]string) string {
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		if k == "name" {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(";")
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(metadata[k])
	}
	return sb.String()
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func init() {
	outputs.Add("graphite", func() statspipe.Output {
		return &Graphite{
			Address:        "127.0.0.1:2003",
			Timeout:        config.Duration(5 * time.Second),
			ReconnectDelay: config.Duration(1 * time.Second),
			BackoffFactor:  1.5,
			BackoffMax:     config.Duration(60 * time.Second),
		}
	})
}
