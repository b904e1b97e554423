package influxdb

import (
	"fmt"
	"math"
	"net"
	"sort"
	"time"

	"github.com/influxdata/line-protocol/v2/lineprotocol"

	"github.com/statspipe/statspipe"
	"github.com/statspipe/statspipe/logger"
	"github.com/statspipe/statspipe/plugins/outputs"
)

// InfluxDB pushes samples over UDP in line protocol, one point per sample
// with the bucket as the measurement.
type InfluxDB struct {
	// Hosts receive every point, "host:port" each.
	Hosts []string `toml:"hosts"`

	Log statspipe.Logger `toml:"-"`

	conns []net.Conn
}

func (i *InfluxDB) Init() error {
	if i.Log == nil {
		i.Log = logger.New("outputs.influxdb")
	}
	if len(i.Hosts) == 0 {
		return fmt.Errorf("influxdb output needs at least one host")
	}
	return nil
}

func (i *InfluxDB) Connect() error {
	for _, host := range i.Hosts {
		conn, err := net.Dial("udp", host)
		if err != nil {
			return fmt.Errorf("resolving influxdb host %s: %w", host, err)
		}
		i.conns = append(i.conns, conn)
	}
	return nil
}

func (i *InfluxDB) Close() error {
	var firstErr error
	for _, conn := range i.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	i.conns = nil
	return firstErr
}

func (i *InfluxDB) Write(batch []statspipe.Sample) error {
	var enc lineprotocol.Encoder
	enc.SetPrecision(lineprotocol.Millisecond)
	for _, sample := range batch {
		encodeSample(&enc, sample)
	}
	if err := enc.Err(); err != nil {
		return fmt.Errorf("encoding line protocol: %w", err)
	}
	payload := enc.Bytes()
	if len(payload) == 0 {
		return nil
	}
	for _, conn := range i.conns {
		if _, err := conn.Write(payload); err != nil {
			return fmt.Errorf("writing to influxdb: %w", err)
		}
	}
	return nil
}

func encodeSample(enc *lineprotocol.Encoder, sample statspipe.Sample) {
	enc.StartLine(sample.Bucket)

	// The encoder wants tag keys in lexical order.
	keys := make([]string, 0, len(sample.Metadata))
	for k := range sample.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		enc.AddTag(k, sample.Metadata[k])
	}

	fields := sample.Values.Fields()
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		// NaN and Inf have no line-protocol representation.
		if v, ok := lineprotocol.NewValue(fields[name]); ok {
			enc.AddField(name, v)
		}
	}

	enc.EndLine(time.UnixMilli(int64(math.Round(sample.Timestamp * 1000))))
}

func init() {
	outputs.Add("influxdb", func() statspipe.Output {
		return &InfluxDB{
			Hosts: []string{"127.0.0.1:8089"},
		}
	})
}
