package docker

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"github.com/statspipe/statspipe"
	"github.com/statspipe/statspipe/config"
	"github.com/statspipe/statspipe/logger"
	"github.com/statspipe/statspipe/plugins/inputs"
)

// Docker polls the engine API for per-container filesystem, cpu, memory and
// interface stats. Container labels pass through as sample metadata.
type Docker struct {
	Endpoint   string          `toml:"endpoint"`
	APIVersion string          `toml:"api_version"`
	Timeout    config.Duration `toml:"timeout"`

	Log statspipe.Logger `toml:"-"`

	client *client.Client
}

func (d *Docker) Init() error {
	if d.Log == nil {
		d.Log = logger.New("inputs.docker")
	}
	opts := []client.Opt{client.FromEnv}
	if d.Endpoint != "" {
		opts = append(opts, client.WithHost(d.Endpoint))
	}
	if d.APIVersion != "" {
		opts = append(opts, client.WithVersion(d.APIVersion))
	} else {
		opts = append(opts, client.WithAPIVersionNegotiation())
	}
	c, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return err
	}
	d.client = c
	return nil
}

func (d *Docker) Gather(em statspipe.Emitter) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(d.Timeout))
	defer cancel()
	now := float64(time.Now().UnixMilli()) / 1000

	containers, err := d.client.ContainerList(ctx, container.ListOptions{Size: true})
	if err != nil {
		// The engine being down is routine, not fatal.
		d.Log.Infof("Docker connection error, is docker running? (%s)", err.Error())
		return nil
	}

	var batch []statspipe.Sample
	for _, c := range containers {
		if c.State != "running" {
			continue
		}
		labels := make(map[string]string, len(c.Labels)+2)
		for k, v := range c.Labels {
			labels[k] = v
		}
		if _, ok := labels["docker_id"]; !ok && len(c.ID) >= 12 {
			labels["docker_id"] = c.ID[:12]
		}
		if _, ok := labels["docker_name"]; !ok && len(c.Names) > 0 {
			labels["docker_name"] = c.Names[0]
		}

		inspect, err := d.client.ContainerInspect(ctx, c.ID)
		if err != nil {
			d.Log.Debugf("Inspecting %s: %s", c.ID[:12], err.Error())
			continue
		}
		stats, err := d.readStats(ctx, c.ID)
		if err != nil {
			d.Log.Debugf("Reading stats of %s: %s", c.ID[:12], err.Error())
			continue
		}

		batch = appendFilesystem(batch, now, labels, c.SizeRootFs, c.SizeRw)
		var cpuPeriod, cpuQuota int64
		if inspect.HostConfig != nil {
			cpuPeriod = inspect.HostConfig.CPUPeriod
			cpuQuota = inspect.HostConfig.CPUQuota
		}
		batch = appendCPU(batch, now, labels, stats.CPUStats.CPUUsage.PercpuUsage, cpuPeriod, cpuQuota)
		batch = appendMemory(batch, now, labels, stats.MemoryStats)
		batch = appendInterfaces(batch, now, labels, stats.Networks)
	}
	if len(batch) > 0 {
		em.Emit(batch)
	}
	return nil
}

func (d *Docker) readStats(ctx context.Context, id string) (*container.StatsResponse, error) {
	resp, err := d.client.ContainerStatsOneShot(ctx, id)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var stats container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func appendFilesystem(batch []statspipe.Sample, now float64, labels map[string]string, totalSize, rwSize int64) []statspipe.Sample {
	return append(batch, statspipe.Sample{
		Bucket: "docker_filesystem",
		Values: statspipe.Fields(map[string]float64{
			"total_bytes": float64(totalSize),
			"used_bytes":  float64(rwSize),
		}),
		Timestamp: now,
		Metadata:  copyLabels(labels),
	})
}

func appendCPU(batch []statspipe.Sample, now float64, labels map[string]string, percpu []uint64, cpuPeriod, cpuQuota int64) []statspipe.Sample {
	if len(percpu) == 0 {
		return batch
	}
	// The engine reports usage in nanoseconds but quotas in microseconds.
	if cpuPeriod == 0 {
		cpuPeriod = 1000000
	}
	if cpuQuota == 0 {
		cpuQuota = cpuPeriod * int64(len(percpu))
	}
	limitPerSec := float64(1000000000) * float64(cpuQuota) / float64(cpuPeriod)

	for i, usage := range percpu {
		metadata := copyLabels(labels)
		metadata["name"] = strconv.Itoa(i)
		batch = append(batch, statspipe.Sample{
			Bucket:    "docker_cpu",
			Values:    statspipe.Fields(map[string]float64{"usage": float64(usage)}),
			Timestamp: now,
			Metadata:  metadata,
		})
	}
	return append(batch, statspipe.Sample{
		Bucket:    "docker_cpu",
		Values:    statspipe.Fields(map[string]float64{"limit_per_sec": limitPerSec}),
		Timestamp: now,
		Metadata:  copyLabels(labels),
	})
}

func appendMemory(batch []statspipe.Sample, now float64, labels map[string]string, stats container.MemoryStats) []statspipe.Sample {
	return append(batch, statspipe.Sample{
		Bucket: "docker_memory",
		Values: statspipe.Fields(map[string]float64{
			"used_bytes":  float64(stats.Usage),
			"limit_bytes": float64(stats.Limit),
		}),
		Timestamp: now,
		Metadata:  copyLabels(labels),
	})
}

func appendInterfaces(batch []statspipe.Sample, now float64, labels map[string]string, networks map[string]container.NetworkStats) []statspipe.Sample {
	for iface, stats := range networks {
		metadata := copyLabels(labels)
		metadata["name"] = iface
		batch = append(batch, statspipe.Sample{
			Bucket: "docker_interface",
			Values: statspipe.Fields(map[string]float64{
				"rx_bytes":   float64(stats.RxBytes),
				"rx_packets": float64(stats.RxPackets),
				"rx_errors":  float64(stats.RxErrors),
				"rx_dropped": float64(stats.RxDropped),
				"tx_bytes":   float64(stats.TxBytes),
				"tx_packets": float64(stats.TxPackets),
				"tx_errors":  float64(stats.TxErrors),
				"tx_dropped": float64(stats.TxDropped),
			}),
			Timestamp: now,
			Metadata:  metadata,
		})
	}
	return batch
}

func copyLabels(labels map[string]string) map[string]string {
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

func init() {
	inputs.Add("docker", func() statspipe.Input {
		return &Docker{
			Timeout: config.Duration(10 * time.Second),
		}
	})
}
