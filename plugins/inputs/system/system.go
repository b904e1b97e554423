package system

import (
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	gopsnet "github.com/shirou/gopsutil/v4/net"

	"github.com/statspipe/statspipe"
	"github.com/statspipe/statspipe/logger"
	"github.com/statspipe/statspipe/plugins/inputs"
)

// System polls host cpu, memory, filesystem and interface counters.
type System struct {
	// Filesystem types and interfaces can be filtered. A whitelist, when
	// set, wins over the blacklist.
	FilesystemBlacklist []string `toml:"filesystem_blacklist"`
	FilesystemWhitelist []string `toml:"filesystem_whitelist"`
	InterfaceBlacklist  []string `toml:"interface_blacklist"`
	InterfaceWhitelist  []string `toml:"interface_whitelist"`

	Log statspipe.Logger `toml:"-"`
}

func (s *System) Init() error {
	if s.Log == nil {
		s.Log = logger.New("inputs.system")
	}
	return nil
}

func (s *System) Gather(em statspipe.Emitter) error {
	now := float64(time.Now().UnixMilli()) / 1000
	var batch []statspipe.Sample
	batch = s.gatherCPU(batch, now)
	batch = s.gatherMemory(batch, now)
	batch = s.gatherFilesystems(batch, now)
	batch = s.gatherInterfaces(batch, now)
	if len(batch) > 0 {
		em.Emit(batch)
	}
	return nil
}

func (s *System) gatherCPU(batch []statspipe.Sample, now float64) []statspipe.Sample {
	times, err := cpu.Times(true)
	if err != nil {
		s.Log.Debugf("Reading cpu times: %s", err.Error())
		return batch
	}
	for _, t := range times {
		batch = append(batch, statspipe.Sample{
			Bucket: "system_cpu",
			Values: statspipe.Fields(map[string]float64{
				"user":    t.User,
				"nice":    t.Nice,
				"system":  t.System,
				"idle":    t.Idle,
				"iowait":  t.Iowait,
				"irq":     t.Irq,
				"softirq": t.Softirq,
				"steal":   t.Steal,
			}),
			Timestamp: now,
			Metadata:  map[string]string{"name": t.CPU},
		})
	}
	return batch
}

func (s *System) gatherMemory(batch []statspipe.Sample, now float64) []statspipe.Sample {
	vm, err := mem.VirtualMemory()
	if err != nil {
		s.Log.Debugf("Reading memory: %s", err.Error())
		return batch
	}
	return append(batch, statspipe.Sample{
		Bucket: "system_memory",
		Values: statspipe.Fields(map[string]float64{
			"total_bytes":     float64(vm.Total),
			"available_bytes": float64(vm.Available),
			"used_bytes":      float64(vm.Used),
			"free_bytes":      float64(vm.Free),
			"cached_bytes":    float64(vm.Cached),
		}),
		Timestamp: now,
		Metadata:  map[string]string{},
	})
}

func (s *System) gatherFilesystems(batch []statspipe.Sample, now float64) []statspipe.Sample {
	partitions, err := disk.Partitions(false)
	if err != nil {
		s.Log.Debugf("Reading partitions: %s", err.Error())
		return batch
	}
	for _, p := range partitions {
		if !allowed(p.Fstype, s.FilesystemWhitelist, s.FilesystemBlacklist) {
			continue
		}
		usage, err := disk.Usage(p.Mountpoint)
		if err != nil {
			s.Log.Debugf("Reading usage of %s: %s", p.Mountpoint, err.Error())
			continue
		}
		batch = append(batch, statspipe.Sample{
			Bucket: "system_filesystem",
			Values: statspipe.Fields(map[string]float64{
				"total_bytes": float64(usage.Total),
				"free_bytes":  float64(usage.Free),
				"used_bytes":  float64(usage.Used),
			}),
			Timestamp: now,
			Metadata: map[string]string{
				"name":       p.Device,
				"mountpoint": p.Mountpoint,
				"fstype":     p.Fstype,
			},
		})
	}
	return batch
}

func (s *System) gatherInterfaces(batch []statspipe.Sample, now float64) []statspipe.Sample {
	counters, err := gopsnet.IOCounters(true)
	if err != nil {
		s.Log.Debugf("Reading interfaces: %s", err.Error())
		return batch
	}
	for _, c := range counters {
		if !allowed(c.Name, s.InterfaceWhitelist, s.InterfaceBlacklist) {
			continue
		}
		batch = append(batch, statspipe.Sample{
			Bucket: "system_interface",
			Values: statspipe.Fields(map[string]float64{
				"rx_bytes":   float64(c.BytesRecv),
				"rx_packets": float64(c.PacketsRecv),
				"rx_errors":  float64(c.Errin),
				"rx_dropped": float64(c.Dropin),
				"tx_bytes":   float64(c.BytesSent),
				"tx_packets": float64(c.PacketsSent),
				"tx_errors":  float64(c.Errout),
				"tx_dropped": float64(c.Dropout),
			}),
			Timestamp: now,
			Metadata:  map[string]string{"name": c.Name},
		})
	}
	return batch
}

func allowed(name string, whitelist, blacklist []string) bool {
	if len(whitelist) > 0 {
		for _, w := range whitelist {
			if name == w {
				return true
			}
		}
		return false
	}
	for _, b := range blacklist {
		if name == b {
			return false
		}
	}
	return true
}

func init() {
	inputs.Add("system", func() statspipe.Input {
		return &System{
			FilesystemBlacklist: []string{"tmpfs", "aufs", "rootfs", "devtmpfs"},
		}
	})
}
