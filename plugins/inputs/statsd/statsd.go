package statsd

import (
	"errors"
	"math"
	"net"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/statspipe/statspipe"
	"github.com/statspipe/statspipe/config"
	"github.com/statspipe/statspipe/internal/selfstat"
	"github.com/statspipe/statspipe/logger"
	"github.com/statspipe/statspipe/plugins/inputs"
)

const (
	// udpMaxPacketSize is the UDP packet limit, see
	// https://en.wikipedia.org/wiki/User_Datagram_Protocol#Packet_structure
	udpMaxPacketSize int = 64 * 1024

	defaultProtocol            = "udp"
	defaultAllowPendingPackets = 10000
	internalStatsBucket        = "statspipe"

	// Client timestamps above this (seconds from epoch to 1 Jan 2050) are
	// taken to be milliseconds.
	millisecondCutoff = 2524608000
)

var errRateRange = errors.New("sample rate out of range")

var (
	// One tag, "ident:value" or "ident=value". Part of the wire contract.
	tagRegex = regexp.MustCompile(`^([a-zA-Z][a-zA-Z0-9_]*)[:=]([a-zA-Z0-9_:=\-+@?#./%<>*;&\[\]]+)$`)

	// Metric names and bucket overrides must be identifiers.
	identRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)
)

type Statsd struct {
	// Address & Port to serve from
	ServiceAddress string `toml:"service_address"`

	ReadBufferSize int `toml:"read_buffer_size"`

	// Number of datagrams allowed to queue up between the listener and the
	// aggregation loop. When full, packets get dropped until the loop
	// catches up.
	AllowedPendingPackets int `toml:"allowed_pending_packets"`

	// FlushTime is the interval between materializations of the
	// aggregation tables into emitted samples.
	FlushTime config.Duration `toml:"flush_time"`

	// PercentileThresholds specifies the percentiles calculated for timers,
	// each in (0, 100].
	PercentileThresholds []float64 `toml:"percentile_thresholds"`

	// TimestampWindow is how far a client-supplied timestamp tag may drift
	// from the receive clock before the line is rejected.
	TimestampWindow config.Duration `toml:"timestamp_window"`

	// Per-kind eviction thresholds. A key silent for longer than its kind's
	// timeout is dropped at the next flush.
	CountersTimeout   config.Duration `toml:"counters_timeout"`
	GaugesTimeout     config.Duration `toml:"gauges_timeout"`
	SetsTimeout       config.Duration `toml:"sets_timeout"`
	TimersTimeout     config.Duration `toml:"timers_timeout"`
	HistogramsTimeout config.Duration `toml:"histograms_timeout"`

	// Default destination buckets, overridable per line with the reserved
	// "bucket" tag.
	CountersBucket   string `toml:"counters_bucket"`
	GaugesBucket     string `toml:"gauges_bucket"`
	SetsBucket       string `toml:"sets_bucket"`
	TimersBucket     string `toml:"timers_bucket"`
	HistogramsBucket string `toml:"histograms_bucket"`

	IgnoreInternalStats bool `toml:"ignore_internal_stats"`

	// Selector assigns histogram samples to labelled buckets. Supplied as
	// code-level configuration by the embedding program; histogram samples
	// are dropped when nil.
	Selector HistogramSelector `toml:"-"`

	Log statspipe.Logger `toml:"-"`

	// clk is swapped for a mock in tests.
	clk clock.Clock

	in   chan packet
	done chan struct{}
	wg   sync.WaitGroup
	conn *net.UDPConn
	em   statspipe.Emitter

	// Aggregation tables, keyed by the canonical sorted-tag key. Owned by
	// the run goroutine; a key lives in at most one table at a time.
	counters   map[string]*counterState
	gauges     map[string]*gaugeState
	sets       map[string]*setState
	timers     map[string]*timerState
	histograms map[string]*histogramState

	// epoch anchors the monotonic flush clock; prevFlush is the monotonic
	// time of the previous flush in seconds.
	epoch     time.Time
	prevFlush float64

	drops int

	stats          *selfstat.Registry
	packetsRecv    selfstat.Stat
	bytesRecv      selfstat.Stat
	packetsDrop    selfstat.Stat
	decodeErrors   selfstat.Stat
	linesIgnored   selfstat.Stat
	linesDropped   selfstat.Stat
	samplesDropped selfstat.Stat
	selectorMiss   selfstat.Stat
}

// packet is one received datagram with its receive timestamp in seconds,
// rounded to milliseconds.
type packet struct {
	data   []byte
	recvTS float64
}

type counterState struct {
	lastRecv float64
	clientTS float64
	metadata map[string]string
	value    float64
}

type gaugeState struct {
	lastRecv float64
	clientTS float64
	metadata map[string]string
	value    float64
}

type setState struct {
	lastRecv float64
	clientTS float64
	metadata map[string]string
	values   map[string]struct{}
}

type timerState struct {
	lastRecv float64
	clientTS float64
	metadata map[string]string
	values   []float64
}

type histogramState struct {
	lastRecv float64
	clientTS float64
	metadata map[string]string
	classify BucketClassifier
	buckets  map[string]*histogramBucket
}

type histogramBucket struct {
	n          int64
	sum        float64
	sumSquares float64
	min        float64
	max        float64
}

func (s *Statsd) Init() error {
	if s.Log == nil {
		s.Log = logger.New("inputs.statsd")
	}
	if s.clk == nil {
		s.clk = clock.New()
	}
	if s.FlushTime <= 0 {
		s.FlushTime = config.Duration(10 * time.Second)
	}

	// De-duplicate and sort the percentile thresholds; values outside
	// (0, 100] are discarded.
	seen := make(map[float64]bool)
	thresholds := make([]float64, 0, len(s.PercentileThresholds))
	for _, t := range s.PercentileThresholds {
		if t <= 0 || t > 100 || seen[t] {
			continue
		}
		seen[t] = true
		thresholds = append(thresholds, t)
	}
	sort.Float64s(thresholds)
	s.PercentileThresholds = thresholds

	return nil
}

// initState sets up the aggregation tables and internal counters.
func (s *Statsd) initState(em statspipe.Emitter) {
	s.em = em

	s.counters = make(map[string]*counterState)
	s.gauges = make(map[string]*gaugeState)
	s.sets = make(map[string]*setState)
	s.timers = make(map[string]*timerState)
	s.histograms = make(map[string]*histogramState)

	s.stats = selfstat.NewRegistry("statsd")
	s.packetsRecv = s.stats.Register("packets_received")
	s.bytesRecv = s.stats.Register("bytes_received")
	s.packetsDrop = s.stats.Register("packets_dropped")
	s.decodeErrors = s.stats.Register("decode_errors")
	s.linesIgnored = s.stats.Register("lines_ignored")
	s.linesDropped = s.stats.Register("lines_dropped")
	s.samplesDropped = s.stats.Register("samples_dropped")
	s.selectorMiss = s.stats.Register("selector_misses")
}

func (s *Statsd) Start(em statspipe.Emitter) error {
	s.initState(em)

	s.in = make(chan packet, s.AllowedPendingPackets)
	s.done = make(chan struct{})
	s.epoch = s.clk.Now()
	s.prevFlush = 0

	address, err := net.ResolveUDPAddr(defaultProtocol, s.ServiceAddress)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP(defaultProtocol, address)
	if err != nil {
		return err
	}
	s.Log.Infof("UDP listening on %q", conn.LocalAddr().String())
	s.conn = conn

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.udpListen(conn)
	}()
	go func() {
		defer s.wg.Done()
		s.run()
	}()
	return nil
}

// Gather is a no-op; the service flushes itself on its own schedule.
func (s *Statsd) Gather(statspipe.Emitter) error {
	return nil
}

func (s *Statsd) Stop() {
	s.Log.Infof("Stopping the statsd service")
	close(s.done)
	if s.conn != nil {
		s.conn.Close()
	}
	s.wg.Wait()
	s.Log.Infof("Stopped statsd service on %q", s.ServiceAddress)
}

// udpListen reads datagrams off the socket and hands them to the aggregation
// loop. It never touches the tables itself.
func (s *Statsd) udpListen(conn *net.UDPConn) {
	if s.ReadBufferSize > 0 {
		if err := conn.SetReadBuffer(s.ReadBufferSize); err != nil {
			s.Log.Errorf("Setting read buffer failed: %s", err.Error())
		}
	}

	buf := make([]byte, udpMaxPacketSize)
	for {
		select {
		case <-s.done:
			return
		default:
			n, _, err := conn.ReadFromUDP(buf)
			if err != nil {
				if !strings.Contains(err.Error(), "closed network") {
					s.Log.Errorf("Error reading: %s", err.Error())
					continue
				}
				return
			}
			s.packetsRecv.Incr(1)
			s.bytesRecv.Incr(int64(n))

			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case s.in <- packet{data: data, recvTS: wallSeconds(s.clk.Now())}:
			default:
				s.packetsDrop.Incr(1)
				s.drops++
				if s.drops == 1 || s.AllowedPendingPackets == 0 || s.drops%s.AllowedPendingPackets == 0 {
					s.Log.Errorf("Statsd message queue full. "+
						"We have dropped %d messages so far. "+
						"You may want to increase allowed_pending_packets in the config", s.drops)
				}
			}
		}
	}
}

// run owns the aggregation tables. Packet handling and the flush tick are
// multiplexed on one goroutine, so updates need no locking.
func (s *Statsd) run() {
	ticker := s.clk.Ticker(time.Duration(s.FlushTime))
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			// Drain whatever the listener got in before the socket
			// closed, then flush one last time.
			for {
				select {
				case pkt := <-s.in:
					s.handlePacket(pkt)
					continue
				default:
				}
				break
			}
			now := s.clk.Now()
			s.flush(now.Sub(s.epoch).Seconds(), wallSeconds(now))
			return
		case pkt := <-s.in:
			s.handlePacket(pkt)
		case now := <-ticker.C:
			s.flush(now.Sub(s.epoch).Seconds(), wallSeconds(now))
		}
	}
}

// handlePacket decodes one datagram as ASCII and dispatches its lines.
// Non-ASCII bytes drop the whole datagram.
func (s *Statsd) handlePacket(pkt packet) {
	for _, b := range pkt.data {
		if b >= 0x80 {
			s.decodeErrors.Incr(1)
			return
		}
	}
	for _, line := range strings.Split(string(pkt.data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		s.handleLine(pkt.recvTS, line)
	}
}

func (s *Statsd) handleLine(recvTS float64, line string) {
	// DataDog service checks and events are accepted and dropped.
	if strings.HasPrefix(line, "sc|") || strings.HasPrefix(line, "_e{") {
		s.linesIgnored.Incr(1)
		return
	}

	clientTS, body, metadata, ok := s.parseMetadata(recvTS, line)
	if !ok || body == "" {
		s.linesDropped.Incr(1)
		return
	}

	bits := strings.Split(body, ":")
	if len(bits) < 2 {
		s.Log.Debugf("Splitting ':', unable to parse line: %s", line)
		s.linesDropped.Incr(1)
		return
	}
	name := bits[0]
	if !identRegex.MatchString(name) {
		s.Log.Debugf("Invalid metric name %q", name)
		s.linesDropped.Incr(1)
		return
	}
	metadata["name"] = name
	key := canonicalKey(metadata)

	// A line may carry several samples, possibly of mixed types; a bad one
	// does not discard its siblings.
	for _, sample := range bits[1:] {
		if !strings.Contains(sample, "|") {
			continue
		}
		fields := strings.Split(sample, "|")
		valstr := fields[0]
		if valstr == "" {
			continue
		}
		typestr := fields[1]
		ratestr := ""
		if len(fields) > 2 {
			ratestr = fields[2]
		}

		var err error
		switch typestr {
		case "ms":
			err = s.handleTimer(recvTS, clientTS, key, metadata, valstr)
		case "h":
			err = s.handleHistogram(recvTS, clientTS, key, metadata, valstr)
		case "g":
			err = s.handleGauge(recvTS, clientTS, key, metadata, valstr)
		case "s":
			s.handleSet(recvTS, clientTS, key, metadata, valstr)
		default:
			// Unrecognized type codes count.
			err = s.handleCounter(recvTS, clientTS, key, metadata, valstr, ratestr)
		}
		if err != nil {
			s.samplesDropped.Incr(1)
		}
	}
}

// parseMetadata splits the optional "|#tag,tag,..." suffix off a line and
// validates every tag. A client "timestamp" tag is reconciled against the
// receive clock; a "bucket" tag must be an identifier. Returns ok=false when
// the whole line must be dropped.
func (s *Statsd) parseMetadata(recvTS float64, line string) (clientTS float64, body string, metadata map[string]string, ok bool) {
	metadata = make(map[string]string)
	idx := strings.Index(line, "|#")
	if idx < 0 {
		return 0, line, metadata, true
	}
	body = line[:idx]
	for _, tag := range strings.Split(line[idx+2:], ",") {
		m := tagRegex.FindStringSubmatch(tag)
		if m == nil {
			s.Log.Debugf("Invalid tag %q", tag)
			return 0, "", nil, false
		}
		k, v := m[1], m[2]
		switch k {
		case "timestamp":
			ts, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return 0, "", nil, false
			}
			if ts > millisecondCutoff {
				ts /= 1000
			}
			if math.Abs(recvTS-ts) > s.TimestampWindow.Seconds() {
				return 0, "", nil, false
			}
			clientTS = math.Round(ts*1000) / 1000
		case "bucket":
			if !identRegex.MatchString(v) {
				return 0, "", nil, false
			}
			metadata[k] = v
		default:
			metadata[k] = v
		}
	}
	return clientTS, body, metadata, true
}

func (s *Statsd) handleCounter(recvTS, clientTS float64, key string, metadata map[string]string, valstr, ratestr string) error {
	val, err := strconv.ParseFloat(valstr, 64)
	if err != nil {
		return err
	}
	if strings.HasPrefix(ratestr, "@") && len(ratestr) > 1 {
		rate, err := strconv.ParseFloat(ratestr[1:], 64)
		if err != nil {
			return err
		}
		if rate <= 0 || rate > 1 {
			return errRateRange
		}
		val /= rate
	}
	st, found := s.counters[key]
	if !found {
		s.claimKey(kindCounter, key)
		st = &counterState{metadata: copyMetadata(metadata)}
		s.counters[key] = st
	}
	st.value += val
	st.lastRecv = recvTS
	st.clientTS = clientTS
	return nil
}

func (s *Statsd) handleGauge(recvTS, clientTS float64, key string, metadata map[string]string, valstr string) error {
	val, err := strconv.ParseFloat(valstr, 64)
	if err != nil {
		return err
	}
	delta := valstr[0] == '+' || valstr[0] == '-'
	st, found := s.gauges[key]
	if !found {
		s.claimKey(kindGauge, key)
		st = &gaugeState{metadata: copyMetadata(metadata)}
		s.gauges[key] = st
	}
	if delta && found {
		st.value += val
	} else {
		st.value = val
	}
	st.lastRecv = recvTS
	st.clientTS = clientTS
	return nil
}

func (s *Statsd) handleSet(recvTS, clientTS float64, key string, metadata map[string]string, valstr string) {
	st, found := s.sets[key]
	if !found {
		s.claimKey(kindSet, key)
		st = &setState{
			metadata: copyMetadata(metadata),
			values:   make(map[string]struct{}),
		}
		s.sets[key] = st
	}
	// Set members are compared as strings, not numerically.
	st.values[valstr] = struct{}{}
	st.lastRecv = recvTS
	st.clientTS = clientTS
}

func (s *Statsd) handleTimer(recvTS, clientTS float64, key string, metadata map[string]string, valstr string) error {
	val, err := strconv.ParseFloat(valstr, 64)
	if err != nil {
		return err
	}
	st, found := s.timers[key]
	if !found {
		s.claimKey(kindTimer, key)
		st = &timerState{metadata: copyMetadata(metadata)}
		s.timers[key] = st
	}
	st.values = append(st.values, val)
	st.lastRecv = recvTS
	st.clientTS = clientTS
	return nil
}

func (s *Statsd) handleHistogram(recvTS, clientTS float64, key string, metadata map[string]string, valstr string) error {
	val, err := strconv.ParseFloat(valstr, 64)
	if err != nil {
		return err
	}
	st, found := s.histograms[key]
	if !found {
		if s.Selector == nil {
			s.selectorMiss.Incr(1)
			return nil
		}
		classify, ok := s.Selector.Select(metadata)
		if !ok {
			s.selectorMiss.Incr(1)
			return nil
		}
		s.claimKey(kindHistogram, key)
		st = &histogramState{
			metadata: copyMetadata(metadata),
			classify: classify,
			buckets:  make(map[string]*histogramBucket),
		}
		s.histograms[key] = st
	}
	for _, label := range st.classify.Buckets(val) {
		b, ok := st.buckets[label]
		if !ok {
			b = &histogramBucket{}
			st.buckets[label] = b
		}
		if b.n == 0 {
			b.min, b.max = val, val
		} else {
			b.min = math.Min(b.min, val)
			b.max = math.Max(b.max, val)
		}
		b.n++
		b.sum += val
		b.sumSquares += val * val
	}
	st.lastRecv = recvTS
	st.clientTS = clientTS
	return nil
}

type metricKind int

const (
	kindCounter metricKind = iota
	kindGauge
	kindSet
	kindTimer
	kindHistogram
)

// claimKey keeps the kind tables disjoint: when a key is first seen under a
// new kind, whatever the other kinds held for it is discarded.
func (s *Statsd) claimKey(kind metricKind, key string) {
	if kind != kindCounter {
		delete(s.counters, key)
	}
	if kind != kindGauge {
		delete(s.gauges, key)
	}
	if kind != kindSet {
		delete(s.sets, key)
	}
	if kind != kindTimer {
		delete(s.timers, key)
	}
	if kind != kindHistogram {
		delete(s.histograms, key)
	}
}

// canonicalKey derives the key identifying one aggregated series: the tags,
// name included, sorted by tag name. Wire order of tags does not matter.
func canonicalKey(metadata map[string]string) string {
	tags := make([]string, 0, len(metadata))
	for k, v := range metadata {
		tags = append(tags, k+"="+v)
	}
	sort.Strings(tags)
	return strings.Join(tags, ",")
}

func copyMetadata(metadata map[string]string) map[string]string {
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}

// wallSeconds converts a wall-clock time to epoch seconds rounded to
// millisecond resolution.
func wallSeconds(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000
}

func init() {
	inputs.Add("statsd", func() statspipe.Input {
		return &Statsd{
			ServiceAddress:        ":8125",
			AllowedPendingPackets: defaultAllowPendingPackets,
			FlushTime:             config.Duration(10 * time.Second),
			TimestampWindow:       config.Duration(600 * time.Second),
			CountersTimeout:       config.Duration(300 * time.Second),
			GaugesTimeout:         config.Duration(3600 * time.Second),
			SetsTimeout:           config.Duration(300 * time.Second),
			TimersTimeout:         config.Duration(300 * time.Second),
			HistogramsTimeout:     config.Duration(300 * time.Second),
			CountersBucket:        "counters",
			GaugesBucket:          "gauges",
			SetsBucket:            "sets",
			TimersBucket:          "timers",
			HistogramsBucket:      "histograms",
		}
	})
}
