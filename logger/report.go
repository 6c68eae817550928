package logger

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type flowStat struct {
	batches int64
	records int64
}

var (
	refreshes     int64
	refreshErrors int64
	commands      int64
	commandErrors int64
	warns         sync.Map // component -> *int64
	errs          sync.Map // component -> *int64
	flows         sync.Map // data type -> *flowStat
)

func bump(m *sync.Map, key string) {
	v, _ := m.LoadOrStore(key, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

func snapshot(m *sync.Map) map[string]int64 {
	out := map[string]int64{}
	m.Range(func(k, v any) bool {
		out[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	return out
}

func recordWarn(component string)  { bump(&warns, component) }
func recordError(component string) { bump(&errs, component) }

func recordFlow(dataType string, count int) {
	v, _ := flows.LoadOrStore(dataType, &flowStat{})
	fs := v.(*flowStat)
	atomic.AddInt64(&fs.batches, 1)
	atomic.AddInt64(&fs.records, int64(count))
}

// IncrementRefresh counts one polled endpoint refresh.
func IncrementRefresh(failed bool) {
	atomic.AddInt64(&refreshes, 1)
	if failed {
		atomic.AddInt64(&refreshErrors, 1)
	}
}

// IncrementCommand counts one trading command.
func IncrementCommand(failed bool) {
	atomic.AddInt64(&commands, 1)
	if failed {
		atomic.AddInt64(&commandErrors, 1)
	}
}

// StartReport begins periodic logging of system and adapter statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)

	flowData := map[string]map[string]int64{}
	flows.Range(func(k, v any) bool {
		fs := v.(*flowStat)
		flowData[k.(string)] = map[string]int64{
			"batches": atomic.LoadInt64(&fs.batches),
			"records": atomic.LoadInt64(&fs.records),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}
	var memUsed, diskUsed uint64
	if memStats != nil {
		memUsed = memStats.Used
	}
	if diskStats != nil {
		diskUsed = diskStats.Used
	}
	var bytesSent, bytesRecv uint64
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	counters := map[string]int64{
		"refreshes":      atomic.LoadInt64(&refreshes),
		"refresh_errors": atomic.LoadInt64(&refreshErrors),
		"commands":       atomic.LoadInt64(&commands),
		"command_errors": atomic.LoadInt64(&commandErrors),
	}

	fields := Fields{
		"warns":          snapshot(&warns),
		"errors":         snapshot(&errs),
		"flows":          flowData,
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    cpuPct,
		"memory_mb":      int64(memUsed) / 1024 / 1024,
		"disk_mb":        int64(diskUsed) / 1024 / 1024,
		"net_bytes_sent": int64(bytesSent),
		"net_bytes_recv": int64(bytesRecv),
	}
	for k, v := range counters {
		fields[k] = v
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	data := []cwtypes.MetricDatum{
		{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memUsed) / 1024 / 1024)},
		{MetricName: aws.String("DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(diskUsed) / 1024 / 1024)},
		{MetricName: aws.String("NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		{MetricName: aws.String("NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	}

	names := make([]string, 0, len(counters))
	for k := range counters {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, name := range names {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String("Adapter"),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{{Name: aws.String("Counter"), Value: aws.String(name)}},
			Value:      aws.Float64(float64(counters[name])),
		})
	}

	for name, stats := range flowData {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String("Records"),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{{Name: aws.String("DataType"), Value: aws.String(name)}},
			Value:      aws.Float64(float64(stats["records"])),
		})
	}

	publishMetrics(ctx, data)
}
