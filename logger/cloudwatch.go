package logger

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/goccy/go-json"
)

// PutMetricData accepts at most this many datums per call.
const maxDatums = 1000

type cloudWatchAPI interface {
	PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
	PutDashboard(ctx context.Context, in *cloudwatch.PutDashboardInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutDashboardOutput, error)
}

type cloudWatchSink struct {
	mu        sync.RWMutex
	api       cloudWatchAPI
	namespace string
	dashboard string
}

var cw = &cloudWatchSink{namespace: "RestBridge", dashboard: "RestBridge"}

// InitCloudWatch creates the CloudWatch client and its dashboard. An empty
// region falls back to AWS_REGION. On failure publishing stays disabled.
func InitCloudWatch(region, namespace, dashboard string) {
	log := GetLogger().WithComponent("cloudwatch")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}

	ctx := context.Background()
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.WithError(err).Warn("failed to load AWS configuration; CloudWatch metrics disabled")
		return
	}

	cw.configure(cloudwatch.NewFromConfig(cfg), namespace, dashboard)
	log.WithFields(Fields{"region": region, "namespace": namespace}).Info("initialized CloudWatch client")
	cw.putDashboard(ctx)
}

func (s *cloudWatchSink) configure(api cloudWatchAPI, namespace, dashboard string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.api = api
	if namespace != "" {
		s.namespace = namespace
	}
	if dashboard != "" {
		s.dashboard = dashboard
	}
}

func publishMetrics(ctx context.Context, data []cwtypes.MetricDatum) {
	cw.publish(ctx, data)
}

// publish sends data in batches. Without a client it is a no-op.
func (s *cloudWatchSink) publish(ctx context.Context, data []cwtypes.MetricDatum) {
	s.mu.RLock()
	api, namespace := s.api, s.namespace
	s.mu.RUnlock()
	if api == nil || len(data) == 0 {
		return
	}

	log := GetLogger().WithComponent("cloudwatch")
	for len(data) > 0 {
		n := min(len(data), maxDatums)
		batch := data[:n]
		data = data[n:]
		if _, err := api.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(namespace),
			MetricData: batch,
		}); err != nil {
			log.WithError(err).Warn("failed to publish CloudWatch metrics")
			return
		}
		log.WithFields(Fields{"metrics": metricNames(batch)}).Debug("published metrics to CloudWatch")
	}
}

func metricNames(data []cwtypes.MetricDatum) string {
	names := make([]string, 0, len(data))
	for _, d := range data {
		if d.MetricName != nil {
			names = append(names, *d.MetricName)
		}
	}
	return strings.Join(names, ",")
}

type widget struct {
	Type       string           `json:"type"`
	Width      int              `json:"width"`
	Height     int              `json:"height"`
	Properties widgetProperties `json:"properties"`
}

type widgetProperties struct {
	Metrics [][]string `json:"metrics"`
	Period  int        `json:"period"`
	Stat    string     `json:"stat"`
	Title   string     `json:"title"`
}

// dashboardBody lays out the host resources, the adapter counters and the
// per data type record flow that the runtime report publishes.
func dashboardBody(namespace string) ([]byte, error) {
	metric := func(title, stat string, series ...[]string) widget {
		rows := make([][]string, len(series))
		for i, s := range series {
			rows[i] = append([]string{namespace}, s...)
		}
		return widget{Type: "metric", Width: 12, Height: 6, Properties: widgetProperties{
			Metrics: rows, Period: 60, Stat: stat, Title: title,
		}}
	}
	counter := func(name string) []string { return []string{"Adapter", "Counter", name} }
	records := func(dataType string) []string { return []string{"Records", "DataType", dataType} }

	return json.Marshal(map[string][]widget{"widgets": {
		metric("Adapter host", "Average", []string{"CPUPercent"}, []string{"MemoryMB"}),
		metric("Broker traffic", "Maximum",
			counter("refreshes"), counter("refresh_errors"), counter("commands"), counter("command_errors")),
		metric("Records", "Sum", records("quote"), records("account"), records("opened_trade"), records("closed_trade"), records("candle")),
	}})
}

func (s *cloudWatchSink) putDashboard(ctx context.Context) {
	s.mu.RLock()
	api, namespace, name := s.api, s.namespace, s.dashboard
	s.mu.RUnlock()
	if api == nil {
		return
	}

	log := GetLogger().WithComponent("cloudwatch")
	body, err := dashboardBody(namespace)
	if err != nil {
		log.WithError(err).Warn("failed to build CloudWatch dashboard")
		return
	}
	if _, err := api.PutDashboard(ctx, &cloudwatch.PutDashboardInput{
		DashboardName: aws.String(name),
		DashboardBody: aws.String(string(body)),
	}); err != nil {
		log.WithError(err).Warn("failed to create CloudWatch dashboard")
	}
}
