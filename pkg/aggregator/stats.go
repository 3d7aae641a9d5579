/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package aggregator

import "github.com/prometheus/client_golang/prometheus"

type statsCollector struct {
	collector *Collector

	received *prometheus.Desc
	accepted *prometheus.Desc
	filtered *prometheus.Desc
	series   *prometheus.Desc
}

// StatsCollector exposes the collector's own counters for registration on a
// prometheus.Registry.
func (c *Collector) StatsCollector() prometheus.Collector {
	ns := sanitizeMetricName(c.config.Namespace)

	return &statsCollector{
		collector: c,
		received: prometheus.NewDesc(prometheus.BuildFQName(ns, "aggregator", "points_received_total"),
			"Points offered to the aggregator.", nil, nil),
		accepted: prometheus.NewDesc(prometheus.BuildFQName(ns, "aggregator", "points_accepted_total"),
			"Points stored into a series.", nil, nil),
		filtered: prometheus.NewDesc(prometheus.BuildFQName(ns, "aggregator", "points_filtered_total"),
			"Points rejected by filters, value type or the series limit.", nil, nil),
		series: prometheus.NewDesc(prometheus.BuildFQName(ns, "aggregator", "series"),
			"Series currently held.", nil, nil),
	}
}

func (s *statsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- s.received
	ch <- s.accepted
	ch <- s.filtered
	ch <- s.series
}

func (s *statsCollector) Collect(ch chan<- prometheus.Metric) {
	stats := s.collector.Stats()

	ch <- prometheus.MustNewConstMetric(s.received, prometheus.CounterValue, float64(stats.PointsReceived))
	ch <- prometheus.MustNewConstMetric(s.accepted, prometheus.CounterValue, float64(stats.PointsAccepted))
	ch <- prometheus.MustNewConstMetric(s.filtered, prometheus.CounterValue, float64(stats.PointsFiltered))
	ch <- prometheus.MustNewConstMetric(s.series, prometheus.GaugeValue, float64(stats.SeriesCount))
}
