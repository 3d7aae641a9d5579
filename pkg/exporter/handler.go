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

package exporter

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

const (
	internalMetricsPath = "/internal/metrics"
	healthPath          = "/healthz"
)

// Handler serves aggregated telemetry on the metrics path, the exporter's own
// metrics on /internal/metrics and a transport health check on /healthz.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(s.config.MetricsPath, s.serveMetrics)
	mux.Handle(internalMetricsPath, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc(healthPath, s.serveHealth)

	return mux
}

func (s *Service) serveMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)

		return
	}

	body, err := s.collector.Render()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to render metrics")
		http.Error(w, "failed to render metrics", http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodGet {
		if _, err := w.Write(body); err != nil {
			s.logger.Debug().Err(err).Msg("Metrics client went away")
		}
	}
}

func (s *Service) serveHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	session := s.session
	s.mu.Unlock()

	if session == nil || session.Closed() || !session.Conn().IsConnected() {
		http.Error(w, "transport disconnected", http.StatusServiceUnavailable)

		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
